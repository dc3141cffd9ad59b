package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/grovetools/appshell/config"
	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/grovetools/appshell/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertLog struct {
	mu    sync.Mutex
	types []string
	last  Status
}

func (l *alertLog) record(msg *protocol.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, msg.Type)
	_ = msg.DecodePayload(&l.last)
}

func newManager(t *testing.T, baseURL string, installer Installer) (*Manager, *alertLog, *state.Store) {
	t.Helper()
	bus := alert.NewBus(nil)
	log := &alertLog{}
	bus.SubscribeAll(log.record)

	settings := state.NewStore(filepath.Join(t.TempDir(), "settings.yml"), nil)
	cfg := config.Config{Update: config.UpdateConfig{BaseURL: baseURL, ReleasesURL: "https://example.com/releases"}}
	cfg.SetDefaults()

	m := New(Options{
		Config:    cfg.Update,
		Version:   "1.2.0-beta.3",
		Platform:  "linux_amd64",
		Settings:  settings,
		Bus:       bus,
		Installer: installer,
	})
	return m, log, settings
}

func TestFeedURL(t *testing.T) {
	m, _, _ := newManager(t, "https://updates.example.com/", nil)
	assert.Equal(t, "https://updates.example.com/linux_amd64/1.2.0-beta.3/beta", m.FeedURL())
}

func TestUnsupportedWithoutFeed(t *testing.T) {
	m, log, _ := newManager(t, "", nil)
	assert.Equal(t, StateUnsupported, m.Status().State)

	res, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/releases", res.ReleasesURL)
	assert.Empty(t, log.types)

	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

func TestCheckNoUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/linux_amd64/1.2.0-beta.3/beta", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m, log, _ := newManager(t, srv.URL, nil)
	_, err := m.Check(context.Background())
	require.NoError(t, err)

	st := m.Status()
	assert.Equal(t, StateNoneAvailable, st.State)
	assert.Nil(t, st.UpdateVersion)
	assert.NotZero(t, st.Timestamp)
	assert.Equal(t, []string{protocol.AlertAppUpdateStatus, protocol.AlertAppUpdateStatus}, log.types)
}

func TestCheckAndInstall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"1.3.0-beta.1","notes":"Fixes.","url":"https://example.com/app.zip"}`))
	}))
	defer srv.Close()

	var installed Release
	m, log, _ := newManager(t, srv.URL, func(ctx context.Context, r Release) error {
		installed = r
		return nil
	})

	_, err := m.Check(context.Background())
	require.NoError(t, err)

	st := m.Status()
	assert.Equal(t, StateAvailable, st.State)
	require.NotNil(t, st.UpdateVersion)
	assert.Equal(t, "1.3.0-beta.1", *st.UpdateVersion)
	require.NotNil(t, st.ReleaseNotes)
	assert.Equal(t, "Fixes.", *st.ReleaseNotes)
	assert.Equal(t, StateAvailable, log.last.State)

	require.NoError(t, m.Install(context.Background()))
	assert.Equal(t, "https://example.com/app.zip", installed.URL)
}

func TestInstallWithoutUpdate(t *testing.T) {
	m, _, _ := newManager(t, "https://updates.example.com", func(context.Context, Release) error { return nil })
	err := m.Install(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUpdate))
}

func TestCheckFeedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, log, _ := newManager(t, srv.URL, nil)
	_, err := m.Check(context.Background())
	require.Error(t, err)

	st := m.Status()
	assert.Equal(t, StateError, st.State)
	require.NotNil(t, st.ErrorMessage)
	assert.Contains(t, *st.ErrorMessage, "500")
	assert.Equal(t, protocol.AlertAppUpdateError, log.types[len(log.types)-1])
}

func TestSelectChannel(t *testing.T) {
	m, log, settings := newManager(t, "https://updates.example.com", nil)

	err := m.SelectChannel("nightly")
	require.Error(t, err)
	assert.Equal(t, "Desired channel is not valid.", err.(*errors.AppError).Message)
	assert.False(t, m.Status().ChannelChanged)

	require.NoError(t, m.SelectChannel("alpha"))
	st := m.Status()
	assert.True(t, st.ChannelChanged)
	require.NotNil(t, st.Channel)
	assert.Equal(t, "alpha", *st.Channel)
	assert.Equal(t, []string{protocol.AlertAppUpdateStatus}, log.types)

	saved, err := settings.GetString(context.Background(), state.KeyChannel)
	require.NoError(t, err)
	assert.Equal(t, "alpha", saved)
	assert.Equal(t, "https://updates.example.com/linux_amd64/1.2.0-beta.3/alpha", m.FeedURL())
}

func TestStartUsesSavedChannel(t *testing.T) {
	m, _, settings := newManager(t, "https://updates.example.com", nil)
	m.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Request: r}, nil
	})}
	settings.Set(state.KeyChannel, "rc")

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	st := m.Status()
	require.NotNil(t, st.Channel)
	assert.Equal(t, "rc", *st.Channel)
	assert.False(t, st.ChannelChanged)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
