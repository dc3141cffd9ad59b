package coordinator

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/data/server"
	"github.com/grovetools/appshell/internal/data/service"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/grovetools/appshell/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "APPSHELL_COORDINATOR_HELPER"

// TestMain lets the test binary double as the data process.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "data":
		svc, err := service.New(service.Config{})
		if err != nil {
			os.Exit(2)
		}
		if err := server.New(svc, os.Stdin, os.Stdout).Serve(context.Background()); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	case "crash":
		os.Exit(3)
	}
	os.Exit(m.Run())
}

func helperCommand(t *testing.T, mode string) CommandFunc {
	home := t.TempDir()
	return func() (*exec.Cmd, error) {
		cmd := exec.Command(os.Args[0], "-test.run=^$")
		cmd.Env = append(os.Environ(), helperEnv+"="+mode, "APPSHELL_HOME="+home)
		return cmd, nil
	}
}

func makeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "alpha"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "beta"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha", "colors.json"),
		[]byte(`[{"name":"red"},{"name":"blue"}]`), 0644))
	return dir
}

func newSettings(t *testing.T) *state.Store {
	return state.NewStore(filepath.Join(t.TempDir(), "settings.yml"), nil)
}

func shutdown(t *testing.T, s *Supervisor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestSendBeforeInitialize(t *testing.T) {
	s := NewSupervisor(SupervisorOptions{Command: helperCommand(t, "data")})
	_, err := s.SendRequest(context.Background(), protocol.DatabaseStatus, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUninitialized))
}

func TestSupervisorLifecycle(t *testing.T) {
	fatal := make(chan *errors.AppError, 1)
	s := NewSupervisor(SupervisorOptions{
		Command:  helperCommand(t, "data"),
		Settings: newSettings(t),
		OnFatal:  func(err *errors.AppError) { fatal <- err },
	})
	ctx := context.Background()

	require.True(t, s.Initialize(ctx))
	assert.False(t, s.Initialize(ctx), "second initialize must be refused")
	assert.True(t, s.Connected())

	dir := makeProject(t)
	_, err := s.SendRequest(ctx, protocol.DatabaseSelect, map[string]interface{}{"projectDirectory": dir})
	require.NoError(t, err)

	st := s.Status()
	require.NotNil(t, st)
	assert.Equal(t, []string{"alpha", "beta"}, st.AvailableProducts)
	assert.False(t, s.IsLoaded())

	_, err = s.SendRequest(ctx, protocol.DatabaseLoad, map[string]interface{}{"product": "alpha", "force": false})
	require.NoError(t, err)
	assert.True(t, s.IsLoaded())

	raw, err := s.SendRequest(ctx, protocol.ContentQuery, map[string]interface{}{
		"collection": "product.colors",
		"type":       "find",
		"options":    map[string]interface{}{},
	})
	require.NoError(t, err)
	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &docs))
	assert.Len(t, docs, 2)

	shutdown(t, s)
	assert.True(t, s.Exit().Clean())

	_, err = s.SendRequest(ctx, protocol.DatabaseStatus, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeDisconnected))

	select {
	case err := <-fatal:
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
}

func TestAlertsDispatched(t *testing.T) {
	s := NewSupervisor(SupervisorOptions{Command: helperCommand(t, "data")})
	alerts := make(chan *protocol.Message, 16)
	s.Bus().Subscribe(protocol.AlertDBStatus, func(msg *protocol.Message) { alerts <- msg })

	require.True(t, s.Initialize(context.Background()))
	defer shutdown(t, s)

	_, err := s.SendRequest(context.Background(), protocol.DatabaseSelect,
		map[string]interface{}{"projectDirectory": makeProject(t)})
	require.NoError(t, err)

	select {
	case msg := <-alerts:
		require.NotNil(t, msg.Status)
		require.NotNil(t, msg.Status.ProjectDirectory)
	case <-time.After(5 * time.Second):
		t.Fatal("no status alert received")
	}
}

func TestReselectPersistedDirectory(t *testing.T) {
	settings := newSettings(t)
	dir := makeProject(t)
	settings.Set(state.KeyProjectDirectory, dir)
	require.NoError(t, settings.Save())

	s := NewSupervisor(SupervisorOptions{Command: helperCommand(t, "data"), Settings: settings})
	require.True(t, s.Initialize(context.Background()))
	defer shutdown(t, s)

	st := s.Status()
	require.NotNil(t, st)
	require.NotNil(t, st.ProjectDirectory)
	assert.Equal(t, dir, *st.ProjectDirectory)
}

func TestReselectFailureClearsSetting(t *testing.T) {
	settings := newSettings(t)
	settings.Set(state.KeyProjectDirectory, filepath.Join(t.TempDir(), "gone"))
	require.NoError(t, settings.Save())

	s := NewSupervisor(SupervisorOptions{Command: helperCommand(t, "data"), Settings: settings})
	require.True(t, s.Initialize(context.Background()))
	defer shutdown(t, s)

	_, ok, err := settings.Get(context.Background(), state.KeyProjectDirectory)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUncleanExitIsFatal(t *testing.T) {
	fatal := make(chan *errors.AppError, 1)
	s := NewSupervisor(SupervisorOptions{
		Command: helperCommand(t, "crash"),
		OnFatal: func(err *errors.AppError) { fatal <- err },
	})
	require.True(t, s.Initialize(context.Background()))

	select {
	case err := <-fatal:
		assert.Equal(t, errors.ErrCodeFatalProcess, err.Code)
		assert.Contains(t, err.Message, "Code: 3")
	case <-time.After(10 * time.Second):
		t.Fatal("fatal handler was not called")
	}

	<-s.Done()
	assert.False(t, s.Connected())
	_, err := s.SendRequest(context.Background(), protocol.DatabaseStatus, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeDisconnected))
}

func TestIsCleanExit(t *testing.T) {
	zero, two := 0, 2
	assert.True(t, IsCleanExit(nil, false))
	assert.True(t, IsCleanExit(&zero, false))
	assert.False(t, IsCleanExit(&two, false))
	assert.False(t, IsCleanExit(nil, true))
}

func TestDataCommandForwardsFlags(t *testing.T) {
	cmd, err := DataCommand("/tmp/appshell.yml", true, true)()
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "--config", "/tmp/appshell.yml", "--debug", "--timing"}, cmd.Args[1:])

	cmd, err = DataCommand("", false, false)()
	require.NoError(t, err)
	assert.Equal(t, []string{"data"}, cmd.Args[1:])
}
