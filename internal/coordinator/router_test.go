package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/update"
	"github.com/grovetools/appshell/pkg/ipc"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/grovetools/appshell/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers requests through a real ipc.Channel so calls settle
// the same way they do against the data process.
type fakeBackend struct {
	mu       sync.Mutex
	channel  *ipc.Channel
	loaded   bool
	requests []*protocol.Message
	reply    func(req *protocol.Message) *protocol.Message
}

func newFakeBackend(reply func(req *protocol.Message) *protocol.Message) *fakeBackend {
	b := &fakeBackend{reply: reply}
	b.channel = ipc.NewChannel("fake", b)
	return b
}

func (b *fakeBackend) Send(msg *protocol.Message) error {
	b.mu.Lock()
	b.requests = append(b.requests, msg)
	b.mu.Unlock()
	go func() { _ = b.channel.HandleResponse(b.reply(msg)) }()
	return nil
}

func (b *fakeBackend) Connected() bool { return true }

func (b *fakeBackend) Go(requestType string, payload interface{}) *ipc.Call {
	return b.channel.Go(requestType, payload)
}

func (b *fakeBackend) IsLoaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

func (b *fakeBackend) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, r := range b.requests {
		out = append(out, r.Type)
	}
	return out
}

type fakeUpdater struct {
	channel string
	checked bool
}

func (u *fakeUpdater) Status() update.Status { return update.Status{State: update.StateIdle} }
func (u *fakeUpdater) Check(ctx context.Context) (*update.CheckResult, error) {
	u.checked = true
	return &update.CheckResult{}, nil
}
func (u *fakeUpdater) Install(ctx context.Context) error {
	return errors.New(errors.ErrCodeUpdate, "No downloaded update is available to install.")
}
func (u *fakeUpdater) SelectChannel(channel string) error {
	if channel != "beta" {
		return errors.New(errors.ErrCodeUpdate, "Desired channel is not valid.")
	}
	u.channel = channel
	return nil
}

func request(t *testing.T, id int64, requestType string, payload interface{}) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewRequest(id, requestType, payload)
	require.NoError(t, err)
	return msg
}

func okReply(req *protocol.Message) *protocol.Message {
	dir := "/proj"
	resp, _ := protocol.NewResponse(req.RequestID, nil, &protocol.Status{Timestamp: 1, ProjectDirectory: &dir})
	return resp
}

func errReply(req *protocol.Message) *protocol.Message {
	return protocol.NewErrorResponse(req.RequestID,
		errors.InvalidDirectory("Failed to select project directory, the directory is invalid."),
		&protocol.Status{Timestamp: 2})
}

func TestRouterForwardsStatus(t *testing.T) {
	r := NewRouter(newFakeBackend(okReply), nil, nil)
	resp := r.Handle(context.Background(), request(t, 7, protocol.DatabaseStatus, nil))
	require.NotNil(t, resp)
	assert.Equal(t, int64(7), resp.RequestID)
	assert.False(t, resp.Error)
	require.NotNil(t, resp.Status)
	assert.Equal(t, "/proj", *resp.Status.ProjectDirectory)
}

func TestRouterSelectPersistsDirectory(t *testing.T) {
	settings := newSettings(t)
	r := NewRouter(newFakeBackend(okReply), nil, settings)

	resp := r.Handle(context.Background(), request(t, 1, protocol.DatabaseSelect, map[string]string{"projectDirectory": "/proj"}))
	require.False(t, resp.Error)

	dir, err := settings.GetString(context.Background(), state.KeyProjectDirectory)
	require.NoError(t, err)
	assert.Equal(t, "/proj", dir)
}

func TestRouterFailedSelectClearsDirectory(t *testing.T) {
	ctx := context.Background()
	settings := newSettings(t)
	settings.Set(state.KeyProjectDirectory, "/old")
	require.NoError(t, settings.Save())

	r := NewRouter(newFakeBackend(errReply), nil, settings)

	// A different failed path leaves the persisted one alone.
	resp := r.Handle(ctx, request(t, 1, protocol.DatabaseSelect, map[string]string{"projectDirectory": "/other"}))
	require.True(t, resp.Error)
	dir, _ := settings.GetString(ctx, state.KeyProjectDirectory)
	assert.Equal(t, "/old", dir)

	resp = r.Handle(ctx, request(t, 2, protocol.DatabaseSelect, map[string]string{"projectDirectory": "/old"}))
	require.True(t, resp.Error)
	require.NotNil(t, resp.Status)
	assert.Equal(t, int64(2), resp.Status.Timestamp)
	assert.Equal(t, errors.ErrCodeInvalidDirectory, resp.Err().(*errors.AppError).Code)

	_, ok, err := settings.Get(ctx, state.KeyProjectDirectory)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouterUnknownType(t *testing.T) {
	r := NewRouter(newFakeBackend(okReply), nil, nil)
	resp := r.Handle(context.Background(), request(t, 3, "bogus", nil))
	require.True(t, resp.Error)
	appErr := resp.Err().(*errors.AppError)
	assert.Equal(t, errors.ErrCodeInvalidPayload, appErr.Code)
	assert.Equal(t, "Invalid Payload.", appErr.Message)
}

func TestRouterIgnoresMissingID(t *testing.T) {
	b := newFakeBackend(okReply)
	r := NewRouter(b, nil, nil)
	assert.Nil(t, r.Handle(context.Background(), &protocol.Message{Cmd: protocol.CmdRequest, Type: protocol.DatabaseStatus}))
	assert.Empty(t, b.types())
}

func TestRouterUpdateOps(t *testing.T) {
	u := &fakeUpdater{}
	r := NewRouter(newFakeBackend(okReply), u, nil)
	ctx := context.Background()

	resp := r.Handle(ctx, request(t, 1, protocol.AppUpdateStatus, nil))
	require.False(t, resp.Error)
	var st update.Status
	require.NoError(t, json.Unmarshal(resp.Payload, &st))
	assert.Equal(t, update.StateIdle, st.State)

	resp = r.Handle(ctx, request(t, 2, protocol.AppUpdateCheck, nil))
	require.False(t, resp.Error)
	assert.True(t, u.checked)

	resp = r.Handle(ctx, request(t, 3, protocol.AppUpdateChannelSelect, "beta"))
	require.False(t, resp.Error)
	assert.Equal(t, "beta", u.channel)

	resp = r.Handle(ctx, request(t, 4, protocol.AppUpdateChannelSelect, "nightly"))
	require.True(t, resp.Error)
	assert.Equal(t, "Desired channel is not valid.", resp.Err().(*errors.AppError).Message)

	resp = r.Handle(ctx, request(t, 5, protocol.AppUpdateInstall, nil))
	require.True(t, resp.Error)
	assert.Equal(t, errors.ErrCodeUpdate, resp.Err().(*errors.AppError).Code)
}

func TestRouterChannelSelectRejectsNonString(t *testing.T) {
	u := &fakeUpdater{}
	r := NewRouter(newFakeBackend(okReply), u, nil)

	resp := r.Handle(context.Background(), request(t, 1, protocol.AppUpdateChannelSelect, map[string]interface{}{"channel": "beta"}))
	require.True(t, resp.Error)
	appErr := resp.Err().(*errors.AppError)
	assert.Equal(t, errors.ErrCodeInvalidPayload, appErr.Code)
	assert.Equal(t, "Invalid Payload.", appErr.Message)
	assert.Empty(t, u.channel)
}

func TestRendererGoneUnloadsLoadedDatabase(t *testing.T) {
	b := newFakeBackend(okReply)
	r := NewRouter(b, nil, nil)

	r.RendererGone(context.Background())
	assert.Empty(t, b.types())

	b.loaded = true
	r.RendererGone(context.Background())
	assert.Equal(t, []string{protocol.DatabaseUnload}, b.types())
}
