package coordinator

import (
	"context"
	"encoding/json"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/update"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/ipc"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/grovetools/appshell/state"
	"github.com/grovetools/appshell/util/pathutil"
	"github.com/sirupsen/logrus"
)

// Backend forwards requests to the data process.
type Backend interface {
	Go(requestType string, payload interface{}) *ipc.Call
	IsLoaded() bool
}

// Updater is the update manager surface exposed to renderers.
type Updater interface {
	Status() update.Status
	Check(ctx context.Context) (*update.CheckResult, error)
	Install(ctx context.Context) error
	SelectChannel(channel string) error
}

// Router answers renderer requests.
type Router struct {
	data     Backend
	updates  Updater
	settings *state.Store
	logger   *logrus.Entry
}

// NewRouter creates a router. updates and settings may be nil.
func NewRouter(data Backend, updates Updater, settings *state.Store) *Router {
	return &Router{
		data:     data,
		updates:  updates,
		settings: settings,
		logger:   logging.NewLogger("router"),
	}
}

// Handle answers one request. Requests without an id get no response.
func (r *Router) Handle(ctx context.Context, req *protocol.Message) *protocol.Message {
	if req.RequestID <= 0 {
		r.logger.WithField("type", req.Type).Warn("Ignoring request without a requestId")
		return nil
	}

	switch {
	case protocol.IsAppRequest(req.Type):
		payload, err := r.handleUpdate(ctx, req)
		if err != nil {
			return r.fail(req, err, nil)
		}
		resp, err := protocol.NewResponse(req.RequestID, payload, nil)
		if err != nil {
			return r.fail(req, err, nil)
		}
		return resp

	case protocol.IsDatabaseRequest(req.Type), protocol.IsContentRequest(req.Type):
		return r.forward(ctx, req)
	}

	return r.fail(req, errors.InvalidPayload(), nil)
}

func (r *Router) handleUpdate(ctx context.Context, req *protocol.Message) (interface{}, error) {
	if r.updates == nil {
		return nil, errors.New(errors.ErrCodeUpdate, "Automatic updates are not available.")
	}

	switch req.Type {
	case protocol.AppUpdateStatus:
		return r.updates.Status(), nil
	case protocol.AppUpdateCheck:
		return r.updates.Check(ctx)
	case protocol.AppUpdateInstall:
		return nil, r.updates.Install(ctx)
	case protocol.AppUpdateChannelSelect:
		var channel string
		if err := req.DecodePayload(&channel); err != nil {
			return nil, errors.InvalidPayload()
		}
		return nil, r.updates.SelectChannel(channel)
	}
	return nil, errors.InvalidPayload()
}

// forward relays a request to the data process and passes its payload and
// status back unchanged.
func (r *Router) forward(ctx context.Context, req *protocol.Message) *protocol.Message {
	call := r.data.Go(req.Type, req.Payload)

	select {
	case <-call.Done:
	case <-ctx.Done():
		return r.fail(req, ctx.Err(), nil)
	}

	if req.Type == protocol.DatabaseSelect {
		r.rememberDirectory(ctx, req, call.Err)
	}

	if call.Err != nil {
		return r.fail(req, call.Err, call.Status)
	}
	resp, err := protocol.NewResponse(req.RequestID, call.Payload, call.Status)
	if err != nil {
		return r.fail(req, err, call.Status)
	}
	return resp
}

// rememberDirectory persists a successful selection, and forgets a failed
// one if it was the persisted directory.
func (r *Router) rememberDirectory(ctx context.Context, req *protocol.Message, selectErr error) {
	if r.settings == nil {
		return
	}

	var payload struct {
		ProjectDirectory interface{} `json:"projectDirectory"`
	}
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return
	}
	dir, ok := payload.ProjectDirectory.(string)
	if !ok {
		return
	}

	if selectErr == nil {
		r.settings.Set(state.KeyProjectDirectory, dir)
	} else {
		current, err := r.settings.GetString(ctx, state.KeyProjectDirectory)
		if err != nil || !pathutil.SamePath(current, dir) {
			return
		}
		r.settings.Delete(state.KeyProjectDirectory)
	}
	if err := r.settings.Save(); err != nil {
		r.logger.WithError(err).Warn("Failed to save settings")
	}
}

func (r *Router) fail(req *protocol.Message, err error, status *protocol.Status) *protocol.Message {
	message := protocol.DefaultMessage(req.Type)
	r.logger.WithError(err).WithField("type", req.Type).Error(message)

	if _, ok := errors.As(err); !ok {
		err = errors.Wrap(err, errors.ErrCodeInternal, message)
	}
	return protocol.NewErrorResponse(req.RequestID, err, status)
}

// RendererGone unloads the database once the last renderer has left.
func (r *Router) RendererGone(ctx context.Context) {
	if !r.data.IsLoaded() {
		return
	}
	call := r.data.Go(protocol.DatabaseUnload, nil)
	select {
	case <-call.Done:
	case <-ctx.Done():
		return
	}
	if call.Err != nil {
		r.logger.WithError(call.Err).Error(protocol.DefaultMessage(protocol.DatabaseUnload))
	}
}
