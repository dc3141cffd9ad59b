// Package server runs the data process side of the coordinator boundary:
// newline-delimited JSON frames on stdin and stdout.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/data/content"
	"github.com/grovetools/appshell/internal/data/service"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

type selectRequest struct {
	ProjectDirectory interface{} `mapstructure:"projectDirectory"`
}

type loadRequest struct {
	Product interface{} `mapstructure:"product"`
	Force   interface{} `mapstructure:"force"`
}

// Server dispatches requests from the coordinator to the DataStore and
// forwards its alerts back. Each request runs on its own goroutine.
type Server struct {
	svc     *service.Service
	content *content.Service
	dec     *protocol.Decoder
	enc     *protocol.Encoder
	logger  *logrus.Entry

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New creates a server reading requests from in and writing responses
// and alerts to out.
func New(svc *service.Service, in io.Reader, out io.Writer) *Server {
	s := &Server{
		svc:     svc,
		content: content.New(svc, svc.Bus()),
		dec:     protocol.NewDecoder(in),
		enc:     protocol.NewEncoder(out),
		logger:  logging.NewLogger("data-server"),
	}
	alert.Forward(svc.Bus(), s)
	return s
}

// Send writes one message to the coordinator.
func (s *Server) Send(msg *protocol.Message) error {
	if s.closed.Load() {
		return io.ErrClosedPipe
	}
	if err := s.enc.Encode(msg); err != nil {
		s.closed.Store(true)
		return err
	}
	return nil
}

// Connected reports whether the output stream is still writable.
func (s *Server) Connected() bool {
	return !s.closed.Load()
}

// Serve reads frames until the input closes or ctx is cancelled. End of
// input is a normal shutdown and returns nil once in-flight requests have
// finished.
func (s *Server) Serve(ctx context.Context) error {
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan *protocol.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := s.dec.Decode()
			if err != nil {
				var frameErr *protocol.FrameError
				if stderrors.As(err, &frameErr) {
					s.logger.WithError(frameErr.Err).Warn("Dropping invalid frame")
					continue
				}
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-handlerCtx.Done():
				return
			}
		}
	}()

	var result error
loop:
	for {
		select {
		case msg := <-frames:
			s.handleMessage(handlerCtx, msg)
		case err := <-readErr:
			if err != io.EOF {
				result = fmt.Errorf("read from coordinator: %w", err)
			}
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	s.logger.Debug("Input closed, waiting for in-flight requests")
	cancel()
	s.wg.Wait()
	s.svc.Close()
	return result
}

func (s *Server) handleMessage(ctx context.Context, msg *protocol.Message) {
	if err := msg.Check(); err != nil {
		s.logger.WithError(err).WithField("cmd", msg.Cmd).Warn("Ignoring message")
		return
	}
	if msg.Cmd != protocol.CmdRequest {
		s.logger.WithField("cmd", msg.Cmd).Warn("Unexpected message from coordinator")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handleRequest(ctx, msg)
	}()
}

func (s *Server) handleRequest(ctx context.Context, msg *protocol.Message) {
	logger := s.logger.WithFields(logrus.Fields{"request_id": msg.RequestID, "type": msg.Type})
	logger.Debug("Handling request")

	payload, err := s.dispatch(ctx, msg)

	var status *protocol.Status
	if !protocol.IsContentRequest(msg.Type) {
		status = s.svc.Status()
	}

	var resp *protocol.Message
	if err != nil {
		logger.WithError(err).Error(protocol.DefaultMessage(msg.Type))
		resp = protocol.NewErrorResponse(msg.RequestID, err, status)
	} else {
		resp, err = protocol.NewResponse(msg.RequestID, payload, status)
		if err != nil {
			logger.WithError(err).Error("Failed to encode response")
			resp = protocol.NewErrorResponse(msg.RequestID, err, status)
		}
	}

	if err := s.Send(resp); err != nil {
		logger.WithError(err).Error("Failed to send response")
	}
}

func (s *Server) dispatch(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	switch {
	case msg.Type == protocol.DatabaseSelect:
		var req selectRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		dir, _ := req.ProjectDirectory.(string)
		return nil, s.svc.SelectDirectory(ctx, dir)

	case msg.Type == protocol.DatabaseUnload:
		s.svc.Unload()
		return nil, nil

	case msg.Type == protocol.DatabaseLoad:
		var req loadRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		var product *string
		switch p := req.Product.(type) {
		case nil:
		case string:
			product = &p
		default:
			name := fmt.Sprint(p)
			product = &name
		}
		force, _ := req.Force.(bool)
		// Loads and saves outlive the request context so that a shutdown
		// does not leave the store half populated.
		return nil, s.svc.Load(context.WithoutCancel(ctx), product, force)

	case msg.Type == protocol.DatabaseSave:
		return nil, s.svc.Save(context.WithoutCancel(ctx))

	case msg.Type == protocol.DatabaseStatus:
		return struct{}{}, nil

	case protocol.IsContentRequest(msg.Type):
		return s.content.Handle(ctx, msg.Type, msg.Payload)
	}
	return nil, errors.InvalidPayload()
}

func decodePayload(payload json.RawMessage, out interface{}) error {
	var raw map[string]interface{}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &raw); err != nil {
			return errors.InvalidPayload()
		}
	}
	if err := mapstructure.Decode(raw, out); err != nil {
		return errors.InvalidPayload()
	}
	return nil
}
