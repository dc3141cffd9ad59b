// Package uiserver serves the renderer boundary: a websocket hub over a unix
// socket or TCP address.
package uiserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Hub states.
const (
	StateWaiting   = "waiting"
	StateConnected = "connected"
)

// Paths served by the hub.
const (
	PathSocket = "/ws"
	PathHealth = "/health"
)

const writeTimeout = 10 * time.Second

// Handler answers renderer requests.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Message) *protocol.Message
	RendererGone(ctx context.Context)
}

type conn struct {
	id  string
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *conn) write(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server is the websocket hub. It implements ipc.Transport for alerts:
// Send broadcasts to every renderer.
type Server struct {
	handler  Handler
	logger   *logrus.Entry
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	conns  map[string]*conn
	server *http.Server
	socket string
}

// New creates a hub dispatching requests to handler.
func New(handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler: handler,
		logger:  logging.NewLogger("uiserver"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*conn),
	}
}

// Handler returns the HTTP handler serving the websocket and health paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc(PathSocket, s.handleSocket)
	return mux
}

// Listen opens the boundary. network is "unix" or "tcp". A stale unix
// socket is removed first.
func (s *Server) Listen(network, address string) (net.Listener, error) {
	if network != "unix" {
		return net.Listen(network, address)
	}

	if _, err := os.Stat(address); err == nil {
		if err := os.Remove(address); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(address), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(address, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.socket = address
	s.mu.Unlock()
	return listener, nil
}

// Serve accepts renderers on listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.WithField("address", listener.Addr().String()).Info("Renderer boundary listening")
	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes every renderer connection and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down renderer boundary...")
	s.cancel()

	s.mu.Lock()
	srv, socket := s.server, s.socket
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		_ = c.ws.Close()
	}

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wg.Wait()
	if socket != "" {
		_ = os.Remove(socket)
	}
	return err
}

// State returns waiting or connected.
func (s *Server) State() string {
	if s.Connected() {
		return StateConnected
	}
	return StateWaiting
}

// Connected reports whether at least one renderer is attached.
func (s *Server) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns) > 0
}

// Send broadcasts a message to every renderer.
func (s *Server) Send(msg *protocol.Message) error {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	if len(conns) == 0 {
		return errors.Disconnected("renderer")
	}

	var firstErr error
	for _, c := range conns {
		if err := c.write(msg); err != nil {
			s.logger.WithError(err).WithField("conn", c.id).Warn("Failed to send to renderer")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to upgrade renderer connection")
		return
	}

	c := &conn{id: uuid.NewString(), ws: ws}
	s.mu.Lock()
	s.conns[c.id] = c
	count := len(s.conns)
	s.mu.Unlock()

	logger := s.logger.WithField("conn", c.id)
	logger.WithField("renderers", count).Info("Renderer connected")

	s.wg.Add(1)
	defer s.wg.Done()
	s.readLoop(c, logger)

	s.mu.Lock()
	delete(s.conns, c.id)
	remaining := len(s.conns)
	s.mu.Unlock()
	_ = ws.Close()

	logger.WithField("renderers", remaining).Info("Renderer disconnected")
	if remaining == 0 && s.ctx.Err() == nil {
		s.handler.RendererGone(s.ctx)
	}
}

func (s *Server) readLoop(c *conn, logger *logrus.Entry) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("Renderer connection closed unexpectedly")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.WithError(err).Warn("Dropping malformed frame from renderer")
			continue
		}
		if msg.Cmd != protocol.CmdRequest {
			logger.WithField("cmd", msg.Cmd).Warn("Unexpected message from renderer")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.handler.Handle(s.ctx, msg)
			if resp == nil {
				return
			}
			if err := c.write(resp); err != nil {
				logger.WithError(err).WithField("request_id", msg.RequestID).Warn("Failed to send response")
			}
		}()
	}
}
