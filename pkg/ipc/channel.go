// Package ipc correlates requests and responses over a message boundary.
package ipc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// IDGenerator hands out request ids.
type IDGenerator interface {
	Next() int64
}

// Counter is a monotonic IDGenerator starting at 1.
type Counter struct {
	n atomic.Int64
}

// Next returns the next id.
func (c *Counter) Next() int64 {
	return c.n.Add(1)
}

// Transport carries messages across a boundary.
type Transport interface {
	Send(msg *protocol.Message) error
	Connected() bool
}

// Call is an in-flight request. Done is closed once the call settles.
type Call struct {
	ID      int64
	Type    string
	Payload json.RawMessage
	Status  *protocol.Status
	Err     error
	Done    chan struct{}
}

func newCall(id int64, requestType string) *Call {
	return &Call{ID: id, Type: requestType, Done: make(chan struct{})}
}

func (c *Call) settle(payload json.RawMessage, status *protocol.Status, err error) {
	c.Payload = payload
	c.Status = status
	c.Err = err
	close(c.Done)
}

// Wait blocks until the call settles or ctx is done. Giving up on the wait
// does not cancel the request.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.Done:
		return c.Payload, c.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Channel sends requests over a Transport and settles them from responses.
type Channel struct {
	target string
	ids    IDGenerator
	logger *logrus.Entry

	mu        sync.Mutex
	transport Transport
	pending   map[int64]*Call
	onStatus  func(*protocol.Status)
}

// Option configures a Channel.
type Option func(*Channel)

// WithIDGenerator replaces the default counter.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Channel) { c.ids = g }
}

// WithLogger replaces the default logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Channel) { c.logger = l }
}

// NewChannel creates a channel sending to target (used in error messages)
// over transport. transport may be nil until SetTransport is called.
func NewChannel(target string, transport Transport, opts ...Option) *Channel {
	c := &Channel{
		target:    target,
		ids:       &Counter{},
		transport: transport,
		pending:   make(map[int64]*Call),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewLogger("ipc").WithField("target", target)
	}
	return c
}

// SetTransport swaps the underlying transport.
func (c *Channel) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// OnStatus registers a hook invoked with every status snapshot piggybacked
// on a response, before the call settles.
func (c *Channel) OnStatus(fn func(*protocol.Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Go sends a request and returns its Call without waiting. Transport
// failures settle the call immediately; nothing is queued.
func (c *Channel) Go(requestType string, payload interface{}) *Call {
	c.mu.Lock()
	transport := c.transport
	if transport == nil {
		c.mu.Unlock()
		call := newCall(0, requestType)
		call.settle(nil, nil, errors.Uninitialized(c.target))
		return call
	}
	if !transport.Connected() {
		c.mu.Unlock()
		call := newCall(0, requestType)
		call.settle(nil, nil, errors.Disconnected(c.target))
		return call
	}

	id := c.ids.Next()
	call := newCall(id, requestType)
	msg, err := protocol.NewRequest(id, requestType, payload)
	if err != nil {
		c.mu.Unlock()
		call.settle(nil, nil, errors.Wrap(err, errors.ErrCodeInvalidArgument, "failed to encode request payload"))
		return call
	}
	c.pending[id] = call
	c.mu.Unlock()

	if err := transport.Send(msg); err != nil {
		c.mu.Lock()
		_, stillPending := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if stillPending {
			call.settle(nil, nil, errors.Wrap(err, errors.ErrCodeDisconnected,
				"Failed to send request message to "+c.target+", it is not connected."))
		}
		return call
	}

	c.logger.WithFields(logrus.Fields{"request_id": id, "type": requestType}).Debug("Sent request")
	return call
}

// Send sends a request and waits for its response payload.
func (c *Channel) Send(ctx context.Context, requestType string, payload interface{}) (json.RawMessage, error) {
	return c.Go(requestType, payload).Wait(ctx)
}

// HandleResponse settles the pending call matching msg. A response with no
// pending call is logged and reported as an OrphanResponse error.
func (c *Channel) HandleResponse(msg *protocol.Message) error {
	c.mu.Lock()
	call, ok := c.pending[msg.RequestID]
	if ok {
		delete(c.pending, msg.RequestID)
	}
	onStatus := c.onStatus
	c.mu.Unlock()

	if !ok {
		err := errors.OrphanResponse(msg.RequestID)
		c.logger.WithField("request_id", msg.RequestID).Warn(err.Message)
		return err
	}

	if msg.Status != nil && onStatus != nil {
		onStatus(msg.Status.Clone())
	}

	if msg.Error {
		call.settle(nil, msg.Status, errors.Restore(msg.Payload))
		return nil
	}
	call.settle(msg.Payload, msg.Status, nil)
	return nil
}

// Fail settles every pending call with err. Used when the boundary goes away.
func (c *Channel) Fail(err error) {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[int64]*Call)
	c.mu.Unlock()

	for _, call := range calls {
		call.settle(nil, nil, err)
	}
	if len(calls) > 0 {
		c.logger.WithError(err).WithField("count", len(calls)).Warn("Failed pending requests")
	}
}

// Pending returns the number of in-flight requests.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
