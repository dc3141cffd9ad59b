// Package client is the renderer side of the appshell boundary. It issues
// requests to the coordinator and receives alerts.
package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/ipc"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Target names the coordinator in transport errors.
const Target = "main process"

// socketURL is the dummy URL used when dialing a unix socket; the
// connection itself goes through the socket.
const socketURL = "ws://unix/ws"

// Client is a connected renderer.
type Client struct {
	ws      *websocket.Conn
	wmu     sync.Mutex
	channel *ipc.Channel
	bus     *alert.Bus
	logger  *logrus.Entry

	mu     sync.Mutex
	status *protocol.Status
	closed bool
	done   chan struct{}
}

// Dial connects to a coordinator. network is "unix" (address is a socket
// path) or "tcp" (address is host:port).
func Dial(ctx context.Context, network, address string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	url := "ws://" + address + "/ws"
	if network == "unix" {
		dialer.NetDialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", address)
		}
		url = socketURL
	}
	return DialURL(ctx, &dialer, url)
}

// DialURL connects to a websocket URL using dialer.
func DialURL(ctx context.Context, dialer *websocket.Dialer, url string) (*Client, error) {
	ws, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDisconnected, "Failed to connect to the main process.")
	}
	return New(ws), nil
}

// New wraps an established connection and starts reading from it.
func New(ws *websocket.Conn) *Client {
	logger := logging.NewLogger("client")
	c := &Client{
		ws:     ws,
		bus:    alert.NewBus(nil),
		logger: logger,
		done:   make(chan struct{}),
	}
	c.channel = ipc.NewChannel(Target, c, ipc.WithLogger(logger))
	c.channel.OnStatus(c.observe)
	c.bus.SetStatusProvider(c.Status)
	go c.readLoop()
	return c
}

// Send writes one message to the coordinator.
func (c *Client) Send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Connected reports whether the connection is still open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Alerts returns the bus alerts from the coordinator are dispatched on.
func (c *Client) Alerts() *alert.Bus {
	return c.bus
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.channel.Fail(errors.Disconnected(Target))
		close(c.done)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.WithError(err).Warn("Dropping malformed frame")
			continue
		}
		if err := msg.Check(); err != nil {
			c.logger.WithError(err).Warn("Ignoring invalid message")
			continue
		}

		switch msg.Cmd {
		case protocol.CmdResponse:
			_ = c.channel.HandleResponse(msg)
		case protocol.CmdAlert:
			if msg.Status != nil {
				c.observe(msg.Status.Clone())
			}
			c.bus.Dispatch(msg)
		default:
			c.logger.WithField("cmd", msg.Cmd).Warn("Unexpected message from main process")
		}
	}
}

// observe keeps the newest complete snapshot.
func (c *Client) observe(st *protocol.Status) {
	if st == nil || st.Timestamp == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil || st.Timestamp >= c.status.Timestamp {
		c.status = st
	}
}

// Status returns the newest snapshot seen, or nil.
func (c *Client) Status() *protocol.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Clone()
}

// Request sends a request and waits for the response payload.
func (c *Client) Request(ctx context.Context, requestType string, payload interface{}) (json.RawMessage, error) {
	return c.channel.Send(ctx, requestType, payload)
}

func (c *Client) request(ctx context.Context, requestType string, payload, result interface{}) error {
	raw, err := c.Request(ctx, requestType, payload)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, result)
}

// Notify returns the message to show for a failed request: the message
// carried by the error, or defaultMessage when it carries none.
func Notify(err error, defaultMessage string) string {
	if err == nil {
		return ""
	}
	if appErr, ok := errors.As(err); ok {
		if msg := strings.TrimSpace(appErr.Message); msg != "" {
			return msg
		}
		return defaultMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return defaultMessage
}
