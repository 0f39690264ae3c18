package socket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linnet-im/linnet/internal/protocol"
	"github.com/linnet-im/linnet/internal/status"
	"go.uber.org/zap"
)

// Sink receives every inbound envelope. The queue satisfies this.
type Sink interface {
	PushEnvelope(env protocol.Envelope) <-chan struct{}
}

// Options tunes the socket client.
type Options struct {
	URL               string
	UserID            string
	Token             string
	HeartbeatInterval time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	return o
}

type registerPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// Client maintains the push connection: dial, register, heartbeat, and feed
// every inbound envelope to the sink. Reads never block on processing; the
// queue absorbs bursts.
type Client struct {
	opts    Options
	sink    Sink
	machine *status.Machine
	logger  *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a socket client.
func NewClient(opts Options, sink Sink, machine *status.Machine, logger *zap.Logger) *Client {
	return &Client{
		opts:    opts.withDefaults(),
		sink:    sink,
		machine: machine,
		logger:  logger,
	}
}

// Start launches the connect/read loop.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop closes the connection and waits for the loop to exit.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConn()
	if c.done != nil {
		<-c.done
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	backoff := c.opts.ReconnectMin

	for {
		if ctx.Err() != nil {
			return
		}
		_ = c.machine.Transition(status.Connecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			c.logger.Warn("socket dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			_ = c.machine.Transition(status.Reconnecting)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.opts.ReconnectMax)
			continue
		}
		backoff = c.opts.ReconnectMin

		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()

		if err := c.send(protocol.OpRegister, registerPayload{UserID: c.opts.UserID, Token: c.opts.Token}); err != nil {
			c.logger.Warn("socket register failed", zap.Error(err))
			c.closeConn()
			continue
		}
		c.logger.Info("socket connected", zap.String("url", c.opts.URL))
		_ = c.machine.Transition(status.Syncing)

		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		go c.heartbeat(hbCtx)
		c.readLoop(conn)
		stopHeartbeat()
		c.closeConn()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("socket disconnected, reconnecting")
		_ = c.machine.Transition(status.Reconnecting)
	}
}

// readLoop feeds the sink until the connection drops.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		c.sink.PushEnvelope(env)
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(protocol.OpHeartBeat, nil); err != nil {
				c.logger.Warn("heartbeat write failed", zap.Error(err))
				return
			}
		}
	}
}

// send writes one envelope under the write lock; gorilla connections allow
// only one concurrent writer.
func (c *Client) send(code int, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	type outbound struct {
		Code int `json:"code"`
		Data any `json:"data,omitempty"`
	}
	return c.conn.WriteJSON(outbound{Code: code, Data: payload})
}

func (c *Client) closeConn() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
