// Package rig maintains the console's single persistent event channel to
// the rig controller: a WebSocket carrying JSON frames of {event, data}.
// Emissions are fire-and-forget; inbound events are dispatched by name to
// subscribers. The one correlated exchange is the save acknowledgment.
package rig

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saviour-lab/console/model"
)

// Options configures the channel client.
type Options struct {
	URL          string
	DialTimeout  time.Duration
	AckTimeout   time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client is the event channel client. One Client is constructed at
// startup, passed to the components that need it, and runs until the
// process shuts down.
type Client struct {
	logger *zap.Logger
	opts   Options

	mu         sync.Mutex
	conn       *websocket.Conn
	subs       map[string]map[int64]Handler
	onConnect  []func()
	nextSubID  int64
	pending    map[string]chan model.SaveConfigAck
	connected  bool
	onReceived func(event string)
	onEmitted  func(event string)
}

// New constructs a disconnected Client. Run establishes and maintains the
// connection.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.AckTimeout == 0 {
		opts.AckTimeout = 10 * time.Second
	}
	if opts.ReconnectMin == 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax == 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Client{
		logger:  logger,
		opts:    opts,
		subs:    make(map[string]map[int64]Handler),
		pending: make(map[string]chan model.SaveConfigAck),
	}
}

// Instrument registers counters invoked per frame: received for every
// decoded inbound frame, emitted for every frame written to the channel.
// Either hook may be nil.
func (c *Client) Instrument(received, emitted func(event string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReceived = received
	c.onEmitted = emitted
}

func (c *Client) recordReceived(event string) {
	c.mu.Lock()
	hook := c.onReceived
	c.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

// Connected reports whether the channel is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run dials the rig controller and reads frames until ctx is cancelled,
// redialing with capped exponential backoff after any disconnect.
// Subscriptions survive reconnects; OnConnect hooks fire after every
// successful dial so callers can re-request state.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.ReconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("rig channel dial failed",
				zap.String("url", c.opts.URL),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.opts.ReconnectMax {
				backoff = c.opts.ReconnectMax
			}
			continue
		}
		backoff = c.opts.ReconnectMin

		c.setConn(conn)
		c.logger.Info("rig channel connected", zap.String("url", c.opts.URL))
		for _, hook := range c.connectHooks() {
			hook()
		}

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("rig channel disconnected", zap.Error(err))
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(dialCtx, c.opts.URL, nil)
	return conn, err
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.connected = conn != nil
}

func (c *Client) connectHooks() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	hooks := make([]func(), len(c.onConnect))
	copy(hooks, c.onConnect)
	return hooks
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame model.EventFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("rig channel frame rejected", zap.Error(err))
			continue
		}

		c.recordReceived(frame.Event)

		if frame.Event == model.EventSaveConfigAck {
			c.deliverAck(frame.Data)
			continue
		}
		c.dispatch(frame.Event, frame.Data)
	}
}

func (c *Client) dispatch(event string, data []byte) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[event]))
	for _, h := range c.subs[event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (c *Client) deliverAck(data []byte) {
	var ack model.SaveConfigAck
	if err := json.Unmarshal(data, &ack); err != nil {
		c.logger.Warn("save acknowledgment rejected", zap.Error(err))
		return
	}

	c.mu.Lock()
	ch, waiting := c.pending[ack.RequestID]
	delete(c.pending, ack.RequestID)
	c.mu.Unlock()

	if !waiting {
		// The waiter timed out or the console restarted mid-save.
		c.logger.Warn("unmatched save acknowledgment",
			zap.String("request_id", ack.RequestID))
		return
	}
	ch <- ack
}

// Subscribe registers a handler for an inbound event name and returns its
// scoped handle. Handlers run on the channel's read goroutine and must not
// block.
func (c *Client) Subscribe(event string, h Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	if c.subs[event] == nil {
		c.subs[event] = make(map[int64]Handler)
	}
	c.subs[event][id] = h

	return &Subscription{release: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[event], id)
	}}
}

// OnConnect registers a hook invoked after every successful dial,
// including reconnects.
func (c *Client) OnConnect(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, hook)
}

// Emit sends one fire-and-forget event frame. Returns RIG_UNAVAILABLE
// when the channel is down; there is no buffering or retry, matching the
// channel's emission semantics.
func (c *Client) Emit(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("rig: marshal %s: %w", event, err)
	}
	frame, err := json.Marshal(model.EventFrame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("rig: marshal frame: %w", err)
	}

	// The websocket connection permits one concurrent writer; the mutex
	// also orders emissions, preserving per-channel ordering end to end.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return model.NewRigUnavailableError()
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return model.NewRigUnavailableError()
	}
	if c.onEmitted != nil {
		c.onEmitted(event)
	}
	return nil
}

// EmitAndAwaitAck sends a save event carrying requestID and blocks until
// the rig controller's correlated acknowledgment, the ack timeout, or ctx
// cancellation, whichever comes first.
func (c *Client) EmitAndAwaitAck(ctx context.Context, event string, data any, requestID string) (model.SaveConfigAck, error) {
	ch := make(chan model.SaveConfigAck, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}

	if err := c.Emit(event, data); err != nil {
		abandon()
		return model.SaveConfigAck{}, err
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		abandon()
		return model.SaveConfigAck{}, model.NewRigTimeoutError()
	case <-ctx.Done():
		abandon()
		return model.SaveConfigAck{}, model.NewRigTimeoutError()
	}
}
