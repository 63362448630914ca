package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"log/slog"

	"github.com/m3rciful/paybot/core/logger"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsAuthTimeout      = 10 * time.Second
	wsHeartbeat        = 30 * time.Second
	wsWriteTimeout     = 5 * time.Second
)

// wsFrame is the wire format of the realtime channel service.
type wsFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Auth    json.RawMessage `json:"auth,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// WSClient implements ChannelClient over a single websocket connection to
// the hosted channel service. Private channels require a per-connection
// authorization payload obtained from the payments backend before the join
// frame is accepted.
type WSClient struct {
	url  string
	auth Authorizer

	mu           sync.RWMutex
	conn         *websocket.Conn
	connectionID string
	subs         map[string]Callbacks
	done         chan struct{}

	writeMu sync.Mutex
}

// NewWSClient constructs a client for the given websocket endpoint.
func NewWSClient(url string, auth Authorizer) *WSClient {
	return &WSClient{
		url:  url,
		auth: auth,
		subs: make(map[string]Callbacks),
	}
}

// Connect dials the channel service and starts the read and heartbeat
// loops. It is a no-op when already connected.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("notify: websocket dial: %w", err)
	}

	c.conn = conn
	c.connectionID = uuid.NewString()
	c.done = make(chan struct{})

	go c.readLoop(conn, c.done)
	go c.heartbeat(c.done)

	logger.SVCNotify.Info("channel service connected",
		slog.String("event", "notify.connect"),
		slog.String("url", c.url),
	)
	return nil
}

// Close tears down the connection. Registered callbacks are dropped.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	close(c.done)
	_ = c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := c.conn.Close()
	c.conn = nil
	c.subs = make(map[string]Callbacks)
	return err
}

// Subscribe registers callbacks for the channel and starts the
// authorization handshake. The result is reported asynchronously through
// the callbacks; an immediate error means the client is not connected.
func (c *WSClient) Subscribe(channel string, cb Callbacks) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: not connected", ErrSubscription)
	}
	c.subs[channel] = cb
	connectionID := c.connectionID
	c.mu.Unlock()

	go c.join(channel, connectionID, cb)
	return nil
}

// join authorizes the connection for the private channel through the
// payments backend and sends the join frame. A backend failure or a
// malformed authorization payload surfaces as ErrAuthorization and the
// subscription is not established.
func (c *WSClient) join(channel, connectionID string, cb Callbacks) {
	ctx, cancel := context.WithTimeout(context.Background(), wsAuthTimeout)
	defer cancel()

	payload, err := c.auth.Authorize(ctx, connectionID, channel)
	if err != nil {
		c.removeSub(channel)
		c.callbackError(cb, fmt.Errorf("%w: %v", ErrAuthorization, err))
		return
	}
	if len(payload) == 0 || string(payload) == "null" {
		c.removeSub(channel)
		c.callbackError(cb, fmt.Errorf("%w: empty authorization payload", ErrAuthorization))
		return
	}

	frame := wsFrame{Event: "subscribe", Channel: channel, Auth: payload}
	if err := c.writeFrame(frame); err != nil {
		c.removeSub(channel)
		c.callbackError(cb, fmt.Errorf("%w: %v", ErrSubscription, err))
	}
}

// Unsubscribe sends a leave frame and drops the channel callbacks.
func (c *WSClient) Unsubscribe(channel string) error {
	c.removeSub(channel)
	c.mu.RLock()
	connected := c.conn != nil
	c.mu.RUnlock()
	if !connected {
		return nil
	}
	return c.writeFrame(wsFrame{Event: "unsubscribe", Channel: channel})
}

func (c *WSClient) removeSub(channel string) {
	c.mu.Lock()
	delete(c.subs, channel)
	c.mu.Unlock()
}

func (c *WSClient) callbacks(channel string) (Callbacks, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cb, ok := c.subs[channel]
	return cb, ok
}

func (c *WSClient) callbackError(cb Callbacks, err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (c *WSClient) writeFrame(frame wsFrame) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("notify: not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}

func (c *WSClient) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(wsHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeFrame(wsFrame{Event: "ping"}); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.SVCNotify.Warn("channel connection closed",
				slog.String("event", "notify.read"),
				slog.String("err", err.Error()),
			)
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch fans one inbound frame out to the channel's callbacks. Callback
// panics are contained so one bad handler cannot take down the read loop.
func (c *WSClient) dispatch(frame wsFrame) {
	defer func() {
		if r := recover(); r != nil {
			logger.SVCNotify.Error("panic in channel callback",
				slog.String("event", "notify.dispatch"),
				slog.String("channel", frame.Channel),
				slog.Any("err", r),
			)
		}
	}()

	cb, ok := c.callbacks(frame.Channel)
	if !ok {
		return
	}

	switch frame.Event {
	case "subscribed":
		if cb.OnSuccess != nil {
			cb.OnSuccess()
		}
	case "error":
		c.removeSub(frame.Channel)
		c.callbackError(cb, fmt.Errorf("%w: %s", ErrSubscription, frame.Message))
	case "deposit":
		var ev DepositEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			logger.SVCNotify.Warn("malformed deposit event",
				slog.String("event", "notify.dispatch"),
				slog.String("channel", frame.Channel),
				slog.String("err", err.Error()),
			)
			return
		}
		if cb.OnDeposit != nil {
			cb.OnDeposit(ev)
		}
	case "pong":
	}
}
