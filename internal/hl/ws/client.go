package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// allMids pushes cover the whole universe and exceed the library's 32KiB
// default frame limit.
const readLimit = 4 << 20

// Message is the envelope of every push from the venue.
type Message struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Subscription is one subscribe request. It is replayed after every
// reconnect.
type Subscription struct {
	Method       string         `json:"method"`
	Subscription map[string]any `json:"subscription"`
}

// AllMidsSubscription subscribes to mid prices for every listed asset.
func AllMidsSubscription() Subscription {
	return Subscription{Method: "subscribe", Subscription: map[string]any{"type": "allMids"}}
}

func DecodeMessage(raw []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(raw, &msg)
	return msg, err
}

// Client keeps one venue stream alive, reconnecting after reconnectDelay
// whenever the session drops.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []Subscription
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

// Connect dials unless a connection is already open and replays every
// recorded subscription on the new connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)
	for _, sub := range c.subs {
		if err := send(ctx, conn, sub); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			return err
		}
	}
	c.conn = conn
	return nil
}

// Subscribe records sub and sends it right away when connected.
func (c *Client) Subscribe(ctx context.Context, sub Subscription) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return send(ctx, conn, sub)
}

// Run delivers every channel push to handler until ctx ends. Pong replies
// are consumed here.
func (c *Client) Run(ctx context.Context, handler func(Message)) error {
	for {
		err := c.session(ctx, handler)
		if ctx.Err() != nil {
			c.drop()
			return ctx.Err()
		}
		c.logSessionEnd(err)
		c.drop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) session(ctx context.Context, handler func(Message)) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if c.pingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.keepAlive(sessionCtx, conn)
		}()
	}
	defer wg.Wait()

	for {
		_, data, err := conn.Read(sessionCtx)
		if err != nil {
			return err
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			c.log.Debug("ws decode error", zap.Error(err))
			continue
		}
		if msg.Channel == "pong" || handler == nil {
			continue
		}
		handler(msg)
	}
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (c *Client) logSessionEnd(err error) {
	if err == nil {
		return
	}
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
		c.log.Info("ws session closed", zap.String("url", c.url), zap.String("reason", closeErr.Reason))
		return
	}
	c.log.Warn("ws session ended", zap.String("url", c.url), zap.Error(err))
}

func (c *Client) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reconnect")
		c.conn = nil
	}
}

func send(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]string{"method": "ping"}
