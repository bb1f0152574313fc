package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultHandshakeTimeout = 30 * time.Second

// envelope is the wire form of every message: one JSON object per text
// frame, channel plus payload.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Channel string `json:"channel"`
	Data    any    `json:"data,omitempty"`
}

// WSDialer opens WebSocket connections to the target. http and https
// targets are mapped to ws and wss; the namespace is appended to the
// target's path.
type WSDialer struct{}

// DialContext implements Dialer.
func (WSDialer) DialContext(ctx context.Context, target, namespace string, opts Options) (Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", target, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported target scheme %q", u.Scheme)
	}
	if namespace == "" {
		namespace = "/"
	}
	u.Path = path.Join(u.Path, namespace)

	q := u.Query()
	for k, v := range opts.Query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	header := make(http.Header, len(opts.Headers))
	for k, v := range opts.Headers {
		header.Set(k, v)
	}

	timeout := opts.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  opts.TLS,
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	c := &wsConn{
		ws:   ws,
		subs: make(map[string]Handler),
		done: make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu   sync.RWMutex
	subs map[string]Handler
	all  []Handler

	closeOnce sync.Once
	done      chan struct{}
}

// Emit implements Conn.
func (c *wsConn) Emit(channel string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(outbound{Channel: channel, Data: data}); err != nil {
		return fmt.Errorf("emit %q: %w", channel, err)
	}
	return nil
}

// Subscribe implements Conn.
func (c *wsConn) Subscribe(channel string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[channel] = h
}

// Unsubscribe implements Conn.
func (c *wsConn) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, channel)
}

// SubscribeAll implements Conn.
func (c *wsConn) SubscribeAll(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = append(c.all, h)
}

// Close implements Conn.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// readPump dispatches inbound frames until the connection drops. It is
// the only reader, so handlers for one connection never run concurrently
// with each other.
func (c *wsConn) readPump() {
	defer c.Close()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Channel == "" {
			continue
		}
		var data any
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &data); err != nil {
				continue
			}
		}
		c.dispatch(env.Channel, data)
	}
}

func (c *wsConn) dispatch(channel string, data any) {
	c.mu.RLock()
	all := make([]Handler, len(c.all))
	copy(all, c.all)
	h := c.subs[channel]
	c.mu.RUnlock()

	for _, wildcard := range all {
		wildcard(channel, data)
	}
	if h != nil {
		h(channel, data)
	}
}
