// Package testserver provides a configurable channel server for load
// testing. Sessions speak the one-JSON-envelope-per-frame protocol on
// any URL path (the namespace); a few plain HTTP endpoints back the
// request steps.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Rule makes the server answer messages arriving on a channel.
type Rule struct {
	// Channel the incoming message must arrive on.
	Channel string

	// Namespace restricts the rule; empty means the default namespace.
	Namespace string

	// Reply is the channel the answer goes out on; empty answers on the
	// incoming channel.
	Reply string

	// Data is the static answer body; nil echoes the incoming data.
	Data any

	// Times is how many answers each incoming message gets; below one
	// means one.
	Times int

	// Delay pauses before each answer.
	Delay time.Duration
}

// Push is a message the server sends to every new session.
type Push struct {
	Namespace string
	Channel   string
	Data      any
	After     time.Duration
}

// Server answers channel messages according to its rules.
type Server struct {
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	rules  []Rule
	pushes []Push

	connections atomic.Int64
	received    atomic.Int64
	requestID   atomic.Int64
}

// NewServer creates a server answering per the given rules.
func NewServer(rules ...Rule) *Server {
	s := &Server{
		mux:   http.NewServeMux(),
		rules: rules,
	}
	s.registerHandlers()
	return s
}

// PushOnConnect makes the server send p to every session that connects
// on its namespace.
func (s *Server) PushOnConnect(p Push) {
	s.pushes = append(s.pushes, p)
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ConnectionCount returns how many sessions have connected.
func (s *Server) ConnectionCount() int64 {
	return s.connections.Load()
}

// ReceivedCount returns how many channel messages have arrived.
func (s *Server) ReceivedCount() int64 {
	return s.received.Load()
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/echo", s.handleEcho)
	// Everything else is a channel namespace.
	s.mux.HandleFunc("/", s.handleSession)
}

// envelope is an incoming frame; outbound is its writable counterpart.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Channel string `json:"channel"`
	Data    any    `json:"data,omitempty"`
}

// session serializes writes to one connection.
type session struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

func (c *session) send(channel string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(outbound{Channel: channel, Data: data})
}

// handleSession upgrades the request and answers messages until the
// client hangs up.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	s.connections.Add(1)
	namespace := normalizeNamespace(r.URL.Path)
	sess := &session{ws: ws, done: make(chan struct{})}
	defer close(sess.done)

	for _, p := range s.pushes {
		if normalizeNamespace(p.Namespace) != namespace {
			continue
		}
		go s.push(sess, p)
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Channel == "" {
			continue
		}
		s.received.Add(1)

		var data any
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &data); err != nil {
				continue
			}
		}
		for _, rule := range s.rules {
			if rule.Channel != env.Channel || normalizeNamespace(rule.Namespace) != namespace {
				continue
			}
			go s.answer(sess, rule, env.Channel, data)
		}
	}
}

// answer sends the rule's replies, stopping if the session ends first.
func (s *Server) answer(sess *session, rule Rule, incoming string, data any) {
	reply := rule.Reply
	if reply == "" {
		reply = incoming
	}
	body := rule.Data
	if body == nil {
		body = data
	}
	times := rule.Times
	if times < 1 {
		times = 1
	}

	for i := 0; i < times; i++ {
		if rule.Delay > 0 {
			select {
			case <-time.After(rule.Delay):
			case <-sess.done:
				return
			}
		}
		if err := sess.send(reply, body); err != nil {
			return
		}
	}
}

func (s *Server) push(sess *session, p Push) {
	if p.After > 0 {
		select {
		case <-time.After(p.After):
		case <-sess.done:
			return
		}
	}
	sess.send(p.Channel, p.Data)
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return "/"
	}
	return path.Clean(ns)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleLogin simulates an authentication endpoint. Returns a token for
// use in subsequent requests.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := s.requestID.Add(1)
	token := fmt.Sprintf("token-%d-%d", id, time.Now().UnixNano())

	response := map[string]any{
		"auth": map[string]any{
			"token":      token,
			"expires_in": 3600,
		},
		"user": map[string]any{
			"id":   id,
			"name": "testuser",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handleEcho echoes back the request body with the same content type.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
