// Package status serves a live view of the rendezvous registry over a
// websocket feed.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/registry"
	"github.com/1ureka/dprox/internal/util"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server pushes the registry snapshot to every /ws subscriber at a fixed
// interval. GET /nodes returns the current snapshot once. When a token is
// set, both endpoints require it as the "token" query parameter.
type Server struct {
	self  protocol.NodeID
	reg   *registry.Registry
	every time.Duration
	token string

	listener net.Listener
	http     *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer creates a status server for the rendezvous identified by self.
// An empty token leaves the endpoints open.
func NewServer(self protocol.NodeID, reg *registry.Registry, every time.Duration, token string) *Server {
	if every <= 0 {
		every = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{self: self, reg: reg, every: every, token: token, ctx: ctx, cancel: cancel}
}

// Start begins listening on addr and returns the bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start status server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.authorized(s.handleWS))
	mux.HandleFunc("/nodes", s.authorized(s.handleNodes))
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogWarning("status server stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// Close stops the listener and ends every feed.
func (s *Server) Close() error {
	s.cancel()
	if s.http == nil {
		return nil
	}
	return s.http.Close()
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.URL.Query().Get("token") != s.token {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) snapshot() *protocol.Snapshot {
	return registry.ToSnapshot(s.self, s.reg.Snapshot())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	util.LogDebug("status subscriber %s connected", r.RemoteAddr)

	// Drain control frames; a read error means the subscriber went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			util.LogDebug("status subscriber %s: %v", r.RemoteAddr, err)
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
