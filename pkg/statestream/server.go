/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package statestream serves the connection state to WebSocket clients.
// Every client receives the current state on connect and then each change.
package statestream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
)

const (
	DefaultPath = "/state"

	// MessageTypeState tags every frame sent to clients.
	MessageTypeState = "connection_state"

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Source is where client streams come from. *state.Store satisfies it.
type Source interface {
	Subscribe(ctx context.Context) (<-chan models.ConnectionState, func())
}

// Message is the JSON frame written to clients.
type Message struct {
	Type  string                 `json:"type"`
	State models.ConnectionState `json:"state"`
}

// Server upgrades requests on its path and streams states to each client.
type Server struct {
	source   Source
	path     string
	upgrader websocket.Upgrader
	logger   logger.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]context.CancelFunc
}

// NewServer streams from source. An empty path uses DefaultPath.
func NewServer(source Source, path string, log logger.Logger) *Server {
	if path == "" {
		path = DefaultPath
	}

	if log == nil {
		log = logger.Nop()
	}

	return &Server{
		source: source,
		path:   path,
		logger: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]context.CancelFunc),
	}
}

// Handler returns a mux serving the stream on the configured path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.ServeHTTP)

	return mux
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.clients[conn] = cancel
	s.mu.Unlock()

	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("state stream client connected")

	go s.readPump(conn, cancel)

	s.writePump(ctx, conn)

	s.remove(conn)

	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("state stream client disconnected")
}

// readPump discards client frames and cancels the stream once the peer goes away.
func (*Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn) {
	states, unsubscribe := s.source.Subscribe(ctx)
	defer unsubscribe()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

			return
		case st, ok := <-states:
			if !ok {
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := conn.WriteJSON(Message{Type: MessageTypeState, State: st}); err != nil {
				s.logger.Debug().Err(err).Msg("state stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) remove(conn *websocket.Conn) {
	s.mu.Lock()
	cancel, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()

	if ok {
		cancel()
	}

	_ = conn.Close()
}

// Close ends every client stream with a normal closure frame.
func (s *Server) Close() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.clients))

	for _, cancel := range s.clients {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Msg("state stream listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
