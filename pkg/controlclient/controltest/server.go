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

// Package controltest provides an in-process controller for tests. It answers
// newline-framed handshakes and length-prefixed discovery pings on one port.
package controltest

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/carverauto/sensorlink/pkg/handshake"
)

// AckFunc builds the reply to a received handshake.
type AckFunc func(handshake.Message) handshake.Ack

// Server is a fake controller listening on 127.0.0.1.
type Server struct {
	ln  net.Listener
	ack AckFunc

	mu         sync.Mutex
	handshakes []handshake.Message
	pings      int
	sessions   map[net.Conn]struct{}
}

// Echo acknowledges every handshake with the device's own protocol version.
func Echo(msg handshake.Message) handshake.Ack {
	return handshake.Ack{
		Type:            handshake.TypeHandshakeAck,
		ProtocolVersion: msg.ProtocolVersion,
		ServerName:      "controltest",
		ServerVersion:   "1.0.0",
		Compatible:      true,
	}
}

// Version acknowledges with a fixed protocol version; compatible reflects equality.
func Version(v int) AckFunc {
	return func(msg handshake.Message) handshake.Ack {
		ack := Echo(msg)
		ack.ProtocolVersion = v
		ack.Compatible = v == msg.ProtocolVersion

		if !ack.Compatible {
			ack.Message = "protocol version mismatch"
		}

		return ack
	}
}

// Start listens on an ephemeral port and stops when the test ends.
func Start(t testing.TB, ack AckFunc) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("controltest: listen: %v", err)
	}

	if ack == nil {
		ack = Echo
	}

	s := &Server{ln: ln, ack: ack, sessions: make(map[net.Conn]struct{})}

	t.Cleanup(func() { _ = ln.Close() })

	go s.serve()

	return s
}

func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(s.Port()))
}

// Handshakes returns the handshakes received so far.
func (s *Server) Handshakes() []handshake.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]handshake.Message(nil), s.handshakes...)
}

// Pings returns how many discovery pings were answered.
func (s *Server) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pings
}

// OpenSessions returns how many acknowledged sessions the device still holds open.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// DropSessions hangs up every acknowledged session, as a crashed controller would.
func (s *Server) DropSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.sessions {
		_ = conn.Close()
	}
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)

	first, err := r.Peek(1)
	if err != nil {
		return
	}

	if first[0] != '{' {
		if _, err := handshake.ReadFrame(r); err != nil {
			return
		}

		s.mu.Lock()
		s.pings++
		s.mu.Unlock()

		_, _ = conn.Write(handshake.EncodeLengthPrefixed([]byte(`{"type":"pong"}`)))

		return
	}

	line, err := r.ReadBytes('\n')
	if err != nil {
		return
	}

	msg, err := handshake.ParseHandshake(line)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.handshakes = append(s.handshakes, msg)
	s.mu.Unlock()

	frame, err := handshake.EncodeFramed(s.ack(msg))
	if err != nil {
		return
	}

	if _, err := conn.Write(frame); err != nil {
		return
	}

	s.mu.Lock()
	s.sessions[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, conn)
		s.mu.Unlock()
	}()

	// hold the session open until the device hangs up
	_ = conn.SetDeadline(time.Time{})
	_, _ = r.ReadByte()
}
