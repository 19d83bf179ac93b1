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

// Package controlclient opens handshaken control sessions to the controller.
package controlclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/carverauto/sensorlink/pkg/handshake"
	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/version"
)

const (
	DefaultDialTimeout      = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second

	maxAckLine = 64 * 1024
)

var (
	ErrSessionClosed = errors.New("control session closed")
	// ErrConnectionLost wraps the read error seen when the controller goes away.
	ErrConnectionLost = errors.New("controller connection lost")
	errAckTooLong     = errors.New("handshake ack exceeds line limit")
)

// Identity is what this device announces to the controller.
type Identity struct {
	DeviceName      string
	AppVersion      string
	DeviceType      string
	ProtocolVersion int
}

// IdentityFromConfig fills a zero protocol version with handshake.ProtocolVersion
// and an empty app version with the build version.
func IdentityFromConfig(cfg models.IdentityConfig) Identity {
	id := Identity{
		DeviceName:      cfg.DeviceName,
		AppVersion:      cfg.AppVersion,
		DeviceType:      cfg.DeviceType,
		ProtocolVersion: cfg.ProtocolVersion,
	}

	if id.ProtocolVersion == 0 {
		id.ProtocolVersion = handshake.ProtocolVersion
	}

	if id.AppVersion == "" {
		id.AppVersion = version.Version()
	}

	return id
}

// Dialer opens control sessions.
type Dialer struct {
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	Logger           logger.Logger
}

// Session owns a handshaken control connection until Close or Detach.
// While it owns the socket a watcher notices the controller going away.
type Session struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	ack     handshake.Ack
	addr    string
	logger  logger.Logger
	lostErr error

	done     chan struct{}
	watching chan struct{}
}

// Dial connects to cfg's control port, exchanges the newline-framed
// handshake and returns a session only when the controller is compatible.
// The socket is closed on every failure path.
func (d *Dialer) Dial(ctx context.Context, cfg models.ServerConfiguration, id Identity) (*Session, error) {
	dialTimeout := d.Timeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	hsTimeout := d.HandshakeTimeout
	if hsTimeout <= 0 {
		hsTimeout = DefaultHandshakeTimeout
	}

	addr := cfg.ControlAddress()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var dialer net.Dialer

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to controller %s: %w", addr, err)
	}

	s := &Session{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		addr:     addr,
		logger:   d.Logger,
		done:     make(chan struct{}),
		watching: make(chan struct{}),
	}

	ack, err := s.exchange(ctx, id, hsTimeout)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	s.ack = ack

	go s.watch(s.conn, s.reader)

	if d.Logger != nil {
		d.Logger.Info().
			Str("addr", addr).
			Str("server", ack.ServerName).
			Str("server_version", ack.ServerVersion).
			Int("protocol_version", ack.ProtocolVersion).
			Msg("controller handshake complete")
	}

	return s, nil
}

func (s *Session) exchange(ctx context.Context, id Identity, timeout time.Duration) (handshake.Ack, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := s.conn.SetDeadline(deadline); err != nil {
		return handshake.Ack{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	msg := handshake.BuildHandshake(id.ProtocolVersion, id.DeviceName, id.AppVersion, id.DeviceType)

	frame, err := handshake.EncodeFramed(msg)
	if err != nil {
		return handshake.Ack{}, err
	}

	if _, err := s.conn.Write(frame); err != nil {
		return handshake.Ack{}, ioError(ctx, "send handshake", err)
	}

	line, err := s.readLine()
	if err != nil {
		return handshake.Ack{}, ioError(ctx, "read handshake ack", err)
	}

	ack, err := handshake.ParseAck(line)
	if err != nil {
		return handshake.Ack{}, err
	}

	if err := handshake.ProcessAck(id.ProtocolVersion, ack); err != nil {
		return ack, err
	}

	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		return handshake.Ack{}, err
	}

	return ack, nil
}

func (s *Session) readLine() ([]byte, error) {
	var line []byte

	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			return nil, err
		}

		line = append(line, chunk...)
		if len(line) > maxAckLine {
			return nil, errAckTooLong
		}

		if !isPrefix {
			return line, nil
		}
	}
}

func ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

// Ack is the controller's handshake acknowledgement.
func (s *Session) Ack() handshake.Ack {
	return s.ack
}

// RemoteAddr is the host:port the session is connected to.
func (s *Session) RemoteAddr() string {
	return s.addr
}

// Detach hands the socket and its buffered reader to a data-plane client.
// The session no longer owns or closes them afterwards. Bytes the watcher
// buffered stay in the returned reader.
func (s *Session) Detach() (net.Conn, *bufio.Reader, error) {
	s.mu.Lock()

	conn, reader := s.conn, s.reader
	if conn == nil {
		s.mu.Unlock()

		return nil, nil, ErrSessionClosed
	}

	s.release(nil)
	s.mu.Unlock()

	// Unblock the watcher's read, wait for it, then hand over a clean socket.
	_ = conn.SetReadDeadline(time.Unix(1, 0))
	<-s.watching

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, reader, nil
}

// Close closes the socket if the session still owns it.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.release(nil)

	if s.logger != nil {
		s.logger.Debug().Str("addr", s.addr).Msg("control session closed")
	}

	return err
}

// Alive reports whether the session still owns an open socket.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn != nil
}

// Done is closed once the session stops owning the socket: after Close,
// Detach, or the controller going away.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err is the reason the controller connection was lost, or nil while the
// session is open or after a local Close or Detach.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lostErr
}

// release drops ownership of the socket. s.mu must be held.
func (s *Session) release(lost error) {
	s.conn, s.reader = nil, nil
	s.lostErr = lost
	close(s.done)
}

// watch peeks at the socket without consuming it until the peer closes,
// the read buffer fills, or Detach interrupts the read.
func (s *Session) watch(conn net.Conn, reader *bufio.Reader) {
	defer close(s.watching)

	for {
		n := reader.Buffered() + 1
		if n > reader.Size() {
			return
		}

		if _, err := reader.Peek(n); err != nil {
			s.lose(conn, err)
			return
		}
	}
}

func (s *Session) lose(conn net.Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Closed or detached locally.
	if s.conn != conn {
		return
	}

	_ = conn.Close()
	s.release(fmt.Errorf("%w: %w", ErrConnectionLost, err))

	if s.logger != nil {
		s.logger.Debug().Str("addr", s.addr).Err(err).Msg("control socket closed by peer")
	}
}
