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

package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/carverauto/sensorlink/pkg/handshake"
	"github.com/carverauto/sensorlink/pkg/logger"
)

const (
	DefaultProbeTimeout  = 1500 * time.Millisecond
	DefaultVerifyTimeout = 2 * time.Second
)

// TCPProber accepts a candidate when it takes a TCP connection and then
// answers a length-prefixed ping on a second connection.
type TCPProber struct {
	probeTimeout  time.Duration
	verifyTimeout time.Duration
	now           func() time.Time
	logger        logger.Logger
}

var _ Prober = (*TCPProber)(nil)

func NewTCPProber(probeTimeout, verifyTimeout time.Duration, log logger.Logger) *TCPProber {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}

	if verifyTimeout <= 0 {
		verifyTimeout = DefaultVerifyTimeout
	}

	return &TCPProber{
		probeTimeout:  probeTimeout,
		verifyTimeout: verifyTimeout,
		now:           time.Now,
		logger:        log,
	}
}

func (p *TCPProber) Probe(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if err := p.checkPort(ctx, addr); err != nil {
		return err
	}

	return p.verify(ctx, addr)
}

func (p *TCPProber) checkPort(ctx context.Context, addr string) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	conn, err := p.dial(probeCtx, addr)
	if err != nil {
		return err
	}

	p.closeConn(conn)

	return nil
}

// verify sends the ping frame and waits for the 4-byte header of any reply.
func (p *TCPProber) verify(ctx context.Context, addr string) error {
	verifyCtx, cancel := context.WithTimeout(ctx, p.verifyTimeout)
	defer cancel()

	conn, err := p.dial(verifyCtx, addr)
	if err != nil {
		return err
	}
	defer p.closeConn(conn)

	if deadline, ok := verifyCtx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("%w: %w", ErrNotController, err)
		}
	}

	// unblock the read if the run is cancelled mid-verify
	stop := context.AfterFunc(verifyCtx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := handshake.WritePing(conn, p.now()); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrNotController, err)
	}

	if _, err := handshake.ReadFrameHeader(conn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%w: reply: %w", ErrNotController, err)
	}

	return nil
}

func (p *TCPProber) dial(ctx context.Context, addr string) (net.Conn, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, addr, err)
	}

	return conn, nil
}

func (p *TCPProber) closeConn(conn net.Conn) {
	if err := conn.Close(); err != nil && p.logger != nil {
		p.logger.Debug().Err(err).Msg("failed to close probe connection")
	}
}
