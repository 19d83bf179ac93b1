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

// Package resilience recovers dropped peripheral connections with bounded,
// exponentially spaced retries.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
)

const maxHistory = 50

// Phase is the controller's position in Idle -> Attempting(n) -> Connected | Exhausted.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAttempting
	PhaseConnected
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAttempting:
		return "attempting"
	case PhaseConnected:
		return "connected"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ConnectFunc performs one connection attempt to target.
type ConnectFunc func(ctx context.Context, target models.PeripheralDescriptor) error

// Clock is the time source used for backoff waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Hooks are called outside the controller lock when a run settles.
type Hooks struct {
	OnConnected    func(models.PeripheralDescriptor)
	OnDisconnected func(models.PeripheralDescriptor)
}

type Option func(*Controller)

func WithClock(c Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

func WithHooks(h Hooks) Option {
	return func(ctrl *Controller) { ctrl.hooks = h }
}

// Controller owns reconnection for a single device slot.
type Controller struct {
	policy  Policy
	connect ConnectFunc
	clock   Clock
	hooks   Hooks
	logger  logger.Logger

	mu      sync.Mutex
	target  *models.PeripheralDescriptor
	phase   Phase
	attempt int
	history []models.ConnectionAttempt
}

func NewController(policy Policy, connect ConnectFunc, log logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		policy:  policy.normalize(),
		connect: connect,
		clock:   realClock{},
		logger:  log,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetTarget records the last successfully connected descriptor and marks
// the slot connected.
func (c *Controller) SetTarget(target models.PeripheralDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := target
	c.target = &t
	c.phase = PhaseConnected
	c.attempt = 0
}

// Target returns the last known descriptor.
func (c *Controller) Target() (models.PeripheralDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.target == nil {
		return models.PeripheralDescriptor{}, false
	}

	return *c.target, true
}

// MarkDisconnected moves a connected slot back to Idle so the next
// Reconnect runs without force.
func (c *Controller) MarkDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseConnected {
		c.phase = PhaseIdle
	}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.phase
}

// Attempt is the 1-based attempt in flight, or zero outside a run.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.attempt
}

// History returns the most recent attempts, oldest first.
func (c *Controller) History() []models.ConnectionAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.ConnectionAttempt, len(c.history))
	copy(out, c.history)

	return out
}

// Reconnect restores the connection to the last known target. A connected
// slot returns immediately unless force is set. Only exhaustion, a missing
// target and cancellation are returned as errors.
func (c *Controller) Reconnect(ctx context.Context, force bool) error {
	c.mu.Lock()

	if c.phase == PhaseConnected && !force {
		c.mu.Unlock()
		return nil
	}

	if c.target == nil {
		c.mu.Unlock()
		return ErrNothingToReconnect
	}

	if c.phase == PhaseAttempting {
		c.mu.Unlock()
		return ErrReconnectInProgress
	}

	target := *c.target
	session := models.NewReconnectionSession(target, c.policy.MaxAttempts, c.clock.Now())
	c.phase = PhaseAttempting
	c.attempt = session.Attempt
	c.mu.Unlock()

	log := c.logger.With().
		Str("session", session.ID).
		Str("device", target.Address).
		Logger()

	log.Info().Int("max_attempts", session.MaxAttempts).Msg("starting reconnection")

	for {
		c.setAttempt(session.Attempt)

		if delay := c.policy.Delay(session.Attempt); delay > 0 {
			log.Debug().Int("attempt", session.Attempt).Dur("backoff", delay).Msg("waiting before reconnect attempt")

			select {
			case <-ctx.Done():
				c.abort(target)
				return ctx.Err()
			case <-c.clock.After(delay):
			}
		}

		err := c.attemptOnce(ctx, session)
		if err == nil {
			c.settle(PhaseConnected)

			log.Info().Int("attempt", session.Attempt).Msg("reconnected")

			if c.hooks.OnConnected != nil {
				c.hooks.OnConnected(target)
			}

			return nil
		}

		if ctx.Err() != nil {
			c.abort(target)
			return ctx.Err()
		}

		if session.Exhausted() {
			c.settle(PhaseExhausted)

			log.Error().Err(err).Int("attempts", session.Attempt).Msg("reconnection exhausted")

			if c.hooks.OnDisconnected != nil {
				c.hooks.OnDisconnected(target)
			}

			return &ExhaustedError{Target: target, Attempts: session.Attempt, Last: err}
		}

		log.Warn().
			Err(err).
			Int("attempt", session.Attempt).
			Int("max_attempts", session.MaxAttempts).
			Msg("reconnect attempt failed, retrying")

		session.Attempt++
	}
}

func (c *Controller) attemptOnce(ctx context.Context, session *models.ReconnectionSession) error {
	attemptCtx := ctx

	if c.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
		defer cancel()
	}

	start := c.clock.Now()
	err := c.connect(attemptCtx, session.Target)

	record := models.ConnectionAttempt{
		SessionID: session.ID,
		Address:   session.Target.Address,
		Attempt:   session.Attempt,
		Timestamp: start,
		Duration:  c.clock.Now().Sub(start),
		Success:   err == nil,
	}

	if err != nil {
		record.Error = err.Error()
	}

	c.mu.Lock()
	c.history = append(c.history, record)

	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	c.mu.Unlock()

	return err
}

func (c *Controller) setAttempt(n int) {
	c.mu.Lock()
	c.attempt = n
	c.mu.Unlock()
}

func (c *Controller) settle(phase Phase) {
	c.mu.Lock()
	c.phase = phase
	c.attempt = 0
	c.mu.Unlock()
}

// abort returns a cancelled run to Idle and reports the target as down.
func (c *Controller) abort(target models.PeripheralDescriptor) {
	c.settle(PhaseIdle)

	c.logger.Info().Str("device", target.Address).Msg("reconnection cancelled")

	if c.hooks.OnDisconnected != nil {
		c.hooks.OnDisconnected(target)
	}
}
