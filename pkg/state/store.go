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

// Package state owns the aggregate ConnectionState and publishes every change.
package state

import (
	"context"
	"sync"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
)

// Transform maps the prior state to the next one. It must not perform I/O.
type Transform func(models.ConnectionState) models.ConnectionState

// Store is the single owner of the connection state. Every mutation is an
// atomic copy-and-replace; observers only ever see whole states.
type Store struct {
	mu      sync.Mutex
	current models.ConnectionState
	version uint64
	subs    map[uint64]*subscriber
	nextID  uint64
	logger  logger.Logger
}

type subscriber struct {
	ch chan models.ConnectionState
}

// offer delivers st, replacing an undelivered older value if the reader is slow.
// Callers hold Store.mu so there is only ever one sender.
func (s *subscriber) offer(st models.ConnectionState) {
	select {
	case s.ch <- st:
		return
	default:
	}

	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- st:
	default:
	}
}

// NewStore creates a store holding the all-false initial state.
func NewStore(log logger.Logger) *Store {
	return &Store{
		subs:   make(map[uint64]*subscriber),
		logger: log,
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current.Clone()
}

// Version is incremented on every applied transform.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version
}

// Update applies fn atomically, publishes the result and returns it.
func (s *Store) Update(fn Transform) models.ConnectionState {
	next, _ := s.UpdateIf(func(prev models.ConnectionState) (models.ConnectionState, bool) {
		return fn(prev), true
	})

	return next
}

// UpdateIf applies fn atomically; the result is stored and published only when
// fn returns true. It returns the state in effect afterwards.
func (s *Store) UpdateIf(fn func(models.ConnectionState) (models.ConnectionState, bool)) (models.ConnectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := fn(s.current.Clone())
	if !ok {
		return s.current.Clone(), false
	}

	s.current = next.Clone()
	s.version++

	for _, sub := range s.subs {
		sub.offer(s.current.Clone())
	}

	if s.logger != nil {
		s.logger.Trace().Uint64("version", s.version).Msg("connection state updated")
	}

	return s.current.Clone(), true
}

// Subscribe returns a channel that immediately yields the current state and
// then every later one. A slow reader skips intermediate states but always
// receives the newest. The channel is closed by cancel or when ctx is done.
func (s *Store) Subscribe(ctx context.Context) (<-chan models.ConnectionState, func()) {
	sub := &subscriber{ch: make(chan models.ConnectionState, 1)}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	sub.offer(s.current.Clone())
	s.mu.Unlock()

	var once sync.Once

	done := make(chan struct{})

	cancel := func() {
		once.Do(func() {
			close(done)

			s.mu.Lock()
			delete(s.subs, id)
			close(sub.ch)
			s.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return sub.ch, cancel
}

// SetError records msg as the last error.
func (s *Store) SetError(msg string) {
	s.Update(func(st models.ConnectionState) models.ConnectionState {
		st.LastError = models.StringPtr(msg)
		return st
	})
}

// ClearError drops the last error.
func (s *Store) ClearError() {
	s.Update(func(st models.ConnectionState) models.ConnectionState {
		st.LastError = nil
		return st
	})
}

// SetConnected flips the per-device flag for kind.
func (s *Store) SetConnected(kind models.DeviceKind, connected bool) {
	s.Update(func(st models.ConnectionState) models.ConnectionState {
		st.SetConnected(kind, connected)
		return st
	})
}

// IsAnyDeviceConnected reports whether a local sensor is connected. The
// controller link does not count.
func (s *Store) IsAnyDeviceConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current.AnyLocalConnected()
}
