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

package peripheral

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carverauto/sensorlink/pkg/models"
)

const defaultEventBuffer = 32

var ErrEmitterClosed = errors.New("event emitter closed")

// Event reports a connect or disconnect observed by a device.
type Event struct {
	Kind       models.DeviceKind
	Descriptor models.PeripheralDescriptor
	Connected  bool
	Err        error
	At         time.Time
}

// Emitter is the channel devices report connection changes on. Emit blocks
// rather than dropping, so every event is delivered at least once to a
// reader that keeps draining.
type Emitter struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	return &Emitter{ch: make(chan Event, buffer)}
}

// Emit queues ev, waiting for room until ctx is done.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrEmitterClosed
	}

	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case e.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the receive side handed to the orchestrator.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close stops further emits and closes the channel once pending emits return.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.closed = true
	close(e.ch)
}
