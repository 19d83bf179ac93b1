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

package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/peripheral"
	"github.com/carverauto/sensorlink/pkg/resilience"
)

// Run applies device events to the state until events is closed or ctx is
// done. When the active peripheral drops unexpectedly a reconnection run is
// started in the background; Run waits for it before returning.
func (o *Orchestrator) Run(ctx context.Context, events <-chan peripheral.Event) error {
	var wg sync.WaitGroup

	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			if o.apply(ev) {
				wg.Add(1)

				go func() {
					defer wg.Done()

					o.reconnectAfterDrop(ctx)
				}()
			}
		}
	}
}

// apply records ev and reports whether a reconnection should follow.
func (o *Orchestrator) apply(ev peripheral.Event) bool {
	log := o.logger.Debug().
		Str("device", string(ev.Kind)).
		Str("address", ev.Descriptor.Address).
		Bool("connected", ev.Connected)

	if ev.Err != nil {
		log = log.Err(ev.Err)

		o.store.SetError(string(ev.Kind) + ": " + ev.Err.Error())
	}

	log.Msg("device event")

	if ev.Kind != models.DevicePeripheral {
		o.store.SetConnected(ev.Kind, ev.Connected)
		return false
	}

	target, known := o.reconnects.Target()
	isTarget := known && target.Address == ev.Descriptor.Address

	if ev.Connected {
		if isTarget {
			o.reconnects.SetTarget(target)
		}

		o.markPeripheral(ev.Descriptor, true)

		return false
	}

	o.markPeripheral(ev.Descriptor, false)

	if !isTarget || o.reconnects.Phase() != resilience.PhaseConnected {
		return false
	}

	o.reconnects.MarkDisconnected()

	return true
}

func (o *Orchestrator) reconnectAfterDrop(ctx context.Context) {
	err := o.ReconnectPeripheral(ctx, false)

	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrReconnectInProgress), errors.Is(err, context.Canceled):
		o.logger.Debug().Err(err).Msg("peripheral reconnection skipped")
	default:
		o.logger.Warn().Err(err).Msg("peripheral reconnection failed")
	}
}
