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
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/peripheral"
)

var (
	errSurfaceRequired     = errors.New("preview surface required")
	errCameraInitFailed    = errors.New("camera initialization failed")
	errThermalUnavailable  = errors.New("thermal camera not available")
	errPeripheralNotFound  = errors.New("peripheral sensors not available")
	errInitializationPanic = errors.New("initialization panicked")
)

// Surfaces are the opaque render targets handed in by the UI layer. A nil
// Camera surface means the camera cannot be brought up.
type Surfaces struct {
	Camera  any
	Thermal any
}

type initSlot struct {
	label    string
	kind     models.DeviceKind
	device   peripheral.Device
	notFound error
	precheck func() error
	// ready runs after a successful Initialize.
	ready func(context.Context)
}

// InitializeAll brings up camera, thermal camera and peripheral sensor
// concurrently. One device failing never stops the others. It returns a
// per-device summary even when every device failed, and fails only when a
// run is already active or ctx is cancelled.
func (o *Orchestrator) InitializeAll(ctx context.Context, surfaces Surfaces) (string, error) {
	if !o.claim(initializing) {
		return "", ErrAlreadyInProgress
	}

	defer o.release(initializing)

	log := o.logger.With().Str("run", uuid.NewString()).Logger()
	log.Info().Msg("initializing all devices")

	slots := []initSlot{
		{
			label:    "Camera",
			kind:     models.DeviceCamera,
			device:   o.camera,
			notFound: errCameraInitFailed,
			precheck: func() error {
				if surfaces.Camera == nil {
					return errSurfaceRequired
				}

				return nil
			},
		},
		{label: "Thermal", kind: models.DeviceThermal, device: o.thermal, notFound: errThermalUnavailable},
		{
			label:    "Peripheral",
			kind:     models.DevicePeripheral,
			device:   o.sensor,
			notFound: errPeripheralNotFound,
			ready:    o.armReconnect,
		},
	}

	outcomes := make([]error, len(slots))

	var g errgroup.Group

	for i, slot := range slots {
		g.Go(func() error {
			outcomes[i] = o.initializeSlot(ctx, slot)
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	parts := make([]string, len(slots))
	ok := 0

	for i, slot := range slots {
		if outcomes[i] == nil {
			ok++
			parts[i] = slot.label + ": OK"

			continue
		}

		parts[i] = slot.label + ": " + outcomes[i].Error()
	}

	summary := fmt.Sprintf("Device initialization: %d/%d successful - %s", ok, len(slots), strings.Join(parts, ", "))

	log.Info().Int("successful", ok).Msg(summary)

	return summary, nil
}

func (o *Orchestrator) initializeSlot(ctx context.Context, slot initSlot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errInitializationPanic, r)
		}

		o.store.SetConnected(slot.kind, err == nil)

		if err != nil {
			o.logger.Warn().Str("device", string(slot.kind)).Err(err).Msg("device initialization failed")
		}
	}()

	if slot.device == nil {
		return ErrNotConfigured
	}

	if slot.precheck != nil {
		if err := slot.precheck(); err != nil {
			return err
		}
	}

	ok, err := slot.device.Initialize(ctx)
	if err != nil {
		return err
	}

	if !ok {
		return slot.notFound
	}

	if slot.ready != nil {
		slot.ready(ctx)
	}

	return nil
}

func (o *Orchestrator) release(flag func(*models.ConnectionState) *bool) {
	o.store.Update(func(st models.ConnectionState) models.ConnectionState {
		*flag(&st) = false
		return st
	})
}
