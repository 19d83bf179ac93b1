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

	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/resilience"
)

// Capability keys reported by Capabilities.
const (
	CapabilityCamera     = "camera"
	CapabilityThermal    = "thermal_camera"
	CapabilityPeripheral = "peripheral"
	CapabilityController = "controller"
)

// ScanDevices refreshes the inventory of cameras, peripherals and the
// thermal model. A failing source contributes nothing; it never fails the
// scan. It shares the scanning flag with discovery.
func (o *Orchestrator) ScanDevices(ctx context.Context) (models.DeviceInventory, error) {
	if !o.claim(scanning) {
		return models.DeviceInventory{}, ErrAlreadyInProgress
	}

	var (
		inv      models.DeviceInventory
		released bool
	)

	defer func() {
		if !released {
			o.release(scanning)
		}
	}()

	if o.camera != nil {
		cams, err := o.camera.Scan(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("camera scan failed")
		}

		for _, c := range cams {
			inv.AvailableCameraIDs = append(inv.AvailableCameraIDs, c.Address)
		}
	}

	if o.sensor != nil {
		devices, err := o.sensor.Scan(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("peripheral scan failed")
		}

		inv.PeripheralDevices = devices
	}

	if o.thermal != nil && o.thermal.IsAvailable(ctx) {
		found, err := o.thermal.Scan(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("thermal scan failed")
		}

		if len(found) > 0 {
			inv.ThermalModel = models.StringPtr(found[0].DisplayName)
		}
	}

	if err := ctx.Err(); err != nil {
		return models.DeviceInventory{}, err
	}

	next := o.store.Update(func(st models.ConnectionState) models.ConnectionState {
		controller := st.Inventory.ControllerAddress
		st.Inventory = inv.Clone()
		st.Inventory.ControllerAddress = controller
		st.IsScanning = false

		return st
	})
	released = true

	o.logger.Info().
		Int("cameras", len(inv.AvailableCameraIDs)).
		Int("peripherals", len(inv.PeripheralDevices)).
		Bool("thermal", inv.ThermalModel != nil).
		Msg("device scan completed")

	return next.Inventory, nil
}

// ConnectPeripheral connects desc and remembers it as the reconnection target.
func (o *Orchestrator) ConnectPeripheral(ctx context.Context, desc models.PeripheralDescriptor) error {
	if err := o.connectSensor(ctx, desc); err != nil {
		o.logger.Warn().Str("address", desc.Address).Err(err).Msg("peripheral connection failed")

		return err
	}

	o.reconnects.SetTarget(desc)
	o.markPeripheral(desc, true)

	return nil
}

// ReconnectPeripheral restores the last connected peripheral with backoff.
// Exhaustion is recorded as the last error.
func (o *Orchestrator) ReconnectPeripheral(ctx context.Context, force bool) error {
	err := o.reconnects.Reconnect(ctx, force)

	var exhausted *resilience.ExhaustedError
	if errors.As(err, &exhausted) || errors.Is(err, resilience.ErrNothingToReconnect) {
		o.store.SetError(err.Error())
	}

	return err
}

// RefreshStatus re-reads every device's availability into the state.
func (o *Orchestrator) RefreshStatus(ctx context.Context) (string, error) {
	camera := o.available(ctx, o.camera)
	thermal := o.available(ctx, o.thermal)
	sensor := o.reconnects.Phase() == resilience.PhaseConnected
	_, controller := o.Session()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	o.store.Update(func(st models.ConnectionState) models.ConnectionState {
		st.CameraConnected = camera
		st.ThermalConnected = thermal
		st.PeripheralConnected = sensor
		st.ControllerConnected = controller

		return st
	})

	summary := fmt.Sprintf("Status: Camera=%t, Thermal=%t, Peripheral=%t, Controller=%t", camera, thermal, sensor, controller)
	o.logger.Info().Msg(summary)

	return summary, nil
}

// Capabilities reports which features the attached hardware supports now.
func (o *Orchestrator) Capabilities(ctx context.Context) map[string]bool {
	_, controller := o.Session()

	caps := map[string]bool{
		CapabilityCamera:     o.available(ctx, o.camera),
		CapabilityThermal:    o.available(ctx, o.thermal),
		CapabilityPeripheral: o.available(ctx, o.sensor),
		CapabilityController: controller,
	}

	o.logger.Debug().Interface("capabilities", caps).Msg("device capabilities checked")

	return caps
}

func (o *Orchestrator) available(ctx context.Context, d interface {
	IsAvailable(context.Context) bool
}) bool {
	if d == nil {
		return false
	}

	return d.IsAvailable(ctx)
}

// connectSensor is the resilience connect function for the peripheral slot.
func (o *Orchestrator) connectSensor(ctx context.Context, desc models.PeripheralDescriptor) error {
	if o.sensor == nil {
		return ErrNotConfigured
	}

	ok, err := o.sensor.Connect(ctx, desc)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", errConnectRefused, desc.Address)
	}

	return nil
}

// armReconnect adopts the sensor that came up during initialization as the
// reconnection target. A target that is still connected is kept.
func (o *Orchestrator) armReconnect(ctx context.Context) {
	devices, err := o.sensor.Scan(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("could not list peripherals, reconnection not armed")
		return
	}

	target, known := o.reconnects.Target()

	var pick *models.PeripheralDescriptor

	for i := range devices {
		if !devices[i].Connected {
			continue
		}

		if known && devices[i].Address == target.Address {
			pick = &devices[i]
			break
		}

		if pick == nil {
			pick = &devices[i]
		}
	}

	if pick == nil {
		o.logger.Warn().Msg("no connected peripheral reported, reconnection not armed")
		return
	}

	o.reconnects.SetTarget(*pick)
	o.markPeripheral(*pick, true)

	o.logger.Info().Str("address", pick.Address).Msg("peripheral armed for reconnection")
}

// markPeripheral updates the descriptor's entry in the inventory, adding it
// when the last scan did not see it. Only the reconnection target moves
// PeripheralConnected.
func (o *Orchestrator) markPeripheral(desc models.PeripheralDescriptor, connected bool) {
	target, known := o.reconnects.Target()
	isTarget := known && target.Address == desc.Address

	o.store.Update(func(st models.ConnectionState) models.ConnectionState {
		if isTarget {
			st.PeripheralConnected = connected
		}

		for i := range st.Inventory.PeripheralDevices {
			if st.Inventory.PeripheralDevices[i].Address == desc.Address {
				st.Inventory.PeripheralDevices[i].Connected = connected
				return st
			}
		}

		d := desc
		d.Connected = connected
		st.Inventory.PeripheralDevices = append(st.Inventory.PeripheralDevices, d)

		return st
	})
}
