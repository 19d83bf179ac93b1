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

// Package bluez drives a Bluetooth biosignal sensor through bluetoothd.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/peripheral"
)

const DefaultAdapter = "hci0"

var errNotPowered = errors.New("bluetooth adapter is not powered")

// Sensor is the biosignal peripheral slot backed by BlueZ.
type Sensor struct {
	bus     Bus
	adapter dbus.ObjectPath
	logger  logger.Logger
}

var _ peripheral.Device = (*Sensor)(nil)

func NewSensor(bus Bus, adapter string, log logger.Logger) *Sensor {
	if adapter == "" {
		adapter = DefaultAdapter
	}

	return &Sensor{
		bus:     bus,
		adapter: dbus.ObjectPath("/org/bluez/" + adapter),
		logger:  log,
	}
}

func (*Sensor) Kind() models.DeviceKind {
	return models.DevicePeripheral
}

// Initialize succeeds when the adapter is powered and at least one sensor
// is already connected.
func (s *Sensor) Initialize(ctx context.Context) (bool, error) {
	powered, err := s.bus.AdapterPowered(ctx, s.adapter)
	if err != nil {
		return false, err
	}

	if !powered {
		return false, errNotPowered
	}

	devices, err := s.Scan(ctx)
	if err != nil {
		return false, err
	}

	for _, d := range devices {
		if d.Connected {
			s.logger.Info().Str("address", d.Address).Str("name", d.DisplayName).Msg("peripheral sensor ready")
			return true, nil
		}
	}

	return false, nil
}

func (s *Sensor) IsAvailable(ctx context.Context) bool {
	powered, err := s.bus.AdapterPowered(ctx, s.adapter)

	return err == nil && powered
}

// Scan lists the devices bluetoothd knows under the adapter.
func (s *Sensor) Scan(ctx context.Context) ([]models.PeripheralDescriptor, error) {
	objects, err := s.bus.ManagedObjects(ctx)
	if err != nil {
		return nil, err
	}

	return DevicesFromObjects(objects, s.adapter), nil
}

func (s *Sensor) Connect(ctx context.Context, desc models.PeripheralDescriptor) (bool, error) {
	if desc.Address == "" {
		return false, fmt.Errorf("%w: empty address", peripheral.ErrUnknownDevice)
	}

	path := DevicePath(s.adapter, desc.Address)

	if err := s.bus.ConnectDevice(ctx, path); err != nil {
		return false, err
	}

	s.logger.Info().Str("address", desc.Address).Msg("peripheral sensor connected")

	return true, nil
}

// Watch forwards Device1 Connected changes to emitter until ctx is done.
func (s *Sensor) Watch(ctx context.Context, emitter *peripheral.Emitter) error {
	signals := make(chan *dbus.Signal, 16)
	errCh := make(chan error, 1)

	go func() { errCh <- s.bus.WatchProperties(ctx, signals) }()

	for {
		select {
		case err := <-errCh:
			return err
		case sig := <-signals:
			ev, ok := EventFromSignal(sig, s.adapter)
			if !ok {
				continue
			}

			if err := emitter.Emit(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// DevicePath maps a MAC address to its BlueZ object path.
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

func addressFromPath(adapter, path dbus.ObjectPath) (string, bool) {
	prefix := string(adapter) + "/dev_"

	rest, ok := strings.CutPrefix(string(path), prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}

	return strings.ReplaceAll(rest, "_", ":"), true
}

// DevicesFromObjects extracts Device1 entries directly under adapter, sorted
// by address. A device reporting a Class is classic radio, otherwise LE.
func DevicesFromObjects(objects ManagedObjects, adapter dbus.ObjectPath) []models.PeripheralDescriptor {
	var out []models.PeripheralDescriptor

	for path, ifaces := range objects {
		props, ok := ifaces[deviceInterface]
		if !ok {
			continue
		}

		address, ok := addressFromPath(adapter, path)
		if !ok {
			continue
		}

		if v, ok := stringProp(props, "Address"); ok {
			address = v
		}

		desc := models.PeripheralDescriptor{
			Address:     address,
			DisplayName: address,
			Transport:   models.TransportLowEnergyRadio,
		}

		if name, ok := stringProp(props, "Alias"); ok && name != "" {
			desc.DisplayName = name
		} else if name, ok := stringProp(props, "Name"); ok && name != "" {
			desc.DisplayName = name
		}

		if _, ok := props["Class"]; ok {
			desc.Transport = models.TransportClassicRadio
		}

		if v, ok := props["Connected"]; ok {
			desc.Connected, _ = v.Value().(bool)
		}

		out = append(out, desc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })

	return out
}

// EventFromSignal turns a Device1 PropertiesChanged carrying Connected
// into a peripheral event.
func EventFromSignal(sig *dbus.Signal, adapter dbus.ObjectPath) (peripheral.Event, bool) {
	if sig == nil || sig.Name != signalPropertiesChanged || len(sig.Body) < 2 {
		return peripheral.Event{}, false
	}

	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceInterface {
		return peripheral.Event{}, false
	}

	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return peripheral.Event{}, false
	}

	v, ok := changed["Connected"]
	if !ok {
		return peripheral.Event{}, false
	}

	connected, ok := v.Value().(bool)
	if !ok {
		return peripheral.Event{}, false
	}

	address, ok := addressFromPath(adapter, sig.Path)
	if !ok {
		return peripheral.Event{}, false
	}

	return peripheral.Event{
		Kind: models.DevicePeripheral,
		Descriptor: models.PeripheralDescriptor{
			Address:     address,
			DisplayName: address,
			Connected:   connected,
		},
		Connected: connected,
	}, true
}

func stringProp(props map[string]dbus.Variant, name string) (string, bool) {
	v, ok := props[name]
	if !ok {
		return "", false
	}

	s, ok := v.Value().(string)

	return s, ok
}
