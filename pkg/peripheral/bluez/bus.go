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

package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	busName = "org.bluez"

	adapterInterface    = "org.bluez.Adapter1"
	deviceInterface     = "org.bluez.Device1"
	propertiesInterface = "org.freedesktop.DBus.Properties"

	methodGetManagedObjects = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	methodDeviceConnect     = "org.bluez.Device1.Connect"
	signalPropertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// ManagedObjects is the reply of ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Bus is the slice of the BlueZ D-Bus API the sensor needs.
type Bus interface {
	ManagedObjects(ctx context.Context) (ManagedObjects, error)
	AdapterPowered(ctx context.Context, adapter dbus.ObjectPath) (bool, error)
	ConnectDevice(ctx context.Context, device dbus.ObjectPath) error
	// WatchProperties delivers PropertiesChanged signals for Device1 objects
	// until ctx is done.
	WatchProperties(ctx context.Context, out chan<- *dbus.Signal) error
}

// SystemBus talks to bluetoothd over the system bus.
type SystemBus struct {
	conn *dbus.Conn
}

var _ Bus = (*SystemBus)(nil)

// ConnectSystemBus opens a private system bus connection.
func ConnectSystemBus() (*SystemBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	return &SystemBus{conn: conn}, nil
}

func (b *SystemBus) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	objects := make(ManagedObjects)

	obj := b.conn.Object(busName, "/")
	if err := obj.CallWithContext(ctx, methodGetManagedObjects, 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to get managed objects: %w", err)
	}

	return objects, nil
}

func (b *SystemBus) AdapterPowered(ctx context.Context, adapter dbus.ObjectPath) (bool, error) {
	var powered dbus.Variant

	obj := b.conn.Object(busName, adapter)
	if err := obj.CallWithContext(ctx, propertiesInterface+".Get", 0, adapterInterface, "Powered").Store(&powered); err != nil {
		return false, fmt.Errorf("failed to read %s Powered: %w", adapter, err)
	}

	v, ok := powered.Value().(bool)

	return ok && v, nil
}

func (b *SystemBus) ConnectDevice(ctx context.Context, device dbus.ObjectPath) error {
	obj := b.conn.Object(busName, device)
	if err := obj.CallWithContext(ctx, methodDeviceConnect, 0).Err; err != nil {
		return fmt.Errorf("failed to connect %s: %w", device, err)
	}

	return nil
}

func (b *SystemBus) WatchProperties(ctx context.Context, out chan<- *dbus.Signal) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, deviceInterface),
	}

	if err := b.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("failed to add match rule: %w", err)
	}

	signals := make(chan *dbus.Signal, 64)
	b.conn.Signal(signals)

	defer func() {
		b.conn.RemoveSignal(signals)
		_ = b.conn.RemoveMatchSignal(opts...)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}

			select {
			case out <- sig:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close closes the bus connection.
func (b *SystemBus) Close() error {
	return b.conn.Close()
}
