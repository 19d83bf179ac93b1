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

// Package models holds the data types shared by the sensorlink packages.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errUnknownTransport = errors.New("unknown peripheral transport")

// DeviceKind identifies one of the devices the orchestrator manages.
type DeviceKind string

const (
	DeviceCamera     DeviceKind = "camera"
	DeviceThermal    DeviceKind = "thermal"
	DevicePeripheral DeviceKind = "peripheral"
	DeviceController DeviceKind = "controller"
)

// Transport is the radio a peripheral is reached over.
type Transport int

const (
	TransportClassicRadio Transport = iota
	TransportLowEnergyRadio
)

func (t Transport) String() string {
	switch t {
	case TransportClassicRadio:
		return "classic"
	case TransportLowEnergyRadio:
		return "le"
	default:
		return fmt.Sprintf("transport(%d)", int(t))
	}
}

func (t Transport) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Transport) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	switch s {
	case "classic":
		*t = TransportClassicRadio
	case "le":
		*t = TransportLowEnergyRadio
	default:
		return fmt.Errorf("%w: %q", errUnknownTransport, s)
	}

	return nil
}

// PeripheralDescriptor identifies a paired or discoverable peripheral.
type PeripheralDescriptor struct {
	Address     string    `json:"address"`
	DisplayName string    `json:"display_name"`
	Transport   Transport `json:"transport"`
	Connected   bool      `json:"connected"`
}

// DeviceInventory is what the last scan and controller connect found.
type DeviceInventory struct {
	AvailableCameraIDs []string               `json:"available_camera_ids"`
	PeripheralDevices  []PeripheralDescriptor `json:"peripheral_devices"`
	ControllerAddress  *string                `json:"controller_address,omitempty"`
	ThermalModel       *string                `json:"thermal_model,omitempty"`
}

// ConnectionState is the aggregate connection record owned by the state store.
// Values are treated as immutable once published; use Clone before mutating.
type ConnectionState struct {
	CameraConnected     bool            `json:"camera_connected"`
	ThermalConnected    bool            `json:"thermal_connected"`
	PeripheralConnected bool            `json:"peripheral_connected"`
	ControllerConnected bool            `json:"controller_connected"`
	IsInitializing      bool            `json:"is_initializing"`
	IsScanning          bool            `json:"is_scanning"`
	LastError           *string         `json:"last_error,omitempty"`
	Inventory           DeviceInventory `json:"inventory"`
}

// Clone returns a deep copy that shares no slices or pointers with s.
func (s ConnectionState) Clone() ConnectionState {
	out := s
	out.LastError = cloneString(s.LastError)
	out.Inventory = s.Inventory.Clone()

	return out
}

// Clone returns a deep copy of the inventory.
func (inv DeviceInventory) Clone() DeviceInventory {
	out := inv

	if inv.AvailableCameraIDs != nil {
		out.AvailableCameraIDs = append([]string(nil), inv.AvailableCameraIDs...)
	}

	if inv.PeripheralDevices != nil {
		out.PeripheralDevices = append([]PeripheralDescriptor(nil), inv.PeripheralDevices...)
	}

	out.ControllerAddress = cloneString(inv.ControllerAddress)
	out.ThermalModel = cloneString(inv.ThermalModel)

	return out
}

// Connected reports the per-device boolean for kind.
func (s *ConnectionState) Connected(kind DeviceKind) bool {
	switch kind {
	case DeviceCamera:
		return s.CameraConnected
	case DeviceThermal:
		return s.ThermalConnected
	case DevicePeripheral:
		return s.PeripheralConnected
	case DeviceController:
		return s.ControllerConnected
	default:
		return false
	}
}

// SetConnected sets the per-device boolean for kind.
func (s *ConnectionState) SetConnected(kind DeviceKind, connected bool) {
	switch kind {
	case DeviceCamera:
		s.CameraConnected = connected
	case DeviceThermal:
		s.ThermalConnected = connected
	case DevicePeripheral:
		s.PeripheralConnected = connected
	case DeviceController:
		s.ControllerConnected = connected
	}
}

// AnyLocalConnected reports whether at least one local sensor is up.
func (s *ConnectionState) AnyLocalConnected() bool {
	return s.CameraConnected || s.ThermalConnected || s.PeripheralConnected
}

// StringPtr returns a pointer to a copy of v.
func StringPtr(v string) *string {
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}
