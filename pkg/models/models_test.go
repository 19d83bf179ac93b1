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

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportJSON(t *testing.T) {
	data, err := json.Marshal(PeripheralDescriptor{Address: "00:06:66:AA:BB:CC", Transport: TransportLowEnergyRadio})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"transport":"le"`)

	var desc PeripheralDescriptor
	require.NoError(t, json.Unmarshal([]byte(`{"address":"x","transport":"classic"}`), &desc))
	assert.Equal(t, TransportClassicRadio, desc.Transport)

	err = json.Unmarshal([]byte(`{"transport":"zigbee"}`), &desc)
	require.ErrorIs(t, err, errUnknownTransport)

	assert.Equal(t, "transport(7)", Transport(7).String())
}

func TestConnectionStateCloneIsDeep(t *testing.T) {
	orig := ConnectionState{
		LastError: StringPtr("boom"),
		Inventory: DeviceInventory{
			AvailableCameraIDs: []string{"/dev/video0"},
			PeripheralDevices:  []PeripheralDescriptor{{Address: "a"}},
			ControllerAddress:  StringPtr("10.0.0.100:9000"),
			ThermalModel:       StringPtr("Topdon TC001"),
		},
	}

	cp := orig.Clone()
	*cp.LastError = "changed"
	cp.Inventory.AvailableCameraIDs[0] = "changed"
	cp.Inventory.PeripheralDevices[0].Connected = true
	*cp.Inventory.ControllerAddress = "changed"
	*cp.Inventory.ThermalModel = "changed"

	assert.Equal(t, "boom", *orig.LastError)
	assert.Equal(t, "/dev/video0", orig.Inventory.AvailableCameraIDs[0])
	assert.False(t, orig.Inventory.PeripheralDevices[0].Connected)
	assert.Equal(t, "10.0.0.100:9000", *orig.Inventory.ControllerAddress)
	assert.Equal(t, "Topdon TC001", *orig.Inventory.ThermalModel)
}

func TestConnectionStateDeviceFlags(t *testing.T) {
	var st ConnectionState

	for _, kind := range []DeviceKind{DeviceCamera, DeviceThermal, DevicePeripheral, DeviceController} {
		st.SetConnected(kind, true)
		assert.True(t, st.Connected(kind), kind)
	}

	st.SetConnected(DeviceCamera, false)
	st.SetConnected(DeviceThermal, false)
	st.SetConnected(DevicePeripheral, false)
	assert.False(t, st.AnyLocalConnected(), "controller alone is not a local device")
	assert.False(t, st.Connected(DeviceKind("gps")))
}

func TestServerConfiguration(t *testing.T) {
	cfg := ServerConfiguration{Host: "fe80::1", ControlPort: 9000, DataPort: 9001}

	assert.Equal(t, "[fe80::1]:9000", cfg.ControlAddress())
	assert.Equal(t, "[fe80::1]:9001", cfg.DataAddress())
	assert.Equal(t, "10.0.0.5:9000", cfg.WithHost("10.0.0.5").ControlAddress())
	assert.Equal(t, "fe80::1", cfg.Host, "WithHost must not modify the receiver")

	require.NoError(t, cfg.Validate())
	require.ErrorIs(t, ServerConfiguration{ControlPort: 9000}.Validate(), errEmptyHost)
	require.ErrorIs(t, ServerConfiguration{Host: "h", ControlPort: 70000}.Validate(), errInvalidPort)
	require.ErrorIs(t, ServerConfiguration{Host: "h", ControlPort: 9000, DataPort: -1}.Validate(), errInvalidPort)
}

func TestConfigHolder(t *testing.T) {
	h := NewConfigHolder(ServerConfiguration{Host: "192.168.1.100", ControlPort: 9000})

	h.Set(h.Get().WithHost("10.0.0.100"))
	assert.Equal(t, "10.0.0.100:9000", h.Get().ControlAddress())
}

func TestDuration(t *testing.T) {
	var cfg struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a":"1.5s","b":2000000}`), &cfg))
	assert.Equal(t, 1500*time.Millisecond, time.Duration(cfg.A))
	assert.Equal(t, 2*time.Millisecond, time.Duration(cfg.B))

	assert.Equal(t, time.Second, Duration(0).Or(time.Second))
	assert.Equal(t, 1500*time.Millisecond, cfg.A.Or(time.Second))

	require.ErrorIs(t, json.Unmarshal([]byte(`{"a":"soon"}`), &cfg), errInvalidDuration)
	require.ErrorIs(t, json.Unmarshal([]byte(`{"a":true}`), &cfg), errInvalidDuration)

	out, err := json.Marshal(Duration(3 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"3s"`, string(out))
}

func TestReconnectionSession(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewReconnectionSession(PeripheralDescriptor{Address: "a"}, 3, now)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, s.Attempt)
	assert.Equal(t, now, s.StartedAt)
	assert.False(t, s.Exhausted())

	s.Attempt = 3
	assert.True(t, s.Exhausted())
}

func TestLinkConfigValidate(t *testing.T) {
	valid := LinkConfig{Controller: ServerConfiguration{Host: "10.0.0.5", ControlPort: 9000}}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Discovery.Concurrency = -1
	require.ErrorIs(t, bad.Validate(), errInvalidConcurrency)

	bad = valid
	bad.Reconnect.MaxAttempts = -2
	require.ErrorIs(t, bad.Validate(), errInvalidAttempts)

	bad = valid
	bad.NATS = &NATSConfig{Subject: "sensorlink.state"}
	require.ErrorIs(t, bad.Validate(), errMissingNATSURL)

	bad = valid
	bad.Controller.Host = ""
	require.ErrorIs(t, bad.Validate(), errEmptyHost)
}
