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
	"errors"
	"fmt"

	"github.com/carverauto/sensorlink/pkg/logger"
)

var (
	errInvalidConcurrency = errors.New("discovery concurrency must not be negative")
	errInvalidAttempts    = errors.New("reconnect max_attempts must not be negative")
	errMissingNATSURL     = errors.New("nats url is required")
)

// LinkConfig is the configuration of the sensorlinkd daemon.
type LinkConfig struct {
	Controller  ServerConfiguration `json:"controller"`
	Identity    IdentityConfig      `json:"identity"`
	Discovery   DiscoveryConfig     `json:"discovery"`
	Reconnect   ReconnectConfig     `json:"reconnect"`
	StateStream StateStreamConfig   `json:"state_stream"`
	NATS        *NATSConfig         `json:"nats,omitempty"`
	Bluetooth   BluetoothConfig     `json:"bluetooth"`
	Devices     DevicePathsConfig   `json:"devices"`
	Logging     *logger.Config      `json:"logging,omitempty"`
}

// IdentityConfig is what this device announces in the handshake.
type IdentityConfig struct {
	DeviceName      string `json:"device_name"`
	AppVersion      string `json:"app_version"`
	DeviceType      string `json:"device_type"`
	ProtocolVersion int    `json:"protocol_version"`
}

type DiscoveryConfig struct {
	Enabled       bool     `json:"enabled"`
	ProbeTimeout  Duration `json:"probe_timeout"`
	VerifyTimeout Duration `json:"verify_timeout"`
	Concurrency   int      `json:"concurrency"`
}

type ReconnectConfig struct {
	BaseDelay      Duration `json:"base_delay"`
	MaxDelay       Duration `json:"max_delay"`
	AttemptTimeout Duration `json:"attempt_timeout"`
	MaxAttempts    int      `json:"max_attempts"`
}

// StateStreamConfig controls the WebSocket state stream. Empty ListenAddr disables it.
type StateStreamConfig struct {
	ListenAddr string `json:"listen_addr"`
	Path       string `json:"path"`
}

// NATSConfig enables the state publisher. A non-empty Stream publishes
// through JetStream, creating the stream when it is missing.
type NATSConfig struct {
	URL     string    `json:"url"`
	Subject string    `json:"subject"`
	Stream  string    `json:"stream,omitempty"`
	Source  string    `json:"source,omitempty"`
	TLS     *TLSFiles `json:"tls,omitempty"`
}

// TLSFiles locates the PEM files for a mutual TLS client.
type TLSFiles struct {
	CAFile     string `json:"ca_file"`
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	ServerName string `json:"server_name,omitempty"`
}

type BluetoothConfig struct {
	Enabled bool   `json:"enabled"`
	Adapter string `json:"adapter"`
}

// DevicePathsConfig overrides where local devices are looked up.
type DevicePathsConfig struct {
	VideoGlob   string `json:"video_glob"`
	USBSysfsDir string `json:"usb_sysfs_dir"`
}

// Validate implements config.Validator.
func (c *LinkConfig) Validate() error {
	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	if c.Discovery.Concurrency < 0 {
		return errInvalidConcurrency
	}

	if c.Reconnect.MaxAttempts < 0 {
		return errInvalidAttempts
	}

	if c.NATS != nil && c.NATS.URL == "" {
		return errMissingNATSURL
	}

	return nil
}
