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
	"net"
	"strconv"
	"sync"
)

var (
	errEmptyHost   = errors.New("controller host is empty")
	errInvalidPort = errors.New("invalid port")
)

const maxPort = 65535

// ServerConfiguration is where the controller listens.
type ServerConfiguration struct {
	Host        string `json:"host"`
	ControlPort int    `json:"control_port"`
	DataPort    int    `json:"data_port"`
}

// ControlAddress returns host:controlPort.
func (c ServerConfiguration) ControlAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.ControlPort))
}

// DataAddress returns host:dataPort.
func (c ServerConfiguration) DataAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.DataPort))
}

// WithHost returns a copy of c pointing at host.
func (c ServerConfiguration) WithHost(host string) ServerConfiguration {
	c.Host = host

	return c
}

func (c ServerConfiguration) Validate() error {
	if c.Host == "" {
		return errEmptyHost
	}

	if c.ControlPort <= 0 || c.ControlPort > maxPort {
		return fmt.Errorf("%w: control_port %d", errInvalidPort, c.ControlPort)
	}

	if c.DataPort < 0 || c.DataPort > maxPort {
		return fmt.Errorf("%w: data_port %d", errInvalidPort, c.DataPort)
	}

	return nil
}

// ConfigHolder is the process-wide, replaceable controller configuration.
// Discovery swaps in a discovered value for the remainder of the process.
type ConfigHolder struct {
	mu  sync.RWMutex
	cfg ServerConfiguration
}

func NewConfigHolder(cfg ServerConfiguration) *ConfigHolder {
	return &ConfigHolder{cfg: cfg}
}

func (h *ConfigHolder) Get() ServerConfiguration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

func (h *ConfigHolder) Set(cfg ServerConfiguration) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}
