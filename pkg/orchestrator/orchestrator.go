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

// Package orchestrator brings up the local sensors and the controller link
// and keeps the connection state current as devices come and go.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/carverauto/sensorlink/pkg/controlclient"
	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/peripheral"
	"github.com/carverauto/sensorlink/pkg/resilience"
	"github.com/carverauto/sensorlink/pkg/state"
)

var (
	// ErrAlreadyInProgress rejects a run while another is active. Retry later.
	ErrAlreadyInProgress = errors.New("operation already in progress")
	// ErrNotConfigured is returned for a device slot with no collaborator.
	ErrNotConfigured = errors.New("device not configured")

	errMissingStore   = errors.New("orchestrator requires a state store")
	errMissingHolder  = errors.New("orchestrator requires a controller configuration holder")
	errMissingDialer  = errors.New("orchestrator requires a controller dialer")
	errConnectRefused = errors.New("device refused connection")
)

// Discoverer finds the controller. found=false means keep the configured address.
type Discoverer interface {
	Discover(ctx context.Context) (models.ServerConfiguration, bool, error)
}

// ControllerDialer opens a handshaken control session.
type ControllerDialer interface {
	Dial(ctx context.Context, cfg models.ServerConfiguration, id controlclient.Identity) (*controlclient.Session, error)
}

// Config holds the orchestrator's own settings.
type Config struct {
	Identity controlclient.Identity
	Policy   resilience.Policy
}

// Deps are the explicitly constructed collaborators. Device slots may be nil.
type Deps struct {
	Camera     peripheral.Device
	Thermal    peripheral.Device
	Peripheral peripheral.Device
	Discovery  Discoverer
	Dialer     ControllerDialer
	Holder     *models.ConfigHolder
	Store      *state.Store
	Logger     logger.Logger
	// Clock overrides the resilience backoff clock, for tests.
	Clock resilience.Clock
}

// Orchestrator owns the device collaborators and the controller session.
type Orchestrator struct {
	cfg        Config
	camera     peripheral.Device
	thermal    peripheral.Device
	sensor     peripheral.Device
	discovery  Discoverer
	dialer     ControllerDialer
	holder     *models.ConfigHolder
	store      *state.Store
	reconnects *resilience.Controller
	logger     logger.Logger

	connecting atomic.Bool

	mu      sync.Mutex
	session *controlclient.Session
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errMissingStore
	case deps.Holder == nil:
		return nil, errMissingHolder
	case deps.Dialer == nil:
		return nil, errMissingDialer
	}

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	o := &Orchestrator{
		cfg:       cfg,
		camera:    deps.Camera,
		thermal:   deps.Thermal,
		sensor:    deps.Peripheral,
		discovery: deps.Discovery,
		dialer:    deps.Dialer,
		holder:    deps.Holder,
		store:     deps.Store,
		logger:    log,
	}

	opts := []resilience.Option{
		resilience.WithHooks(resilience.Hooks{
			OnConnected:    func(d models.PeripheralDescriptor) { o.markPeripheral(d, true) },
			OnDisconnected: func(d models.PeripheralDescriptor) { o.markPeripheral(d, false) },
		}),
	}

	if deps.Clock != nil {
		opts = append(opts, resilience.WithClock(deps.Clock))
	}

	o.reconnects = resilience.NewController(cfg.Policy, o.connectSensor, log.WithComponent("resilience"), opts...)

	return o, nil
}

// Snapshot returns the current connection state.
func (o *Orchestrator) Snapshot() models.ConnectionState {
	return o.store.Snapshot()
}

// ClearError drops the last recorded error.
func (o *Orchestrator) ClearError() {
	o.store.ClearError()
}

// IsConnected reports whether any local sensor is connected.
func (o *Orchestrator) IsConnected() bool {
	return o.store.IsAnyDeviceConnected()
}

// Reconnects exposes the peripheral reconnection controller for inspection.
func (o *Orchestrator) Reconnects() *resilience.Controller {
	return o.reconnects
}

// Close releases the controller session.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	session := o.session
	o.session = nil
	o.mu.Unlock()

	if session == nil {
		return nil
	}

	return session.Close()
}

// claim sets a busy flag, failing when it is already set.
func (o *Orchestrator) claim(flag func(*models.ConnectionState) *bool) bool {
	_, ok := o.store.UpdateIf(func(st models.ConnectionState) (models.ConnectionState, bool) {
		p := flag(&st)
		if *p {
			return st, false
		}

		*p = true

		return st, true
	})

	return ok
}

func initializing(st *models.ConnectionState) *bool { return &st.IsInitializing }
func scanning(st *models.ConnectionState) *bool     { return &st.IsScanning }
