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

	"github.com/carverauto/sensorlink/pkg/controlclient"
	"github.com/carverauto/sensorlink/pkg/discovery"
	"github.com/carverauto/sensorlink/pkg/models"
)

// ConnectController locates the controller, falling back to the configured
// address when discovery finds nothing, and opens a handshaken session.
// ControllerConnected and the controller address are set only after a
// compatible acknowledgement. Only one call runs at a time.
func (o *Orchestrator) ConnectController(ctx context.Context) (string, error) {
	if !o.connecting.CompareAndSwap(false, true) {
		return "", ErrAlreadyInProgress
	}

	defer o.connecting.Store(false)

	cfg := o.holder.Get()

	if o.discovery != nil {
		found, ok, err := o.discovery.Discover(ctx)

		switch {
		case err == nil && ok:
			o.logger.Info().Str("addr", found.ControlAddress()).Msg("using discovered controller")
			cfg = found
		case err == nil:
			o.logger.Info().Str("addr", cfg.ControlAddress()).Msg("using configured controller address")
		case errors.Is(err, discovery.ErrAlreadyRunning):
			return "", ErrAlreadyInProgress
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			o.logger.Warn().Err(err).Msg("discovery failed, using configured controller address")
		}
	}

	if err := o.Close(); err != nil {
		o.logger.Debug().Err(err).Msg("previous controller session close failed")
	}

	session, err := o.dialer.Dial(ctx, cfg, o.cfg.Identity)
	if err != nil {
		o.store.Update(func(st models.ConnectionState) models.ConnectionState {
			st.ControllerConnected = false
			st.Inventory.ControllerAddress = nil
			st.LastError = models.StringPtr("controller connection failed: " + err.Error())

			return st
		})

		o.logger.Error().Err(err).Str("addr", cfg.ControlAddress()).Msg("controller connection failed")

		return "", err
	}

	o.mu.Lock()
	previous := o.session
	o.session = session
	o.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			o.logger.Debug().Err(err).Msg("replaced controller session close failed")
		}
	}

	addr := session.RemoteAddr()

	o.store.Update(func(st models.ConnectionState) models.ConnectionState {
		st.ControllerConnected = true
		st.Inventory.ControllerAddress = models.StringPtr(addr)

		return st
	})

	go o.watchSession(session)

	return "Connected to controller at " + addr, nil
}

// watchSession clears the controller flags when the controller behind
// session goes away while it is still the active session.
func (o *Orchestrator) watchSession(session *controlclient.Session) {
	<-session.Done()

	lost := session.Err()
	if lost == nil {
		return
	}

	o.mu.Lock()
	current := o.session == session
	if current {
		o.session = nil
	}
	o.mu.Unlock()

	if !current {
		return
	}

	o.store.Update(func(st models.ConnectionState) models.ConnectionState {
		st.ControllerConnected = false
		st.Inventory.ControllerAddress = nil
		st.LastError = models.StringPtr(lost.Error())

		return st
	})

	o.logger.Warn().Err(lost).Str("addr", session.RemoteAddr()).Msg("controller session lost")
}

// DisconnectController closes the session and clears the controller flags.
func (o *Orchestrator) DisconnectController() error {
	err := o.Close()

	o.store.Update(func(st models.ConnectionState) models.ConnectionState {
		st.ControllerConnected = false
		st.Inventory.ControllerAddress = nil

		return st
	})

	o.logger.Info().Msg("disconnected from controller")

	return err
}

// Session returns the live controller session, if any. The caller may
// Detach it to hand the socket to a data-plane client.
func (o *Orchestrator) Session() (*controlclient.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil || !o.session.Alive() {
		return nil, false
	}

	return o.session, true
}
