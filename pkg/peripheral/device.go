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

//go:generate mockgen -destination=mock_peripheral.go -package=peripheral github.com/carverauto/sensorlink/pkg/peripheral Device

// Package peripheral defines the narrow contract the orchestrator uses to
// drive locally attached sensors, and the event channel they report on.
package peripheral

import (
	"context"
	"errors"

	"github.com/carverauto/sensorlink/pkg/models"
)

var (
	// ErrUnavailable is returned by devices whose backing hardware or
	// system service is absent.
	ErrUnavailable = errors.New("device unavailable")
	// ErrUnknownDevice is returned by Connect for a descriptor the device
	// does not recognise.
	ErrUnknownDevice = errors.New("unknown device")
)

// Device is one locally attached or paired sensor. The orchestrator never
// looks past these calls.
type Device interface {
	Kind() models.DeviceKind
	// Initialize prepares the device. false with a nil error means the
	// device is simply not present.
	Initialize(ctx context.Context) (bool, error)
	IsAvailable(ctx context.Context) bool
	Scan(ctx context.Context) ([]models.PeripheralDescriptor, error)
	Connect(ctx context.Context, desc models.PeripheralDescriptor) (bool, error)
}
