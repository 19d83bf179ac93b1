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

package resilience

import (
	"errors"
	"fmt"

	"github.com/carverauto/sensorlink/pkg/models"
)

var (
	// ErrNothingToReconnect means no target was ever connected.
	ErrNothingToReconnect = errors.New("no previously connected device to reconnect to")
	// ErrExhausted matches any *ExhaustedError.
	ErrExhausted = errors.New("reconnection attempts exhausted")
	// ErrReconnectInProgress is returned when a run for the same target is active.
	ErrReconnectInProgress = errors.New("reconnection already in progress")
)

// ExhaustedError reports the terminal failure of a reconnection run.
type ExhaustedError struct {
	Target   models.PeripheralDescriptor
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	name := e.Target.DisplayName
	if name == "" {
		name = e.Target.Address
	}

	return fmt.Sprintf("failed to reconnect to %s after %d attempts: %v", name, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}
