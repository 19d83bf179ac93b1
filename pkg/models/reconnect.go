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
	"time"

	"github.com/google/uuid"
)

// ReconnectionSession tracks one run of the reconnection loop.
// It is created when reconnection begins and dropped on success or exhaustion.
type ReconnectionSession struct {
	ID          string               `json:"id"`
	Target      PeripheralDescriptor `json:"target"`
	Attempt     int                  `json:"attempt"` // 1-based
	MaxAttempts int                  `json:"max_attempts"`
	StartedAt   time.Time            `json:"started_at"`
}

func NewReconnectionSession(target PeripheralDescriptor, maxAttempts int, now time.Time) *ReconnectionSession {
	return &ReconnectionSession{
		ID:          uuid.New().String(),
		Target:      target,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		StartedAt:   now,
	}
}

// Exhausted reports whether the current attempt is the last one allowed.
func (s *ReconnectionSession) Exhausted() bool {
	return s.Attempt >= s.MaxAttempts
}

// ConnectionAttempt is one entry of a reconnection history.
type ConnectionAttempt struct {
	SessionID string        `json:"session_id"`
	Address   string        `json:"address"`
	Attempt   int           `json:"attempt"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}
