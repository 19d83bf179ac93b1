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
	"time"

	"github.com/carverauto/sensorlink/pkg/models"
)

const (
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 10 * time.Second
	DefaultMaxAttempts    = 3
)

// Policy bounds a reconnection run.
type Policy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration // zero means uncapped
	AttemptTimeout time.Duration
	MaxAttempts    int
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
		MaxAttempts:    DefaultMaxAttempts,
	}
}

// PolicyFromConfig fills unset fields of cfg with defaults.
func PolicyFromConfig(cfg models.ReconnectConfig) Policy {
	p := Policy{
		BaseDelay:      cfg.BaseDelay.Or(DefaultBaseDelay),
		MaxDelay:       cfg.MaxDelay.Or(DefaultMaxDelay),
		AttemptTimeout: cfg.AttemptTimeout.Or(DefaultAttemptTimeout),
		MaxAttempts:    cfg.MaxAttempts,
	}

	return p.normalize()
}

// Delay is the wait before the given 1-based attempt: none before the first,
// then BaseDelay doubling from the second attempt on.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}

	shift := attempt - 2
	if shift > 30 {
		shift = 30
	}

	delay := p.BaseDelay * time.Duration(1<<shift)

	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		return p.MaxDelay
	}

	return delay
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	return p
}
