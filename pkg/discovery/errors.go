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

package discovery

import "errors"

var (
	// ErrUnreachable means nothing accepted a connection (refused or timed out).
	ErrUnreachable = errors.New("candidate unreachable")
	// ErrNotController means something accepted the connection but did not
	// answer the framed ping, so it is some other service on the same port.
	ErrNotController = errors.New("candidate is not the controller")
	// ErrAlreadyRunning is returned when a discovery or device scan is active.
	ErrAlreadyRunning = errors.New("discovery already in progress")

	errNoInterfaces = errors.New("no usable IPv4 interfaces")
)
