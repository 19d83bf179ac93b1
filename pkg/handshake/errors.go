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

package handshake

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed       = errors.New("malformed message")
	ErrMissingField    = errors.New("missing required field")
	ErrUnexpectedType  = errors.New("unexpected message type")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
	ErrShortFrame      = errors.New("short frame header")
	ErrIncompatible    = errors.New("controller protocol is incompatible")
	errNilMessageValue = errors.New("nothing to encode")
)

// ParseError is returned for any message that cannot be decoded.
// It is recoverable: the session is simply not established.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("handshake parse error: %v: %s", e.Err, e.Field)
	}

	return fmt.Sprintf("handshake parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CompatibilityError reports a refused or mismatched handshake.
type CompatibilityError struct {
	Local   int
	Remote  int
	Message string
}

func (e *CompatibilityError) Error() string {
	msg := fmt.Sprintf("controller protocol version %d is not compatible with local version %d", e.Remote, e.Local)
	if e.Message != "" {
		msg += ": " + e.Message
	}

	return msg
}

func (*CompatibilityError) Unwrap() error {
	return ErrIncompatible
}
