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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	TypePing = "ping"

	frameHeaderLen = 4
	// MaxFrameSize bounds length-prefixed frames read from the wire.
	MaxFrameSize = 1 << 20
)

// Ping is the body of the discovery identity probe.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewPing returns a ping stamped with now in milliseconds.
func NewPing(now time.Time) Ping {
	return Ping{Type: TypePing, Timestamp: now.UnixMilli()}
}

// EncodeLengthPrefixed returns a 4-byte big-endian length followed by body.
func EncodeLengthPrefixed(body []byte) []byte {
	out := make([]byte, frameHeaderLen+len(body))
	binary.BigEndian.PutUint32(out[:frameHeaderLen], uint32(len(body)))
	copy(out[frameHeaderLen:], body)

	return out
}

// WritePing writes one length-prefixed ping frame to w.
func WritePing(w io.Writer, now time.Time) error {
	body, err := json.Marshal(NewPing(now))
	if err != nil {
		return err
	}

	_, err = w.Write(EncodeLengthPrefixed(body))

	return err
}

// ReadFrame reads one length-prefixed frame from r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLen]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ParseError{Err: ErrShortFrame}
		}

		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, &ParseError{Field: fmt.Sprintf("%d bytes", size), Err: ErrFrameTooLarge}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &ParseError{Err: ErrShortFrame}
	}

	return payload, nil
}

// ReadFrameHeader reads only the 4-byte header and returns the announced length.
// Discovery uses it because reply payloads are not validated.
func ReadFrameHeader(r io.Reader) (uint32, error) {
	var header [frameHeaderLen]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, &ParseError{Err: ErrShortFrame}
		}

		return 0, err
	}

	return binary.BigEndian.Uint32(header[:]), nil
}
