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

// Package handshake builds and parses the versioned controller handshake.
// Messages are UTF-8 JSON objects, one per line.
package handshake

import (
	"bytes"
	"encoding/json"
)

const (
	// ProtocolVersion is the version this build speaks.
	ProtocolVersion = 1

	TypeHandshake    = "handshake"
	TypeHandshakeAck = "handshake_ack"

	delimiter = '\n'
)

// Message is the handshake a device sends to the controller.
type Message struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	DeviceName      string `json:"device_name"`
	AppVersion      string `json:"app_version"`
	DeviceType      string `json:"device_type"`
}

// Ack is the controller's reply to a handshake.
type Ack struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	ServerName      string `json:"server_name"`
	ServerVersion   string `json:"server_version"`
	Compatible      bool   `json:"compatible"`
	Message         string `json:"message,omitempty"`
}

// BuildHandshake constructs the handshake message. It has no side effects.
func BuildHandshake(localProtocolVersion int, deviceName, appVersion, deviceType string) Message {
	return Message{
		Type:            TypeHandshake,
		ProtocolVersion: localProtocolVersion,
		DeviceName:      deviceName,
		AppVersion:      appVersion,
		DeviceType:      deviceType,
	}
}

// EncodeFramed serializes v as JSON followed by a single newline.
func EncodeFramed(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, errNilMessageValue
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return append(data, delimiter), nil
}

// ParseAck decodes a handshake acknowledgement. Unknown fields are ignored.
func ParseAck(raw []byte) (Ack, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Ack{}, err
	}

	if err := requireFields(fields, "type", "protocol_version", "server_name", "server_version", "compatible"); err != nil {
		return Ack{}, err
	}

	var ack Ack
	if err := json.Unmarshal(bytes.TrimSpace(raw), &ack); err != nil {
		return Ack{}, &ParseError{Err: ErrMalformed}
	}

	if ack.Type != TypeHandshakeAck {
		return Ack{}, &ParseError{Field: ack.Type, Err: ErrUnexpectedType}
	}

	return ack, nil
}

// ParseHandshake decodes a handshake message, as a controller would.
func ParseHandshake(raw []byte) (Message, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Message{}, err
	}

	if err := requireFields(fields, "type", "protocol_version", "device_name", "app_version", "device_type"); err != nil {
		return Message{}, err
	}

	var msg Message
	if err := json.Unmarshal(bytes.TrimSpace(raw), &msg); err != nil {
		return Message{}, &ParseError{Err: ErrMalformed}
	}

	if msg.Type != TypeHandshake {
		return Message{}, &ParseError{Field: msg.Type, Err: ErrUnexpectedType}
	}

	return msg, nil
}

// IsCompatible reports whether two protocol versions may talk to each other.
// Versions must match exactly.
func IsCompatible(local, remote int) bool {
	return local == remote
}

// ProcessAck accepts an acknowledgement only when the controller says it is
// compatible and the versions agree.
func ProcessAck(localVersion int, ack Ack) error {
	if !ack.Compatible || !IsCompatible(localVersion, ack.ProtocolVersion) {
		return &CompatibilityError{
			Local:   localVersion,
			Remote:  ack.ProtocolVersion,
			Message: ack.Message,
		}
	}

	return nil
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: ErrMalformed}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, &ParseError{Err: ErrMalformed}
	}

	return fields, nil
}

func requireFields(fields map[string]json.RawMessage, names ...string) error {
	for _, name := range names {
		v, ok := fields[name]
		if !ok || bytes.Equal(v, []byte("null")) {
			return &ParseError{Field: name, Err: ErrMissingField}
		}
	}

	return nil
}
