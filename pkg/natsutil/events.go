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

// Package natsutil mirrors the connection state to NATS as CloudEvents.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
)

const (
	DefaultSubject = "sensorlink.state"
	DefaultSource  = "sensorlink/daemon"

	// StateEventType is the CloudEvent type of a published connection state.
	StateEventType = "com.carverauto.sensorlink.connection.state"
)

var errNilConn = errors.New("nats connection is nil")

// StatePublisher publishes connection states. With a JetStream context the
// events are persisted in the configured stream; otherwise they are plain
// core NATS messages.
type StatePublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	source  string
	logger  logger.Logger
}

// NewStatePublisher publishes on nc. When cfg.Stream is set the stream is
// looked up and created if missing, and its subject list is extended to
// cover cfg.Subject.
func NewStatePublisher(ctx context.Context, nc *nats.Conn, cfg models.NATSConfig, log logger.Logger) (*StatePublisher, error) {
	if nc == nil {
		return nil, errNilConn
	}

	if log == nil {
		log = logger.Nop()
	}

	p := &StatePublisher{
		nc:      nc,
		subject: cfg.Subject,
		source:  cfg.Source,
		logger:  log,
	}

	if p.subject == "" {
		p.subject = DefaultSubject
	}

	if p.source == "" {
		p.source = DefaultSource
	}

	if cfg.Stream == "" {
		return p, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg.Stream, p.subject); err != nil {
		return nil, err
	}

	p.js = js

	return p, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name, subject string) error {
	stream, err := js.Stream(ctx, name)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", name, err)
		}

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     name,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream %s: %w", name, err)
	}

	subjects := ensureSubjectList(append([]string(nil), info.Config.Subjects...), subject)
	if len(subjects) == len(info.Config.Subjects) {
		return nil
	}

	cfg := info.Config
	cfg.Subjects = subjects

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add subject %s to stream %s: %w", subject, name, err)
	}

	return nil
}

// Subject returns the subject states are published on.
func (p *StatePublisher) Subject() string {
	return p.subject
}

// Publish sends st as one CloudEvent.
func (p *StatePublisher) Publish(ctx context.Context, st models.ConnectionState) error {
	now := time.Now().UTC()

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            StateEventType,
		DataContentType: "application/json",
		Subject:         p.subject,
		Time:            &now,
		Data:            st,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal connection state event: %w", err)
	}

	if p.js != nil {
		ack, err := p.js.Publish(ctx, p.subject, payload)
		if err != nil {
			return fmt.Errorf("failed to publish connection state event: %w", err)
		}

		p.logger.Trace().Str("id", event.ID).Uint64("seq", ack.Sequence).Msg("published connection state")

		return nil
	}

	if err := p.nc.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("failed to publish connection state event: %w", err)
	}

	p.logger.Trace().Str("id", event.ID).Msg("published connection state")

	return nil
}

// Run publishes every state received until states is closed or ctx is done.
// Publish failures are logged and do not stop the loop.
func (p *StatePublisher) Run(ctx context.Context, states <-chan models.ConnectionState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				return nil
			}

			if err := p.Publish(ctx, st); err != nil {
				p.logger.Warn().Err(err).Str("subject", p.subject).Msg("state publish failed")
			}
		}
	}
}

// Connect opens a NATS connection, using mutual TLS when cfg.TLS is set.
// Connection lifecycle changes are logged through log.
func Connect(cfg models.NATSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	if log == nil {
		log = logger.Nop()
	}

	opts := []nats.Option{nats.Name("sensorlink")}

	if cfg.TLS != nil {
		tlsConf, err := TLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")

	return nc, nil
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

// ensureSubjectList appends subject unless a pattern already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject applies NATS wildcard rules: '*' is one token, '>' the rest.
func matchesSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return i < len(st)
		}

		if i >= len(st) {
			return false
		}

		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}
