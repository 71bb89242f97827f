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

//go:generate mockgen -destination=mock_events.go -package=natsutil github.com/carverauto/shackradar/pkg/natsutil EventSink

// Package natsutil publishes presence transitions to NATS JetStream as CloudEvents.
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

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/models"
)

const (
	eventSource     = "shackradar/occupancy"
	eventTypePrefix = "com.carverauto.shackradar."
)

// EventSink receives one notification per presence edge. Delivery is best
// effort; callers never retry.
type EventSink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, string, []byte) error { return nil }

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js       jetstream.JetStream
	stream   string
	subjects []string
	logger   logger.Logger
}

var _ EventSink = (*EventPublisher)(nil)

// NewEventPublisher creates a new EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName string, subjects []string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:       js,
		stream:   streamName,
		subjects: subjects,
		logger:   log,
	}
}

// Publish wraps payload in a CloudEvent and publishes it on subject topic.
func (p *EventPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	now := time.Now().UTC()

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            eventTypePrefix + topic,
		DataContentType: "application/json",
		Subject:         topic,
		Time:            &now,
		Data:            json.RawMessage(payload),
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	ack, err := p.js.Publish(ctx, topic, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", topic).
		Uint64("seq", ack.Sequence).
		Msg("Published event")

	return nil
}

// Connect dials NATS, makes sure the events stream exists and returns a
// publisher together with the connection the caller must close.
func Connect(ctx context.Context, cfg *models.EventsConfig, topicPrefix string, log logger.Logger) (*EventPublisher, *nats.Conn, error) {
	nc, err := ConnectWithSecurity(cfg.URL, cfg.TLS, log)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := CreateEventPublisher(ctx, nc, cfg.Domain, cfg.StreamName,
		ensureSubjectList(append([]string(nil), cfg.Subjects...), topicPrefix+".>"), log)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return publisher, nc, nil
}

// ConnectWithSecurity creates a NATS connection, using mTLS when tlsCfg is set.
func ConnectWithSecurity(url string, tlsCfg *models.TLSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	var opts []nats.Option

	if tlsCfg != nil {
		tlsConf, err := TLSConfig(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.Name("shackradar"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")

	return nc, nil
}

// CreateEventPublisher creates an EventPublisher on an existing connection,
// creating the stream if it does not exist yet.
func CreateEventPublisher(
	ctx context.Context, nc *nats.Conn, domain, streamName string, subjects []string, log logger.Logger,
) (*EventPublisher, error) {
	var (
		js  jetstream.JetStream
		err error
	)

	if domain != "" {
		js, err = jetstream.NewWithDomain(nc, domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.Stream(ctx, streamName)

	switch {
	case err == nil:
		cfg := stream.CachedInfo().Config
		merged := cfg.Subjects

		for _, s := range subjects {
			merged = ensureSubjectList(merged, s)
		}

		if len(merged) != len(cfg.Subjects) {
			cfg.Subjects = merged
			if _, err := js.UpdateStream(ctx, cfg); err != nil {
				return nil, fmt.Errorf("failed to update stream %s subjects: %w", streamName, err)
			}
		}
	case isStreamMissingErr(err):
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: subjects,
		}); err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		log.Info().Str("stream", streamName).Strs("subjects", subjects).Msg("Created NATS JetStream stream")
	default:
		return nil, fmt.Errorf("failed to look up stream %s: %w", streamName, err)
	}

	return NewEventPublisher(js, streamName, subjects, log), nil
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

// ensureSubjectList appends subject unless an existing pattern already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether pattern, which may contain the NATS
// wildcards "*" and ">", covers subject. A literal ">" in subject is only
// covered by a ">" at the same position.
func matchesSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if st[i] == ">" {
			return false
		}

		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}
