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

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/models"
)

var errTestFixture = errors.New("fixture error")

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  "occupancy.>",
			want:     []string{"occupancy.>"},
		},
		{
			name:     "keeps list when wildcard matches",
			subjects: []string{"occupancy.*"},
			subject:  "occupancy.arrived",
			want:     []string{"occupancy.*"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{">"},
			subject:  "occupancy.>",
			want:     []string{">"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"events.poller.*"},
			subject:  "occupancy.>",
			want:     []string{"events.poller.*", "occupancy.>"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "occupancy.arrived", "occupancy.arrived", true},
		{"single wildcard", "*.arrived", "occupancy.arrived", true},
		{"greater wildcard", "occupancy.>", "occupancy.departed", true},
		{"greater covers greater", "occupancy.>", "occupancy.>", true},
		{"star does not cover greater", "occupancy.*", "occupancy.>", false},
		{"no match length", "occupancy.*", "occupancy.arrived.extra", false},
		{"no match tokens", "events.poller.*", "occupancy.arrived", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, matchesSubject(tc.pattern, tc.subject))
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, isStreamMissingErr(tc.err))
		})
	}
}

func TestTLSConfigRequiresMaterial(t *testing.T) {
	t.Parallel()

	_, err := TLSConfig(nil)
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.TLSConfig{CertFile: "a.pem"})
	require.ErrorIs(t, err, ErrMTLSRequired)
}

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, srv.JetStreamEnabled, 5*time.Second, 50*time.Millisecond,
		"embedded NATS server not ready for JetStream")

	t.Cleanup(srv.Shutdown)

	return srv
}

func TestPublishTransitionToJetStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	srv := runJetStreamServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &models.EventsConfig{Enabled: true, URL: srv.ClientURL(), StreamName: "events"}

	publisher, nc, err := Connect(ctx, cfg, "occupancy", logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	payload, err := json.Marshal(models.OccupancyEventData{Name: "alice", Present: true})
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, "occupancy.arrived", payload))

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	stream, err := js.Stream(ctx, "events")
	require.NoError(t, err)

	msg, err := stream.GetLastMsgForSubject(ctx, "occupancy.arrived")
	require.NoError(t, err)

	var event models.CloudEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))

	assert.Equal(t, "1.0", event.SpecVersion)
	assert.Equal(t, "com.carverauto.shackradar.occupancy.arrived", event.Type)
	assert.Equal(t, "occupancy.arrived", event.Subject)
	assert.NotEmpty(t, event.ID)

	var data models.OccupancyEventData
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "alice", data.Name)
	assert.True(t, data.Present)

	// Reconnecting with a new prefix widens the existing stream.
	_, nc2, err := Connect(ctx, cfg, "presence", logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(nc2.Close)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"occupancy.>", "presence.>"}, info.Config.Subjects)
}

func TestNopSink(t *testing.T) {
	t.Parallel()

	var sink EventSink = NopSink{}
	require.NoError(t, sink.Publish(context.Background(), "occupancy.arrived", nil))
}
