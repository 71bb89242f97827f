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

// Package occupancy derives which registered members are present from the
// liveness of their devices' leases, and announces every change of presence.
package occupancy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/metrics"
	"github.com/carverauto/shackradar/pkg/models"
	"github.com/carverauto/shackradar/pkg/natsutil"
	"github.com/carverauto/shackradar/pkg/state"
)

const (
	defaultPeriod         = time.Second
	defaultWindow         = 15 * time.Minute
	defaultFloorOffset    = 2 * time.Hour
	defaultPublishTimeout = 2 * time.Second

	directionArrived  = "arrived"
	directionDeparted = "departed"
)

// Clock returns the current time.
type Clock func() time.Time

// Config tunes the presence rule. Zero values select the defaults.
type Config struct {
	Period      time.Duration
	Window      time.Duration
	FloorOffset time.Duration
	TopicPrefix string
	Clock       Clock

	// PublishTimeout bounds the publishing of all edges from one step.
	PublishTimeout time.Duration
}

// Engine recomputes presence on a fixed period and publishes edges.
type Engine struct {
	members []models.Member
	store   *state.Store
	sink    natsutil.EventSink
	logger  logger.Logger

	period      time.Duration
	window      time.Duration
	floorOffset time.Duration
	prefix      string
	clock       Clock
	pubTimeout  time.Duration

	mu      sync.Mutex
	present map[string]bool
}

func NewEngine(config Config, members []models.Member, store *state.Store, sink natsutil.EventSink, log logger.Logger) *Engine {
	if config.Period <= 0 {
		config.Period = defaultPeriod
	}

	if config.Window <= 0 {
		config.Window = defaultWindow
	}

	if config.FloorOffset <= 0 {
		config.FloorOffset = defaultFloorOffset
	}

	if config.TopicPrefix == "" {
		config.TopicPrefix = models.DefaultTopicPrefix
	}

	if config.Clock == nil {
		config.Clock = time.Now
	}

	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaultPublishTimeout
	}

	if sink == nil {
		sink = natsutil.NopSink{}
	}

	return &Engine{
		members:     members,
		store:       store,
		sink:        sink,
		logger:      log,
		period:      config.Period,
		window:      config.Window,
		floorOffset: config.FloorOffset,
		prefix:      config.TopicPrefix,
		clock:       config.Clock,
		pubTimeout:  config.PublishTimeout,
		present:     make(map[string]bool, len(members)),
	}
}

func (*Engine) Name() string { return "occupancy" }

// Run steps once immediately and then every period until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Int("occupants", len(e.members)).
		Dur("period", e.period).
		Dur("window", e.window).
		Msg("Starting occupancy engine")

	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	for {
		e.Step(ctx, e.clock())

		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Context canceled, stopping occupancy engine")

			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// edge is one change of presence found by a step.
type edge struct {
	name     string
	present  bool
	lastSeen time.Time
}

// Step derives presence for every member at now, publishes the resulting
// generation and then announces each member whose presence changed since the
// previous step. Members start out absent. The generation is visible in the
// store before any event is published.
func (e *Engine) Step(ctx context.Context, now time.Time) *models.Occupancy {
	occ, edges := e.evaluate(now)

	if err := e.store.SetOccupancy(occ); err != nil {
		e.logger.Error().Err(err).Msg("Failed to publish occupancy snapshot")
	}

	if len(edges) > 0 {
		e.announce(ctx, edges, now)
	}

	return occ
}

func (e *Engine) evaluate(now time.Time) (*models.Occupancy, []edge) {
	e.mu.Lock()
	defer e.mu.Unlock()

	leases := e.store.Leases()
	floor := now.Add(-e.floorOffset)

	occ := &models.Occupancy{
		Occupants:  make([]models.Occupant, 0, len(e.members)),
		ComputedAt: now,
	}

	var edges []edge

	for _, m := range e.members {
		lastSeen := floor
		macs := make([]string, 0, len(m.MACs))

		for _, mac := range m.MACs {
			macs = append(macs, mac.String())

			entry, ok := leases.Lookup(mac)
			if !ok {
				continue
			}

			status := entry.Status()
			if status.Outcome != models.OutcomeSuccess || status.LastSeen == nil {
				continue
			}

			if status.LastSeen.After(lastSeen) {
				lastSeen = *status.LastSeen
			}
		}

		present := now.Sub(lastSeen) <= e.window

		occ.Occupants = append(occ.Occupants, models.Occupant{
			Name:     m.Name,
			MACs:     macs,
			LastSeen: lastSeen,
			Present:  present,
		})

		if present != e.present[m.Name] {
			e.present[m.Name] = present
			edges = append(edges, edge{name: m.Name, present: present, lastSeen: lastSeen})
		}
	}

	return occ, edges
}

// announce publishes the edges of one step under a single deadline, so an
// unavailable sink delays a step by at most the publish timeout. Failures are
// logged and never retried.
func (e *Engine) announce(ctx context.Context, edges []edge, now time.Time) {
	pubCtx, cancel := context.WithTimeout(ctx, e.pubTimeout)
	defer cancel()

	for _, ed := range edges {
		direction := directionDeparted
		if ed.present {
			direction = directionArrived
		}

		metrics.RecordTransition(ctx, direction)

		e.logger.Info().
			Str("occupant", ed.name).
			Str("direction", direction).
			Time("last_seen", ed.lastSeen).
			Msg("Occupant presence changed")

		payload, err := json.Marshal(models.OccupancyEventData{
			Name:      ed.name,
			Present:   ed.present,
			LastSeen:  ed.lastSeen,
			Timestamp: now,
		})
		if err != nil {
			e.logger.Error().Err(err).Str("occupant", ed.name).Msg("Failed to encode presence event")
			continue
		}

		if err := e.sink.Publish(pubCtx, e.prefix+"."+direction, payload); err != nil {
			e.logger.Warn().Err(err).Str("occupant", ed.name).Str("direction", direction).Msg("Dropping presence event")
		}
	}
}
