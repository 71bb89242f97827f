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

// Package sweeper walks a target set once per cycle and dispatches a liveness
// probe for every target through the shared probe pool.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/metrics"
	"github.com/carverauto/shackradar/pkg/scan"
	"github.com/carverauto/shackradar/pkg/state"
)

const (
	defaultMinPeriod    = 5 * time.Second
	defaultProbeTimeout = 250 * time.Millisecond
)

// Pool is the subset of the probe pool a sweeper dispatches through.
type Pool interface {
	Acquire(ctx context.Context) (*scan.Handle, error)
	Send(ctx context.Context, h *scan.Handle, target scan.Target, payload []byte, timeout time.Duration) error
}

// TargetSource returns the targets of one cycle. It is called at the start of
// every cycle so newly published snapshots are picked up.
type TargetSource func() []scan.Target

// Config tunes a Sweeper. Zero durations select the defaults.
type Config struct {
	Name      string
	MinPeriod time.Duration
	Timeout   time.Duration
	Payload   []byte
}

// Sweeper repeatedly probes every target of its source.
type Sweeper struct {
	name      string
	source    TargetSource
	pool      Pool
	minPeriod time.Duration
	timeout   time.Duration
	payload   []byte
	logger    logger.Logger
}

// NewSweeper creates a sweeper over source.
func NewSweeper(config Config, source TargetSource, pool Pool, log logger.Logger) *Sweeper {
	if config.MinPeriod <= 0 {
		config.MinPeriod = defaultMinPeriod
	}

	if config.Timeout <= 0 {
		config.Timeout = defaultProbeTimeout
	}

	return &Sweeper{
		name:      config.Name,
		source:    source,
		pool:      pool,
		minPeriod: config.MinPeriod,
		timeout:   config.Timeout,
		payload:   config.Payload,
		logger:    log,
	}
}

func (s *Sweeper) Name() string { return s.name + "-sweeper" }

// Run sweeps until ctx is done. A cycle never starts earlier than MinPeriod
// after the previous one started.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().
		Str("sweeper", s.name).
		Dur("min_period", s.minPeriod).
		Dur("timeout", s.timeout).
		Msg("Starting liveness sweeper")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("sweeper", s.name).Msg("Context canceled, stopping sweeper")

			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()

		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Str("sweeper", s.name).Msg("Sweep cycle aborted")
		}

		timer.Reset(max(time.Until(start.Add(s.minPeriod)), 0))
	}
}

// RunOnce dispatches one probe per target and returns how many were sent. It
// returns as soon as the last probe is dispatched, without waiting for replies.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	targets := s.source()

	dispatched := 0

	for _, target := range targets {
		h, err := s.pool.Acquire(ctx)
		if err != nil {
			return dispatched, fmt.Errorf("failed to acquire probe handle: %w", err)
		}

		if err := s.pool.Send(ctx, h, target, s.payload, s.timeout); err != nil {
			return dispatched, fmt.Errorf("failed to dispatch probe to %s: %w", target.IP(), err)
		}

		dispatched++
	}

	elapsed := time.Since(start)
	metrics.RecordSweepCycle(ctx, s.name, elapsed, dispatched)

	s.logger.Debug().
		Str("sweeper", s.name).
		Int("targets", dispatched).
		Dur("elapsed", elapsed).
		Msg("Sweep cycle dispatched")

	return dispatched, nil
}

// RegistryTargets yields every address of every host in the current registry.
func RegistryTargets(store *state.Store) TargetSource {
	return func() []scan.Target {
		addresses := store.Registry().Addresses()

		targets := make([]scan.Target, 0, len(addresses))
		for _, a := range addresses {
			targets = append(targets, a)
		}

		return targets
	}
}

// LeaseTargets yields every entry of the current lease table.
func LeaseTargets(store *state.Store) TargetSource {
	return func() []scan.Target {
		entries := store.Leases().Entries()

		targets := make([]scan.Target, 0, len(entries))
		for _, e := range entries {
			if !e.IP().IsValid() {
				continue
			}

			targets = append(targets, e)
		}

		return targets
	}
}
