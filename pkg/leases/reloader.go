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

package leases

import (
	"context"
	"fmt"
	"time"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/metrics"
	"github.com/carverauto/shackradar/pkg/state"
)

const defaultReloadInterval = 2 * time.Second

// Reloader periodically fetches the lease feed and publishes the merged
// generation to the store.
type Reloader struct {
	source   Source
	parser   *Parser
	store    *state.Store
	interval time.Duration
	logger   logger.Logger
}

func NewReloader(source Source, parser *Parser, store *state.Store, interval time.Duration, log logger.Logger) *Reloader {
	if interval <= 0 {
		interval = defaultReloadInterval
	}

	return &Reloader{
		source:   source,
		parser:   parser,
		store:    store,
		interval: interval,
		logger:   log,
	}
}

func (*Reloader) Name() string { return "lease-reloader" }

// Run reloads every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (r *Reloader) Run(ctx context.Context) error {
	r.logger.Info().Str("source", r.source.String()).Dur("interval", r.interval).Msg("Starting lease reloader")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Context canceled, stopping lease reloader")

			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ReloadOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Str("source", r.source.String()).Msg("Lease reload failed")
			}
		}
	}
}

// ReloadOnce performs a single fetch, parse, merge and publish, and returns
// the number of entries in the new generation.
func (r *Reloader) ReloadOnce(ctx context.Context) (int, error) {
	body, err := r.source.Fetch(ctx)
	if err != nil {
		metrics.RecordLeaseReload(ctx, "fetch_error")
		return 0, err
	}

	defer func() { _ = body.Close() }()

	parsed, err := r.parser.Parse(body)
	if err != nil {
		metrics.RecordLeaseReload(ctx, "parse_error")
		return 0, err
	}

	table := Merge(r.store.Leases(), parsed)

	if err := r.store.SetLeases(table); err != nil {
		metrics.RecordLeaseReload(ctx, "store_error")
		return 0, fmt.Errorf("failed to publish leases: %w", err)
	}

	metrics.RecordLeaseReload(ctx, "ok")
	r.logger.Debug().Int("leases", table.Len()).Msg("Lease snapshot published")

	return table.Len(), nil
}
