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

// Package config loads and validates the shackradar service configuration.
//
// Values are layered: built-in defaults, then the JSON file, then
// SHACKRADAR_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/models"
)

// DefaultPath is where the service looks for its configuration file.
const DefaultPath = "/etc/shackradar/shackradar.json"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHACKRADAR_"

var (
	ErrZoneFileRequired      = errors.New("registry.zone_file is required")
	ErrLeaseSourceRequired   = errors.New("leases.source is required")
	ErrOccupantFileRequired  = errors.New("occupancy.registry_file is required")
	ErrInvalidPoolSize       = errors.New("probe.pool_size must be at least 1")
	ErrInvalidProbeTimeout   = errors.New("probe.timeout must be positive")
	ErrInvalidWindow         = errors.New("occupancy.window must be positive")
	ErrWindowExceedsFloor    = errors.New("occupancy.window must not exceed occupancy.floor_offset")
	ErrInvalidTimezone       = errors.New("leases.timezone is not a known location")
	ErrListenAddressRequired = errors.New("api.listen_addr is required")
)

// ConfigLoader fills dst from a configuration source.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Default returns a configuration with every tunable at its default.
func Default() *models.Config {
	return &models.Config{
		Registry: models.RegistryConfig{
			Domain: "shack",
		},
		Leases: models.LeasesConfig{
			Interval: models.Duration(2 * time.Second),
		},
		Occupancy: models.OccupancyConfig{
			Period:      models.Duration(time.Second),
			Window:      models.Duration(15 * time.Minute),
			FloorOffset: models.Duration(2 * time.Hour),
			TopicPrefix: models.DefaultTopicPrefix,
		},
		Probe: models.ProbeConfig{
			PoolSize:       10,
			Timeout:        models.Duration(250 * time.Millisecond),
			ReclaimGrace:   models.Duration(50 * time.Millisecond),
			MinSweepPeriod: models.Duration(5 * time.Second),
		},
		Events: models.EventsConfig{
			StreamName: models.DefaultEventStream,
		},
		API: models.APIConfig{
			ListenAddr:     ":8080",
			StreamInterval: models.Duration(2 * time.Second),
		},
		Metrics: models.MetricsConfig{
			ExportInterval: models.Duration(30 * time.Second),
		},
		Logging: logger.DefaultConfig(),
	}
}

// Load layers defaults, the file at path and environment overrides, then
// validates the result.
func Load(ctx context.Context, path string, log logger.Logger) (*models.Config, error) {
	cfg := Default()

	if path != "" {
		if err := (&FileConfigLoader{}).Load(ctx, path, cfg); err != nil {
			return nil, err
		}
	}

	if err := NewEnvConfigLoader(log, EnvPrefix).Load(ctx, "", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *models.Config) error {
	var errs []error

	if cfg.Registry.ZoneFile == "" {
		errs = append(errs, ErrZoneFileRequired)
	}

	if cfg.Leases.Source == "" {
		errs = append(errs, ErrLeaseSourceRequired)
	}

	if cfg.Leases.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Leases.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTimezone, cfg.Leases.Timezone))
		}
	}

	if cfg.Occupancy.RegistryFile == "" {
		errs = append(errs, ErrOccupantFileRequired)
	}

	if cfg.Occupancy.Window <= 0 {
		errs = append(errs, ErrInvalidWindow)
	} else if cfg.Occupancy.FloorOffset > 0 && cfg.Occupancy.Window > cfg.Occupancy.FloorOffset {
		errs = append(errs, ErrWindowExceedsFloor)
	}

	if cfg.Probe.PoolSize < 1 {
		errs = append(errs, ErrInvalidPoolSize)
	}

	if cfg.Probe.Timeout <= 0 {
		errs = append(errs, ErrInvalidProbeTimeout)
	}

	if cfg.API.ListenAddr == "" {
		errs = append(errs, ErrListenAddressRequired)
	}

	if err := cfg.Events.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location resolves the lease feed timezone, defaulting to the host's zone.
func Location(cfg *models.LeasesConfig) (*time.Location, error) {
	if cfg.Timezone == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTimezone, err)
	}

	return loc, nil
}
