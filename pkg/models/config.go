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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/shackradar/pkg/logger"
)

var errInvalidDuration = errors.New("invalid duration")

// Duration accepts either a Go duration string ("5s") or nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

// ProbeConfig controls the probe pool and both liveness sweepers.
type ProbeConfig struct {
	PoolSize       int      `json:"pool_size"`
	Timeout        Duration `json:"timeout"`
	ReclaimGrace   Duration `json:"reclaim_grace"`
	MinSweepPeriod Duration `json:"min_sweep_period"`
	Privileged     bool     `json:"privileged"`
	Payload        string   `json:"payload,omitempty"`
}

// RegistryConfig points at the zone file describing registry hosts.
type RegistryConfig struct {
	ZoneFile string `json:"zone_file"`
	Domain   string `json:"domain"`
}

// LeasesConfig describes the lease feed and how often it is reloaded.
type LeasesConfig struct {
	Source   string   `json:"source"`
	Interval Duration `json:"interval"`
	Timezone string   `json:"timezone,omitempty"`
}

// OccupancyConfig describes the occupant registry and presence rule.
type OccupancyConfig struct {
	RegistryFile string   `json:"registry_file"`
	Period       Duration `json:"period"`
	Window       Duration `json:"window"`
	FloorOffset  Duration `json:"floor_offset"`
	TopicPrefix  string   `json:"topic_prefix"`
}

// APIConfig configures the read-only status HTTP server.
type APIConfig struct {
	ListenAddr     string   `json:"listen_addr"`
	StreamInterval Duration `json:"stream_interval"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// MetricsConfig enables OTLP export of the liveness metrics.
type MetricsConfig struct {
	Enabled        bool              `json:"enabled"`
	Endpoint       string            `json:"endpoint"`
	Insecure       bool              `json:"insecure"`
	Headers        map[string]string `json:"headers,omitempty"`
	ExportInterval Duration          `json:"export_interval"`
}

// Config is the complete service configuration.
type Config struct {
	Registry  RegistryConfig  `json:"registry"`
	Leases    LeasesConfig    `json:"leases"`
	Occupancy OccupancyConfig `json:"occupancy"`
	Probe     ProbeConfig     `json:"probe"`
	Events    EventsConfig    `json:"events"`
	API       APIConfig       `json:"api"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   *logger.Config  `json:"logging,omitempty"`
}
