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

// Command shackradar tracks which hosts and occupants are present on the
// local network and serves the result over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/carverauto/shackradar/pkg/api"
	"github.com/carverauto/shackradar/pkg/config"
	"github.com/carverauto/shackradar/pkg/leases"
	"github.com/carverauto/shackradar/pkg/lifecycle"
	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/metrics"
	"github.com/carverauto/shackradar/pkg/models"
	"github.com/carverauto/shackradar/pkg/natsutil"
	"github.com/carverauto/shackradar/pkg/occupancy"
	"github.com/carverauto/shackradar/pkg/scan"
	"github.com/carverauto/shackradar/pkg/state"
	"github.com/carverauto/shackradar/pkg/sweeper"
	"github.com/carverauto/shackradar/pkg/version"
	"github.com/carverauto/shackradar/pkg/zone"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("shackradar", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the service config file")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	if showVersion {
		fmt.Println("shackradar", version.GetFullVersion())
		return nil
	}

	ctx := context.Background()

	cfg, err := config.Load(ctx, configPath, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := lifecycle.InitializeLogger(cfg.Logging); err != nil {
		return err
	}

	mainLogger, err := lifecycle.CreateComponentLogger("shackradar", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	mainLogger.Info().Str("version", version.GetFullVersion()).Str("config", configPath).Msg("Starting shackradar")

	if _, err := metrics.Initialize(ctx, metrics.Config{
		Enabled:        cfg.Metrics.Enabled,
		Endpoint:       cfg.Metrics.Endpoint,
		Insecure:       cfg.Metrics.Insecure,
		Headers:        cfg.Metrics.Headers,
		ExportInterval: time.Duration(cfg.Metrics.ExportInterval),
	}); err != nil && !errors.Is(err, metrics.ErrMetricsDisabled) {
		mainLogger.Warn().Err(err).Msg("Metrics export unavailable")
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := metrics.Shutdown(shutdownCtx); err != nil {
			mainLogger.Warn().Err(err).Msg("Failed to flush metrics")
		}
	}()

	services, cleanup, err := buildServices(ctx, cfg, mainLogger)
	if err != nil {
		return err
	}
	defer cleanup()

	return lifecycle.RunServices(ctx, mainLogger, services...)
}

// buildServices loads the static registries, primes the lease table and wires
// every worker around one snapshot store. Any configuration problem is
// returned before a worker starts.
func buildServices(ctx context.Context, cfg *models.Config, log logger.Logger) ([]lifecycle.Service, func(), error) {
	component := func(name string) logger.Logger {
		l, err := lifecycle.CreateComponentLogger(name, cfg.Logging)
		if err != nil {
			return log
		}

		return l
	}

	store := state.NewStore()

	registry, err := zone.Load(cfg.Registry.ZoneFile, zone.Options{Domain: cfg.Registry.Domain}, component("zone"))
	if err != nil {
		return nil, nil, err
	}

	if err := store.SetRegistry(registry); err != nil {
		return nil, nil, err
	}

	members, err := occupancy.LoadRegistry(cfg.Occupancy.RegistryFile)
	if err != nil {
		return nil, nil, err
	}

	loc, err := config.Location(&cfg.Leases)
	if err != nil {
		return nil, nil, err
	}

	source, err := leases.NewSource(cfg.Leases.Source, time.Duration(cfg.Leases.Interval))
	if err != nil {
		return nil, nil, err
	}

	reloader := leases.NewReloader(source, leases.NewParser(loc, component("leases")), store,
		time.Duration(cfg.Leases.Interval), component("leases"))

	if _, err := reloader.ReloadOnce(ctx); err != nil {
		log.Error().Err(err).Str("source", source.String()).Msg("Initial lease load failed, starting with an empty table")
	}

	pool, err := scan.NewProbePool(scan.PoolConfig{
		Size:         cfg.Probe.PoolSize,
		ReclaimGrace: time.Duration(cfg.Probe.ReclaimGrace),
	}, scan.ICMPFactory(cfg.Probe.Privileged), component("probe-pool"))
	if err != nil {
		return nil, nil, err
	}

	var (
		sink    natsutil.EventSink = natsutil.NopSink{}
		closers []func()
	)

	closers = append(closers, func() {
		if err := pool.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close probe pool")
		}
	})

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Events.Enabled {
		publisher, nc, err := natsutil.Connect(ctx, &cfg.Events, cfg.Occupancy.TopicPrefix, component("events"))
		if err != nil {
			cleanup()
			return nil, nil, err
		}

		sink = publisher

		closers = append(closers, nc.Close)
	}

	sweep := func(name string, targets sweeper.TargetSource) *sweeper.Sweeper {
		return sweeper.NewSweeper(sweeper.Config{
			Name:      name,
			MinPeriod: time.Duration(cfg.Probe.MinSweepPeriod),
			Timeout:   time.Duration(cfg.Probe.Timeout),
			Payload:   []byte(cfg.Probe.Payload),
		}, targets, pool, component(name+"-sweeper"))
	}

	engine := occupancy.NewEngine(occupancy.Config{
		Period:      time.Duration(cfg.Occupancy.Period),
		Window:      time.Duration(cfg.Occupancy.Window),
		FloorOffset: time.Duration(cfg.Occupancy.FloorOffset),
		TopicPrefix: cfg.Occupancy.TopicPrefix,
	}, members, store, sink, component("occupancy"))

	server := api.NewServer(api.Config{
		ListenAddr:     cfg.API.ListenAddr,
		Domain:         cfg.Registry.Domain,
		StreamInterval: time.Duration(cfg.API.StreamInterval),
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, store, component("api"))

	log.Info().
		Int("hosts", registry.Len()).
		Int("occupants", len(members)).
		Int("pool_size", pool.Size()).
		Bool("events", cfg.Events.Enabled).
		Msg("Configuration loaded")

	return []lifecycle.Service{
		sweep("registry", sweeper.RegistryTargets(store)),
		sweep("lease", sweeper.LeaseTargets(store)),
		reloader,
		engine,
		server,
	}, cleanup, nil
}
