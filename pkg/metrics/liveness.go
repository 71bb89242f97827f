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

package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	livenessMeterName = "github.com/carverauto/shackradar/liveness"

	metricProbeResultsTotal   = "probe_results_total"
	metricProbeReclaimedTotal = "probe_reclaimed_total"
	metricPoolWaitSeconds     = "probe_pool_wait_seconds"
	metricSweepCycleSeconds   = "sweep_cycle_seconds"
	metricLeaseReloadTotal    = "lease_reload_total"
	metricTransitionsTotal    = "occupancy_transitions_total"
)

// livenessInstruments are bound to the meter provider they were created from.
type livenessInstruments struct {
	provider metric.MeterProvider

	probeResults   metric.Int64Counter
	probeReclaimed metric.Int64Counter
	poolWait       metric.Float64Histogram
	sweepCycle     metric.Float64Histogram
	leaseReloads   metric.Int64Counter
	transitions    metric.Int64Counter
}

var (
	livenessMu      sync.Mutex
	livenessCurrent atomic.Pointer[livenessInstruments]
)

// instruments returns the instruments for the current global provider,
// creating them again whenever the global provider has been replaced.
func instruments() *livenessInstruments {
	provider := otel.GetMeterProvider()

	if inst := livenessCurrent.Load(); inst != nil && inst.provider == provider {
		return inst
	}

	livenessMu.Lock()
	defer livenessMu.Unlock()

	if inst := livenessCurrent.Load(); inst != nil && inst.provider == provider {
		return inst
	}

	inst := newLivenessInstruments(provider)
	livenessCurrent.Store(inst)

	return inst
}

func newLivenessInstruments(provider metric.MeterProvider) *livenessInstruments {
	meter := provider.Meter(livenessMeterName)
	inst := &livenessInstruments{provider: provider}

	if counter, err := meter.Int64Counter(
		metricProbeResultsTotal,
		metric.WithDescription("Completed liveness probes by target kind and outcome"),
	); err != nil {
		otel.Handle(err)
	} else {
		inst.probeResults = counter
	}

	if counter, err := meter.Int64Counter(
		metricProbeReclaimedTotal,
		metric.WithDescription("Probe handles forcibly reclaimed after their deadline elapsed"),
	); err != nil {
		otel.Handle(err)
	} else {
		inst.probeReclaimed = counter
	}

	if hist, err := meter.Float64Histogram(
		metricPoolWaitSeconds,
		metric.WithDescription("Time spent waiting for a free probe handle"),
		metric.WithUnit("s"),
	); err != nil {
		otel.Handle(err)
	} else {
		inst.poolWait = hist
	}

	if hist, err := meter.Float64Histogram(
		metricSweepCycleSeconds,
		metric.WithDescription("Duration of one sweep dispatch wave"),
		metric.WithUnit("s"),
	); err != nil {
		otel.Handle(err)
	} else {
		inst.sweepCycle = hist
	}

	if counter, err := meter.Int64Counter(
		metricLeaseReloadTotal,
		metric.WithDescription("Lease feed reload attempts by status"),
	); err != nil {
		otel.Handle(err)
	} else {
		inst.leaseReloads = counter
	}

	if counter, err := meter.Int64Counter(
		metricTransitionsTotal,
		metric.WithDescription("Occupant presence transitions by direction"),
	); err != nil {
		otel.Handle(err)
	} else {
		inst.transitions = counter
	}

	return inst
}

func RecordProbe(ctx context.Context, kind, outcome string) {
	inst := instruments()
	if inst.probeResults == nil {
		return
	}

	inst.probeResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target_kind", kind),
		attribute.String("outcome", outcome),
	))
}

func RecordReclaim(ctx context.Context, kind string) {
	inst := instruments()
	if inst.probeReclaimed == nil {
		return
	}

	inst.probeReclaimed.Add(ctx, 1, metric.WithAttributes(attribute.String("target_kind", kind)))
}

func RecordPoolWait(ctx context.Context, wait time.Duration) {
	inst := instruments()
	if inst.poolWait == nil {
		return
	}

	if wait < 0 {
		wait = 0
	}

	inst.poolWait.Record(ctx, wait.Seconds())
}

func RecordSweepCycle(ctx context.Context, sweeper string, duration time.Duration, targets int) {
	inst := instruments()
	if inst.sweepCycle == nil {
		return
	}

	inst.sweepCycle.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("sweeper", sweeper),
		attribute.String("size", classifyTargetCount(targets)),
	))
}

func RecordLeaseReload(ctx context.Context, status string) {
	inst := instruments()
	if inst.leaseReloads == nil {
		return
	}

	inst.leaseReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordTransition(ctx context.Context, direction string) {
	inst := instruments()
	if inst.transitions == nil {
		return
	}

	inst.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func classifyTargetCount(count int) string {
	switch {
	case count <= 0:
		return "empty"
	case count < 10:
		return "lt10"
	case count < 100:
		return "lt100"
	default:
		return "gte100"
	}
}
