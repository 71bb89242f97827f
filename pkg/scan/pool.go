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

// Package scan holds the bounded pool of ICMP probe handles shared by the
// liveness sweepers.
package scan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/metrics"
	"github.com/carverauto/shackradar/pkg/models"
)

const (
	defaultPoolSize     = 10
	defaultPollInterval = time.Millisecond
	defaultReclaimGrace = 50 * time.Millisecond
)

// PoolConfig sizes a ProbePool. Zero values select the defaults.
type PoolConfig struct {
	Size         int
	PollInterval time.Duration
	ReclaimGrace time.Duration
}

// Handle is one probe slot. It owns a Prober which is opened lazily and
// replaced after a reclaim.
type Handle struct {
	id      int
	factory ProberFactory

	mu      sync.Mutex
	prober  Prober
	retired bool
}

func (h *Handle) ID() int { return h.id }

func (h *Handle) probe(ctx context.Context, ip netip.Addr, payload []byte) (Echo, error) {
	h.mu.Lock()

	if h.retired {
		h.mu.Unlock()
		return Echo{}, ErrPoolClosed
	}

	if h.prober == nil {
		p, err := h.factory()
		if err != nil {
			h.mu.Unlock()
			return Echo{}, fmt.Errorf("failed to open prober: %w", err)
		}

		h.prober = p
	}

	p := h.prober
	h.mu.Unlock()

	return p.Probe(ctx, ip, payload)
}

// discard closes the current prober, unblocking any probe still running on it.
func (h *Handle) discard(retire bool) error {
	h.mu.Lock()
	p := h.prober
	h.prober = nil

	if retire {
		h.retired = true
	}
	h.mu.Unlock()

	if p == nil {
		return nil
	}

	return p.Close()
}

// ProbePool bounds the number of in-flight probes. Acquire is the only
// backpressure in the system: when every handle is out, callers wait.
type ProbePool struct {
	handles chan *Handle
	all     []*Handle
	poll    time.Duration
	grace   time.Duration
	logger  logger.Logger

	inFlight atomic.Int32

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewProbePool creates a pool of cfg.Size handles backed by probers from factory.
func NewProbePool(cfg PoolConfig, factory ProberFactory, log logger.Logger) (*ProbePool, error) {
	if cfg.Size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoolSize, cfg.Size)
	}

	if cfg.Size == 0 {
		cfg.Size = defaultPoolSize
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.ReclaimGrace <= 0 {
		cfg.ReclaimGrace = defaultReclaimGrace
	}

	if factory == nil {
		factory = ICMPFactory(false)
	}

	p := &ProbePool{
		handles: make(chan *Handle, cfg.Size),
		all:     make([]*Handle, 0, cfg.Size),
		poll:    cfg.PollInterval,
		grace:   cfg.ReclaimGrace,
		logger:  log,
	}

	for i := 0; i < cfg.Size; i++ {
		h := &Handle{id: i, factory: factory}
		p.all = append(p.all, h)
		p.handles <- h
	}

	return p, nil
}

// Size returns the number of handles in the pool.
func (p *ProbePool) Size() int { return len(p.all) }

// Available returns the number of idle handles.
func (p *ProbePool) Available() int { return len(p.handles) }

// InFlight returns the number of handles currently checked out.
func (p *ProbePool) InFlight() int { return int(p.inFlight.Load()) }

// Acquire takes an idle handle, polling until one is released or ctx ends.
func (p *ProbePool) Acquire(ctx context.Context) (*Handle, error) {
	start := time.Now()

	var ticker *time.Ticker

	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		if p.isClosed() {
			return nil, ErrPoolClosed
		}

		select {
		case h := <-p.handles:
			p.inFlight.Add(1)
			metrics.RecordPoolWait(ctx, time.Since(start))

			return h, nil
		default:
		}

		if ticker == nil {
			ticker = time.NewTicker(p.poll)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Send dispatches a probe of target on h and returns immediately. The reply,
// or the watchdog if no reply arrives within timeout plus the reclaim grace,
// updates target and returns h to the pool exactly once. A rejected send
// returns h to the pool before reporting the error.
func (p *ProbePool) Send(ctx context.Context, h *Handle, target Target, payload []byte, timeout time.Duration) error {
	if h == nil {
		return ErrInvalidTarget
	}

	if target == nil {
		p.release(h)

		return ErrInvalidTarget
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.release(h)

		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, timeout)

	var once sync.Once

	watchdog := time.AfterFunc(timeout+p.grace, func() {
		once.Do(func() {
			cancel()
			p.reclaim(ctx, h, target)
		})
	})

	go func() {
		defer p.wg.Done()
		defer cancel()

		echo, err := h.probe(probeCtx, target.IP(), payload)

		watchdog.Stop()
		once.Do(func() {
			p.complete(ctx, h, target, echo, err)
		})
	}()

	return nil
}

func (p *ProbePool) complete(ctx context.Context, h *Handle, target Target, echo Echo, err error) {
	defer p.release(h)
	defer p.recoverPanic(target)

	// Shutdown, not a probe result.
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, ErrPoolClosed)) {
		return
	}

	reply := models.ProbeReply{Outcome: Classify(err), At: time.Now()}
	if err == nil {
		reply.Addr = echo.From
		reply.RTT = echo.RTT
	}

	metrics.RecordProbe(ctx, target.Kind(), string(reply.Outcome))

	if err != nil && reply.Outcome == models.OutcomeError {
		p.logger.Debug().Err(err).Str("ip", target.IP().String()).Int("handle", h.id).Msg("Probe failed")
	}

	if uerr := target.Update(reply); uerr != nil {
		if errors.Is(uerr, models.ErrReplyMismatch) {
			p.logger.Warn().Err(uerr).Str("kind", target.Kind()).Msg("Discarding echo reply from unexpected address")
			return
		}

		p.logger.Error().Err(uerr).Str("ip", target.IP().String()).Msg("Failed to record probe result")
	}
}

func (p *ProbePool) reclaim(ctx context.Context, h *Handle, target Target) {
	defer p.release(h)
	defer p.recoverPanic(target)

	if err := h.discard(false); err != nil {
		p.logger.Debug().Err(err).Int("handle", h.id).Msg("Error closing reclaimed prober")
	}

	metrics.RecordReclaim(ctx, target.Kind())

	if ctx.Err() != nil {
		return
	}

	p.logger.Warn().
		Str("ip", target.IP().String()).
		Int("handle", h.id).
		Msg("Probe did not complete before its deadline, reclaiming handle")

	metrics.RecordProbe(ctx, target.Kind(), string(models.OutcomeTimeout))

	if err := target.Update(models.ProbeReply{Outcome: models.OutcomeTimeout, At: time.Now()}); err != nil {
		p.logger.Error().Err(err).Str("ip", target.IP().String()).Msg("Failed to record reclaimed probe")
	}
}

func (p *ProbePool) recoverPanic(target Target) {
	if r := recover(); r != nil {
		p.logger.Error().
			Interface("panic", r).
			Str("kind", target.Kind()).
			Msg("Recovered panic in probe completion")
	}
}

func (p *ProbePool) release(h *Handle) {
	p.inFlight.Add(-1)

	// capacity equals the number of handles, so this never blocks
	p.handles <- h
}

func (p *ProbePool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.closed
}

// Close retires every handle, closes their probers and waits for
// outstanding probes to finish.
func (p *ProbePool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}

	p.closed = true
	p.mu.Unlock()

	var errs []error

	for _, h := range p.all {
		if err := h.discard(true); err != nil {
			errs = append(errs, fmt.Errorf("handle %d: %w", h.id, err))
		}
	}

	p.wg.Wait()

	return errors.Join(errs...)
}
