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

package scan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/models"
)

// countingProber answers every probe after delay and tracks peak concurrency
// across all instances sharing the same counters.
type countingProber struct {
	delay   time.Duration
	current *atomic.Int32
	peak    *atomic.Int32
}

func (c *countingProber) Probe(ctx context.Context, ip netip.Addr, _ []byte) (Echo, error) {
	n := c.current.Add(1)
	defer c.current.Add(-1)

	for {
		old := c.peak.Load()
		if n <= old || c.peak.CompareAndSwap(old, n) {
			break
		}
	}

	select {
	case <-time.After(c.delay):
		return Echo{From: ip, RTT: c.delay}, nil
	case <-ctx.Done():
		return Echo{}, ctx.Err()
	}
}

func (*countingProber) Close() error { return nil }

// stuckProber ignores its context and only returns once closed.
type stuckProber struct {
	once   sync.Once
	closed chan struct{}
}

func newStuckProber() *stuckProber { return &stuckProber{closed: make(chan struct{})} }

func (s *stuckProber) Probe(context.Context, netip.Addr, []byte) (Echo, error) {
	<-s.closed
	return Echo{}, errClosedConn
}

func (s *stuckProber) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

var errClosedConn = errors.New("use of closed network connection")

func addr(t *testing.T, i int) *models.Address {
	t.Helper()

	return models.NewAddress(netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i)))
}

func TestNewProbePool(t *testing.T) {
	_, err := NewProbePool(PoolConfig{Size: -1}, nil, logger.NewTestLogger())
	require.ErrorIs(t, err, ErrInvalidPoolSize)

	pool, err := NewProbePool(PoolConfig{}, func() (Prober, error) { return newStuckProber(), nil }, logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, defaultPoolSize, pool.Size())
	assert.Equal(t, defaultPoolSize, pool.Available())
	assert.Equal(t, 0, pool.InFlight())
	require.NoError(t, pool.Close())
}

func TestProbePoolBoundsInFlight(t *testing.T) {
	var current, peak atomic.Int32

	factory := func() (Prober, error) {
		return &countingProber{delay: 5 * time.Millisecond, current: &current, peak: &peak}, nil
	}

	pool, err := NewProbePool(PoolConfig{Size: 3}, factory, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()

	targets := make([]*models.Address, 12)
	for i := range targets {
		targets[i] = addr(t, i+1)
	}

	for _, target := range targets {
		h, err := pool.Acquire(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, pool.InFlight(), 3)
		require.NoError(t, pool.Send(ctx, h, target, nil, time.Second))
	}

	require.Eventually(t, func() bool { return pool.Available() == 3 }, 2*time.Second, time.Millisecond)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, pool.InFlight())

	for _, target := range targets {
		status := target.Status()
		assert.Equal(t, models.OutcomeSuccess, status.Outcome, target.IP().String())
		require.NotNil(t, status.LastSeen)
		require.NotNil(t, status.RTT)
	}
}

func TestProbePoolReclaimsStuckProbe(t *testing.T) {
	var (
		mu      sync.Mutex
		probers []*stuckProber
	)

	factory := func() (Prober, error) {
		mu.Lock()
		defer mu.Unlock()

		p := newStuckProber()
		probers = append(probers, p)

		return p, nil
	}

	pool, err := NewProbePool(PoolConfig{Size: 1, ReclaimGrace: 5 * time.Millisecond}, factory, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()
	target := addr(t, 1)

	h, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pool.Send(ctx, h, target, nil, 10*time.Millisecond))

	// The only handle comes back even though the prober never answers.
	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	h2, err := pool.Acquire(acquireCtx)
	require.NoError(t, err)
	assert.Same(t, h, h2)

	assert.Equal(t, models.OutcomeTimeout, target.Status().Outcome)
	assert.Nil(t, target.Status().LastSeen)

	mu.Lock()
	require.Len(t, probers, 1)

	select {
	case <-probers[0].closed:
	default:
		t.Fatal("reclaimed prober was not closed")
	}
	mu.Unlock()

	// The next probe on the reclaimed handle opens a fresh prober.
	require.NoError(t, pool.Send(ctx, h2, addr(t, 2), nil, 10*time.Millisecond))
	require.Eventually(t, func() bool { return pool.Available() == 1 }, time.Second, time.Millisecond)

	mu.Lock()
	assert.Len(t, probers, 2)
	mu.Unlock()
}

func TestProbePoolMismatchReleasesHandle(t *testing.T) {
	ctrl := gomock.NewController(t)

	prober := NewMockProber(ctrl)
	prober.EXPECT().
		Probe(gomock.Any(), netip.MustParseAddr("10.0.0.1"), gomock.Any()).
		Return(Echo{From: netip.MustParseAddr("10.0.0.99"), RTT: time.Millisecond}, nil)
	prober.EXPECT().Close().Return(nil).AnyTimes()

	pool, err := NewProbePool(PoolConfig{Size: 1}, func() (Prober, error) { return prober, nil }, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = pool.Close() })

	target := addr(t, 1)

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Send(context.Background(), h, target, nil, time.Second))

	require.Eventually(t, func() bool { return pool.Available() == 1 }, time.Second, time.Millisecond)

	status := target.Status()
	assert.Equal(t, models.OutcomeUnknown, status.Outcome)
	assert.Nil(t, status.LastSeen)
}

func TestProbePoolUnreachable(t *testing.T) {
	ctrl := gomock.NewController(t)

	prober := NewMockProber(ctrl)
	prober.EXPECT().
		Probe(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(Echo{From: netip.MustParseAddr("10.0.0.254")}, fmt.Errorf("%w: 10.0.0.1", ErrDestinationUnreachable))
	prober.EXPECT().Close().Return(nil).AnyTimes()

	pool, err := NewProbePool(PoolConfig{Size: 1}, func() (Prober, error) { return prober, nil }, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = pool.Close() })

	target := addr(t, 1)

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Send(context.Background(), h, target, nil, time.Second))

	require.Eventually(t, func() bool {
		return target.Status().Outcome == models.OutcomeUnreachable
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return pool.Available() == 1 }, time.Second, time.Millisecond)
	assert.Nil(t, target.Status().RTT)
}

func TestProbePoolRecoversPanickingUpdate(t *testing.T) {
	ctrl := gomock.NewController(t)

	prober := NewMockProber(ctrl)
	prober.EXPECT().Probe(gomock.Any(), gomock.Any(), gomock.Any()).Return(Echo{}, nil)
	prober.EXPECT().Close().Return(nil).AnyTimes()

	target := NewMockTarget(ctrl)
	target.EXPECT().IP().Return(netip.MustParseAddr("10.0.0.1")).AnyTimes()
	target.EXPECT().Kind().Return("registry").AnyTimes()
	target.EXPECT().Update(gomock.Any()).DoAndReturn(func(models.ProbeReply) error {
		panic("boom")
	})

	pool, err := NewProbePool(PoolConfig{Size: 1}, func() (Prober, error) { return prober, nil }, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = pool.Close() })

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Send(context.Background(), h, target, nil, time.Second))

	require.Eventually(t, func() bool { return pool.Available() == 1 }, time.Second, time.Millisecond)
}

func TestProbePoolCancelledProbeLeavesRecord(t *testing.T) {
	var current, peak atomic.Int32

	factory := func() (Prober, error) {
		return &countingProber{delay: time.Hour, current: &current, peak: &peak}, nil
	}

	pool, err := NewProbePool(PoolConfig{Size: 1}, factory, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = pool.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	target := addr(t, 1)

	h, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pool.Send(ctx, h, target, nil, time.Minute))

	cancel()

	require.Eventually(t, func() bool { return pool.Available() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, models.OutcomeUnknown, target.Status().Outcome)
}

func TestAcquireWaitsForContext(t *testing.T) {
	pool, err := NewProbePool(PoolConfig{Size: 1}, func() (Prober, error) { return newStuckProber(), nil }, logger.NewTestLogger())
	require.NoError(t, err)

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, pool.Close())

	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)

	err = pool.Send(context.Background(), h, addr(t, 1), nil, time.Second)
	require.ErrorIs(t, err, ErrPoolClosed)
	assert.Equal(t, 1, pool.Available())
}

func TestSendInvalidTargetReleasesHandle(t *testing.T) {
	pool, err := NewProbePool(PoolConfig{Size: 1}, func() (Prober, error) { return newStuckProber(), nil }, logger.NewTestLogger())
	require.NoError(t, err)

	defer func() { require.NoError(t, pool.Close()) }()

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	err = pool.Send(context.Background(), h, nil, nil, time.Second)
	require.ErrorIs(t, err, ErrInvalidTarget)

	assert.Equal(t, 1, pool.Available())
	assert.Equal(t, 0, pool.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	h, err = pool.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, h)

	require.ErrorIs(t, pool.Send(context.Background(), nil, addr(t, 1), nil, time.Second), ErrInvalidTarget)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ProbeOutcome
	}{
		{"success", nil, models.OutcomeSuccess},
		{"unreachable", fmt.Errorf("wrap: %w", ErrDestinationUnreachable), models.OutcomeUnreachable},
		{"probe timeout", ErrProbeTimeout, models.OutcomeTimeout},
		{"reclaimed", ErrProbeReclaimed, models.OutcomeTimeout},
		{"context deadline", context.DeadlineExceeded, models.OutcomeTimeout},
		{"socket deadline", fmt.Errorf("read: %w", os.ErrDeadlineExceeded), models.OutcomeTimeout},
		{"other", errors.New("sendto: permission denied"), models.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestQuotedEcho(t *testing.T) {
	quoted := make([]byte, 28)
	quoted[0] = 0x45
	quoted[24], quoted[25] = 0x12, 0x34
	quoted[26], quoted[27] = 0x01, 0x02

	id, seq, ok := quotedEcho(quoted)
	require.True(t, ok)
	assert.Equal(t, 0x1234, id)
	assert.Equal(t, 0x0102, seq)

	_, _, ok = quotedEcho(quoted[:20])
	assert.False(t, ok)

	quoted[0] = 0x46 // 24-byte header, echo header truncated
	_, _, ok = quotedEcho(quoted)
	assert.False(t, ok)
}

func TestOursRequiresIdentOnRawSockets(t *testing.T) {
	raw := &ICMPProber{privileged: true, ident: 0x1234}
	assert.True(t, raw.ours(0x1234, 7, 7))
	assert.False(t, raw.ours(0x4321, 7, 7), "another prober's request")
	assert.False(t, raw.ours(0x1234, 6, 7))

	dgram := &ICMPProber{ident: 0x1234}
	assert.True(t, dgram.ours(0x9999, 7, 7), "kernel rewrites the identifier")
	assert.False(t, dgram.ours(0x9999, 6, 7))
}
