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

package state

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/shackradar/pkg/models"
)

func TestNewStoreHasEmptyGenerations(t *testing.T) {
	t.Parallel()

	s := NewStore()

	require.NotNil(t, s.Registry())
	require.NotNil(t, s.Leases())
	require.NotNil(t, s.Occupancy())
	assert.Equal(t, 0, s.Registry().Len())
	assert.Equal(t, 0, s.Leases().Len())
	assert.Empty(t, s.Occupancy().Occupants)
}

func TestSetRejectsNil(t *testing.T) {
	t.Parallel()

	s := NewStore()
	before := s.Leases()

	require.ErrorIs(t, s.SetRegistry(nil), ErrNilSnapshot)
	require.ErrorIs(t, s.SetLeases(nil), ErrNilSnapshot)
	require.ErrorIs(t, s.SetOccupancy(nil), ErrNilSnapshot)

	assert.Same(t, before, s.Leases())
}

func TestSetReplacesSlotIndependently(t *testing.T) {
	t.Parallel()

	s := NewStore()
	reg := models.NewRegistry([]*models.Host{models.NewHost("web1", netip.MustParseAddr("10.0.0.5"))})
	leases := s.Leases()

	require.NoError(t, s.SetRegistry(reg))

	assert.Same(t, reg, s.Registry())
	assert.Same(t, leases, s.Leases())
}

// leaseGeneration builds a table whose every entry name encodes the generation,
// so a reader can detect a table mixing entries from two generations.
func leaseGeneration(t *testing.T, gen, size int) *models.LeaseTable {
	t.Helper()

	entries := make([]*models.LeaseEntry, 0, size)

	for i := 0; i < size; i++ {
		mac := net.HardwareAddr{0x02, 0, 0, 0, byte(i >> 8), byte(i)}
		entries = append(entries, models.NewLeaseEntry(mac, models.LeaseInfo{
			IP:         netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)}),
			DeviceName: fmt.Sprintf("gen-%d", gen),
		}))
	}

	return models.NewLeaseTable(entries)
}

func TestConcurrentReadersSeeWholeGenerations(t *testing.T) {
	t.Parallel()

	const (
		size        = 64
		generations = 200
		readers     = 8
	)

	s := NewStore()
	require.NoError(t, s.SetLeases(leaseGeneration(t, 0, size)))

	var (
		wg       sync.WaitGroup
		done     atomic.Bool
		failures atomic.Int64
	)

	for r := 0; r < readers; r++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for !done.Load() {
				table := s.Leases()
				entries := table.Entries()

				if len(entries) != size || table.Len() != size {
					failures.Add(1)
					continue
				}

				want := entries[0].Info().DeviceName
				seen := make(map[string]struct{}, size)

				for _, e := range entries {
					if e.Info().DeviceName != want {
						failures.Add(1)
					}

					if _, dup := seen[e.Key()]; dup {
						failures.Add(1)
					}

					seen[e.Key()] = struct{}{}
				}
			}
		}()
	}

	for gen := 1; gen <= generations; gen++ {
		require.NoError(t, s.SetLeases(leaseGeneration(t, gen, size)))
	}

	done.Store(true)
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, fmt.Sprintf("gen-%d", generations), s.Leases().Entries()[0].Info().DeviceName)
}
