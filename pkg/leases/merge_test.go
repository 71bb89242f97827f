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
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/shackradar/pkg/models"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()

	mac, err := net.ParseMAC(s)
	require.NoError(t, err)

	return mac
}

func lease(t *testing.T, mac, ip, name string) Lease {
	t.Helper()

	return Lease{
		IP:           netip.MustParseAddr(ip),
		MAC:          mustMAC(t, mac),
		DeviceName:   name,
		BindingState: bindingStateActive,
	}
}

func TestMergePreservesProbeHistory(t *testing.T) {
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	phone := models.NewLeaseEntry(mustMAC(t, "aa:00:00:00:00:01"), models.LeaseInfo{
		IP:         netip.MustParseAddr("10.0.0.5"),
		DeviceName: "phone",
	})
	require.NoError(t, phone.Update(models.ProbeReply{
		Addr:    netip.MustParseAddr("10.0.0.5"),
		Outcome: models.OutcomeSuccess,
		RTT:     3 * time.Millisecond,
		At:      seen,
	}))

	gone := models.NewLeaseEntry(mustMAC(t, "aa:00:00:00:00:02"), models.LeaseInfo{DeviceName: "gone"})
	prev := models.NewLeaseTable([]*models.LeaseEntry{phone, gone})

	next := Merge(prev, []Lease{
		lease(t, "aa:00:00:00:00:03", "10.0.0.7", "laptop"),
		lease(t, "AA:00:00:00:00:01", "10.0.0.6", "phone-renamed"),
	})

	require.Equal(t, 2, next.Len())

	got, ok := next.Lookup(mustMAC(t, "aa:00:00:00:00:01"))
	require.True(t, ok)
	assert.Same(t, phone, got)
	assert.Equal(t, netip.MustParseAddr("10.0.0.6"), got.IP())
	assert.Equal(t, "phone-renamed", got.Info().DeviceName)

	status := got.Status()
	require.NotNil(t, status.LastSeen)
	assert.True(t, status.LastSeen.Equal(seen))
	assert.Equal(t, models.OutcomeSuccess, status.Outcome)

	_, ok = next.Lookup(gone.MAC())
	assert.False(t, ok, "entries missing from the feed are dropped")

	laptop, ok := next.Lookup(mustMAC(t, "aa:00:00:00:00:03"))
	require.True(t, ok)
	assert.Equal(t, models.OutcomeUnknown, laptop.Status().Outcome)
	assert.Nil(t, laptop.Status().LastSeen)
}

func TestMergeFirstOccurrenceWins(t *testing.T) {
	next := Merge(nil, []Lease{
		lease(t, "aa:00:00:00:00:01", "10.0.0.1", "first"),
		lease(t, "aa:00:00:00:00:01", "10.0.0.2", "second"),
	})

	require.Equal(t, 1, next.Len())
	assert.Equal(t, "first", next.Entries()[0].Info().DeviceName)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), next.Entries()[0].IP())
}

func TestMergeSortsByDeviceNameThenMAC(t *testing.T) {
	next := Merge(nil, []Lease{
		lease(t, "aa:00:00:00:00:09", "10.0.0.1", "zeta"),
		lease(t, "aa:00:00:00:00:05", "10.0.0.2", "alpha"),
		lease(t, "aa:00:00:00:00:02", "10.0.0.3", "alpha"),
		lease(t, "aa:00:00:00:00:07", "10.0.0.4", ""),
	})

	var keys []string
	for _, e := range next.Entries() {
		keys = append(keys, e.Key())
	}

	assert.Equal(t, []string{
		"aa:00:00:00:00:07",
		"aa:00:00:00:00:02",
		"aa:00:00:00:00:05",
		"aa:00:00:00:00:09",
	}, keys)
}

func TestMergeEmptyFeedClearsTable(t *testing.T) {
	prev := Merge(nil, []Lease{lease(t, "aa:00:00:00:00:01", "10.0.0.1", "x")})

	next := Merge(prev, nil)
	assert.Equal(t, 0, next.Len())
	assert.NotNil(t, next.Entries())
}

func TestLeaseInfoFallsBackToEnds(t *testing.T) {
	ends := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := Lease{Ends: ends}

	assert.True(t, l.info().LastRefresh.Equal(ends))

	cltt := ends.Add(-time.Hour)
	l.CLTT = cltt
	assert.True(t, l.info().LastRefresh.Equal(cltt))
}
