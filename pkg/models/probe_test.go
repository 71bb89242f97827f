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
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressLastSeenIsMonotonic(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.5")
	addr := NewAddress(ip)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	outcomes := []ProbeOutcome{
		OutcomeTimeout, OutcomeSuccess, OutcomeUnreachable, OutcomeError,
		OutcomeSuccess, OutcomeTimeout, OutcomeTimeout,
	}

	var prev *time.Time

	for i, outcome := range outcomes {
		reply := ProbeReply{Addr: ip, Outcome: outcome, RTT: 3 * time.Millisecond, At: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, addr.Update(reply))

		st := addr.Status()
		if prev != nil {
			require.NotNil(t, st.LastSeen)
			assert.False(t, st.LastSeen.Before(*prev), "last seen regressed at step %d", i)
		}

		if outcome == OutcomeSuccess {
			require.NotNil(t, st.RTT)
			assert.Equal(t, reply.At, *st.LastSeen)
		} else {
			assert.Nil(t, st.RTT, "rtt must be cleared on %s", outcome)
		}

		assert.Equal(t, outcome, st.Outcome)
		prev = st.LastSeen
	}
}

func TestAddressIgnoresOlderSuccess(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.5")
	addr := NewAddress(ip)
	now := time.Now()

	require.NoError(t, addr.Update(ProbeReply{Addr: ip, Outcome: OutcomeSuccess, At: now}))
	require.NoError(t, addr.Update(ProbeReply{Addr: ip, Outcome: OutcomeSuccess, At: now.Add(-time.Minute)}))

	assert.Equal(t, now, *addr.Status().LastSeen)
}

func TestAddressRejectsMismatchedReply(t *testing.T) {
	addr := NewAddress(netip.MustParseAddr("10.0.0.5"))

	err := addr.Update(ProbeReply{Addr: netip.MustParseAddr("10.0.0.6"), Outcome: OutcomeSuccess, At: time.Now()})
	require.ErrorIs(t, err, ErrReplyMismatch)

	st := addr.Status()
	assert.Equal(t, OutcomeUnknown, st.Outcome)
	assert.Nil(t, st.LastSeen)
}

func TestHostLastSeenIsMaxOverAddresses(t *testing.T) {
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	host := NewHost("web1", a, b, a)

	require.Len(t, host.Addresses(), 2, "duplicate ip should collapse")
	assert.Nil(t, host.LastSeen())

	t0 := time.Now()
	require.NoError(t, host.Addresses()[0].Update(ProbeReply{Addr: a, Outcome: OutcomeSuccess, At: t0}))
	require.NoError(t, host.Addresses()[1].Update(ProbeReply{Addr: b, Outcome: OutcomeSuccess, At: t0.Add(time.Second)}))
	require.NoError(t, host.Addresses()[1].Update(ProbeReply{Addr: b, Outcome: OutcomeTimeout, At: t0.Add(2 * time.Second)}))

	require.NotNil(t, host.LastSeen())
	assert.Equal(t, t0.Add(time.Second), *host.LastSeen())
}

func TestLeaseEntryConcurrentUpdates(t *testing.T) {
	mac, err := net.ParseMAC("00:27:22:6a:00:1b")
	require.NoError(t, err)

	ip := netip.MustParseAddr("10.42.29.43")
	entry := NewLeaseEntry(mac, LeaseInfo{IP: ip, DeviceName: "hackerpig"})

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func(i int) {
			defer wg.Done()
			_ = entry.Update(ProbeReply{Addr: ip, Outcome: OutcomeSuccess, At: time.Unix(int64(i), 0)})
		}(i)

		go func() {
			defer wg.Done()
			entry.SetInfo(LeaseInfo{IP: ip, DeviceName: "hackerpig"})
			_ = entry.Status()
		}()
	}

	wg.Wait()

	assert.Equal(t, time.Unix(49, 0), *entry.Status().LastSeen)
	assert.Equal(t, "00:27:22:6a:00:1b", entry.Key())
}

func TestDurationUnmarshal(t *testing.T) {
	var cfg struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a":"250ms","b":1000}`), &cfg))
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.A))
	assert.Equal(t, time.Microsecond, time.Duration(cfg.B))

	require.Error(t, json.Unmarshal([]byte(`{"a":true}`), &cfg))
	require.Error(t, json.Unmarshal([]byte(`{"a":"soon"}`), &cfg))

	out, err := json.Marshal(Duration(5 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"5s"`, string(out))
}
