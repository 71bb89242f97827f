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

// Package leases ingests the DHCP lease feed and merges it into the lease
// snapshot without losing the probe history of known clients.
package leases

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/models"
)

var (
	ErrUnknownFormat    = errors.New("unrecognized lease feed format")
	ErrInvalidTimestamp = errors.New("invalid lease timestamp")
	ErrInvalidLeaseIP   = errors.New("invalid lease address")
	ErrInvalidMAC       = errors.New("invalid hardware address")
	ErrTruncatedBlock   = errors.New("lease block not terminated")
)

const bindingStateActive = "active"

// Lease is one parsed lease block.
type Lease struct {
	IP           netip.Addr
	MAC          net.HardwareAddr
	DeviceName   string
	BindingState string
	Starts       time.Time
	Ends         time.Time
	CLTT         time.Time
}

// Active reports whether the lease is bound and names a hardware address.
func (l *Lease) Active() bool {
	return l.BindingState == bindingStateActive && len(l.MAC) > 0
}

func (l *Lease) info() models.LeaseInfo {
	refresh := l.CLTT
	if refresh.IsZero() {
		refresh = l.Ends
	}

	return models.LeaseInfo{
		IP:          l.IP,
		DeviceName:  l.DeviceName,
		FirstLease:  l.Starts,
		LastRefresh: refresh,
		Ends:        l.Ends,
	}
}

// UnknownKeyLog reports each unrecognized feed key once per process.
type UnknownKeyLog struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	logger logger.Logger
}

func NewUnknownKeyLog(log logger.Logger) *UnknownKeyLog {
	return &UnknownKeyLog{seen: make(map[string]struct{}), logger: log}
}

// Observe logs key if it has not been seen before and reports whether it was new.
func (u *UnknownKeyLog) Observe(key string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.seen[key]; ok {
		return false
	}

	u.seen[key] = struct{}{}
	u.logger.Info().Str("key", key).Msg("Ignoring unknown lease option")

	return true
}

// Keys returns the unknown keys seen so far.
func (u *UnknownKeyLog) Keys() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	keys := make([]string, 0, len(u.seen))
	for k := range u.seen {
		keys = append(keys, k)
	}

	return keys
}
