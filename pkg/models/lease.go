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
	"net"
	"net/netip"
	"sync"
	"time"
)

// LeaseInfo is the part of a lease entry that comes from the DHCP feed.
type LeaseInfo struct {
	IP          netip.Addr
	DeviceName  string
	FirstLease  time.Time
	LastRefresh time.Time
	Ends        time.Time
}

// LeaseEntry is a DHCP client identified by MAC. The same object survives
// feed reloads so its probe history is kept.
type LeaseEntry struct {
	mac net.HardwareAddr

	mu     sync.Mutex
	info   LeaseInfo
	status ProbeStatus
}

func NewLeaseEntry(mac net.HardwareAddr, info LeaseInfo) *LeaseEntry {
	return &LeaseEntry{
		mac:    mac,
		info:   info,
		status: ProbeStatus{Outcome: OutcomeUnknown},
	}
}

func (e *LeaseEntry) MAC() net.HardwareAddr { return e.mac }

// Key is the canonical MAC string used for identity.
func (e *LeaseEntry) Key() string { return e.mac.String() }

func (*LeaseEntry) Kind() string { return "lease" }

func (e *LeaseEntry) IP() netip.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.info.IP
}

func (e *LeaseEntry) Info() LeaseInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.info
}

// SetInfo overwrites the feed-derived fields and keeps the probe status.
func (e *LeaseEntry) SetInfo(info LeaseInfo) {
	e.mu.Lock()
	e.info = info
	e.mu.Unlock()
}

func (e *LeaseEntry) Update(reply ProbeReply) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkReply(e.info.IP, reply); err != nil {
		return err
	}

	e.status.apply(reply)

	return nil
}

func (e *LeaseEntry) Status() ProbeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status.clone()
}

// LeaseTable is one immutable generation of lease entries, sorted by device name.
type LeaseTable struct {
	entries []*LeaseEntry
	byMAC   map[string]*LeaseEntry
}

func NewLeaseTable(entries []*LeaseEntry) *LeaseTable {
	t := &LeaseTable{
		entries: entries,
		byMAC:   make(map[string]*LeaseEntry, len(entries)),
	}

	for _, e := range entries {
		t.byMAC[e.Key()] = e
	}

	return t
}

func (t *LeaseTable) Entries() []*LeaseEntry { return t.entries }

func (t *LeaseTable) Len() int { return len(t.entries) }

func (t *LeaseTable) Lookup(mac net.HardwareAddr) (*LeaseEntry, bool) {
	e, ok := t.byMAC[mac.String()]
	return e, ok
}
