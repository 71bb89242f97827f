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
	"net/netip"
	"sync"
	"time"
)

// Address is one registry IP plus its probe status.
type Address struct {
	ip netip.Addr

	mu     sync.Mutex
	status ProbeStatus
}

func NewAddress(ip netip.Addr) *Address {
	return &Address{ip: ip, status: ProbeStatus{Outcome: OutcomeUnknown}}
}

func (a *Address) IP() netip.Addr { return a.ip }

func (*Address) Kind() string { return "registry" }

// Update applies a probe reply. A reply for a different address is rejected
// and leaves the status untouched.
func (a *Address) Update(reply ProbeReply) error {
	if err := checkReply(a.ip, reply); err != nil {
		return err
	}

	a.mu.Lock()
	a.status.apply(reply)
	a.mu.Unlock()

	return nil
}

// Status returns a copy of the current probe status.
func (a *Address) Status() ProbeStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.status.clone()
}

// Host is a registry name bound to a fixed set of addresses.
type Host struct {
	Name      string
	addresses []*Address
}

// NewHost builds a host; duplicate IPs collapse to the first occurrence.
func NewHost(name string, ips ...netip.Addr) *Host {
	h := &Host{Name: name}
	seen := make(map[netip.Addr]struct{}, len(ips))

	for _, ip := range ips {
		if _, dup := seen[ip]; dup {
			continue
		}

		seen[ip] = struct{}{}
		h.addresses = append(h.addresses, NewAddress(ip))
	}

	return h
}

// Addresses returns the host's addresses. The slice must not be modified.
func (h *Host) Addresses() []*Address {
	return h.addresses
}

// LastSeen is the newest successful probe across all addresses, nil when none
// has ever answered.
func (h *Host) LastSeen() *time.Time {
	var latest *time.Time

	for _, a := range h.addresses {
		st := a.Status()
		if st.LastSeen == nil {
			continue
		}

		if latest == nil || st.LastSeen.After(*latest) {
			latest = st.LastSeen
		}
	}

	return latest
}

// Registry is one immutable generation of registry hosts.
type Registry struct {
	hosts  []*Host
	byName map[string]*Host
}

func NewRegistry(hosts []*Host) *Registry {
	r := &Registry{
		hosts:  hosts,
		byName: make(map[string]*Host, len(hosts)),
	}

	for _, h := range hosts {
		r.byName[h.Name] = h
	}

	return r
}

func (r *Registry) Hosts() []*Host { return r.hosts }

func (r *Registry) Len() int { return len(r.hosts) }

func (r *Registry) Lookup(name string) (*Host, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// Addresses flattens every host's addresses in registry order.
func (r *Registry) Addresses() []*Address {
	var out []*Address

	for _, h := range r.hosts {
		out = append(out, h.addresses...)
	}

	return out
}
