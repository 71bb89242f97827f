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

package api

import (
	"strings"
	"time"

	"github.com/carverauto/shackradar/pkg/models"
	"github.com/carverauto/shackradar/pkg/state"
)

// AddressView is one probed address of a registry host.
type AddressView struct {
	IP       string     `json:"ip"`
	Status   string     `json:"status"`
	Ping     *float64   `json:"ping"`
	LastSeen *time.Time `json:"lastSeen"`
}

// HostView is a registry host with all of its addresses.
type HostView struct {
	Name      string        `json:"name"`
	DNS       string        `json:"dns"`
	LastSeen  *time.Time    `json:"lastSeen"`
	Addresses []AddressView `json:"addresses"`
}

// LeaseView is one DHCP client.
type LeaseView struct {
	MAC         string     `json:"mac"`
	IP          string     `json:"ip"`
	DeviceName  string     `json:"deviceName"`
	FirstLease  time.Time  `json:"firstLease"`
	LastRefresh time.Time  `json:"lastRefresh"`
	Ends        *time.Time `json:"ends,omitempty"`
	Status      string     `json:"status"`
	Ping        *float64   `json:"ping"`
	LastSeen    *time.Time `json:"lastSeen"`
}

// OccupantView is the presence of one registered occupant.
type OccupantView struct {
	Name     string    `json:"name"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// Dataset is the combined status document served at /data.json.
type Dataset struct {
	DHCP     []LeaseView    `json:"dhcp"`
	Services []HostView     `json:"services"`
	Shackles []OccupantView `json:"shackles"`
}

// pingMillis renders an RTT in fractional milliseconds.
func pingMillis(rtt *time.Duration) *float64 {
	if rtt == nil {
		return nil
	}

	ms := float64(*rtt) / float64(time.Millisecond)

	return &ms
}

func newAddressView(a *models.Address) AddressView {
	st := a.Status()

	return AddressView{
		IP:       a.IP().String(),
		Status:   string(st.Outcome),
		Ping:     pingMillis(st.RTT),
		LastSeen: st.LastSeen,
	}
}

func newHostView(h *models.Host, domain string) HostView {
	addrs := h.Addresses()

	view := HostView{
		Name:      h.Name,
		DNS:       h.Name,
		LastSeen:  h.LastSeen(),
		Addresses: make([]AddressView, 0, len(addrs)),
	}

	if domain = strings.Trim(domain, "."); domain != "" {
		view.DNS = h.Name + "." + domain
	}

	for _, a := range addrs {
		view.Addresses = append(view.Addresses, newAddressView(a))
	}

	return view
}

func newLeaseView(e *models.LeaseEntry) LeaseView {
	info := e.Info()
	st := e.Status()

	view := LeaseView{
		MAC:         e.Key(),
		DeviceName:  info.DeviceName,
		FirstLease:  info.FirstLease,
		LastRefresh: info.LastRefresh,
		Status:      string(st.Outcome),
		Ping:        pingMillis(st.RTT),
		LastSeen:    st.LastSeen,
	}

	if info.IP.IsValid() {
		view.IP = info.IP.String()
	}

	if !info.Ends.IsZero() {
		ends := info.Ends
		view.Ends = &ends
	}

	return view
}

// HostViews renders one registry generation.
func HostViews(reg *models.Registry, domain string) []HostView {
	views := make([]HostView, 0, reg.Len())

	for _, h := range reg.Hosts() {
		views = append(views, newHostView(h, domain))
	}

	return views
}

// LeaseViews renders one lease generation.
func LeaseViews(table *models.LeaseTable) []LeaseView {
	views := make([]LeaseView, 0, table.Len())

	for _, e := range table.Entries() {
		views = append(views, newLeaseView(e))
	}

	return views
}

// OccupantViews renders one occupancy generation.
func OccupantViews(occ *models.Occupancy) []OccupantView {
	views := make([]OccupantView, 0, len(occ.Occupants))

	for _, o := range occ.Occupants {
		views = append(views, OccupantView{Name: o.Name, Online: o.Present, LastSeen: o.LastSeen})
	}

	return views
}

// BuildDataset reads each slot of the store once. The three collections may
// come from generations published at slightly different moments.
func BuildDataset(store *state.Store, domain string) Dataset {
	return Dataset{
		DHCP:     LeaseViews(store.Leases()),
		Services: HostViews(store.Registry(), domain),
		Shackles: OccupantViews(store.Occupancy()),
	}
}
