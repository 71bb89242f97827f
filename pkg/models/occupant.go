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
	"time"
)

// Member is a registered occupant as configured: a name and the MACs of
// their devices.
type Member struct {
	Name string
	MACs []net.HardwareAddr
}

// Occupant is the derived presence of one member for one occupancy cycle.
type Occupant struct {
	Name     string    `json:"name"`
	MACs     []string  `json:"macs"`
	LastSeen time.Time `json:"last_seen"`
	Present  bool      `json:"present"`
}

// Occupancy is one immutable generation of occupant presence.
type Occupancy struct {
	Occupants  []Occupant
	ComputedAt time.Time
}

// Present returns the names of occupants currently present.
func (o *Occupancy) Present() []string {
	var names []string

	for _, occ := range o.Occupants {
		if occ.Present {
			names = append(names, occ.Name)
		}
	}

	return names
}

// ParseMAC accepts colon or dash separated hardware addresses in any case.
func ParseMAC(s string) (net.HardwareAddr, error) {
	return net.ParseMAC(s)
}
