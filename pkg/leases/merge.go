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
	"cmp"
	"slices"

	"github.com/carverauto/shackradar/pkg/models"
)

// Merge builds the next lease generation. The first lease per MAC wins. Known
// MACs keep their entry object, and with it their probe history; only the
// feed-derived fields are overwritten. MACs absent from leases are dropped.
// The result is sorted by device name, then MAC.
func Merge(prev *models.LeaseTable, leases []Lease) *models.LeaseTable {
	type sortable struct {
		entry *models.LeaseEntry
		name  string
		key   string
	}

	seen := make(map[string]struct{}, len(leases))
	merged := make([]sortable, 0, len(leases))

	for i := range leases {
		l := &leases[i]
		key := l.MAC.String()

		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}

		info := l.info()

		var entry *models.LeaseEntry

		if prev != nil {
			if existing, ok := prev.Lookup(l.MAC); ok {
				existing.SetInfo(info)
				entry = existing
			}
		}

		if entry == nil {
			entry = models.NewLeaseEntry(l.MAC, info)
		}

		merged = append(merged, sortable{entry: entry, name: info.DeviceName, key: key})
	}

	slices.SortStableFunc(merged, func(a, b sortable) int {
		return cmp.Or(cmp.Compare(a.name, b.name), cmp.Compare(a.key, b.key))
	})

	entries := make([]*models.LeaseEntry, len(merged))
	for i, m := range merged {
		entries[i] = m.entry
	}

	return models.NewLeaseTable(entries)
}
