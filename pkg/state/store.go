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

// Package state holds the currently published generation of every
// collection: registry hosts, DHCP leases and occupancy.
//
// Each slot is replaced atomically and independently. Readers get the
// current generation without locking; a reader that keeps an old handle
// keeps seeing that generation. Reading two slots in a row may observe
// generations from different moments.
package state

import (
	"errors"
	"sync/atomic"

	"github.com/carverauto/shackradar/pkg/models"
)

var ErrNilSnapshot = errors.New("snapshot cannot be nil")

// Store is the shared database passed to every worker.
type Store struct {
	registry  atomic.Pointer[models.Registry]
	leases    atomic.Pointer[models.LeaseTable]
	occupancy atomic.Pointer[models.Occupancy]
}

// NewStore returns a store whose slots hold empty generations.
func NewStore() *Store {
	s := &Store{}
	s.registry.Store(models.NewRegistry(nil))
	s.leases.Store(models.NewLeaseTable(nil))
	s.occupancy.Store(&models.Occupancy{})

	return s
}

func (s *Store) Registry() *models.Registry { return s.registry.Load() }

func (s *Store) Leases() *models.LeaseTable { return s.leases.Load() }

func (s *Store) Occupancy() *models.Occupancy { return s.occupancy.Load() }

func (s *Store) SetRegistry(r *models.Registry) error {
	if r == nil {
		return ErrNilSnapshot
	}

	s.registry.Store(r)

	return nil
}

func (s *Store) SetLeases(t *models.LeaseTable) error {
	if t == nil {
		return ErrNilSnapshot
	}

	s.leases.Store(t)

	return nil
}

func (s *Store) SetOccupancy(o *models.Occupancy) error {
	if o == nil {
		return ErrNilSnapshot
	}

	s.occupancy.Store(o)

	return nil
}
