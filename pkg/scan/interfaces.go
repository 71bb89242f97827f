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

//go:generate mockgen -destination=mock_scan.go -package=scan github.com/carverauto/shackradar/pkg/scan Prober,Target

package scan

import (
	"context"
	"net/netip"
	"time"

	"github.com/carverauto/shackradar/pkg/models"
)

// Target is a record whose liveness is probed. Update must serialize against
// concurrent readers of the same record.
type Target interface {
	IP() netip.Addr
	Kind() string
	Update(reply models.ProbeReply) error
}

// Echo is a received echo reply.
type Echo struct {
	From netip.Addr
	RTT  time.Duration
}

// Prober sends one echo request and waits for its reply. A Prober is used by
// one probe at a time.
type Prober interface {
	Probe(ctx context.Context, ip netip.Addr, payload []byte) (Echo, error)
	Close() error
}

// ProberFactory opens a new Prober for a pool handle.
type ProberFactory func() (Prober, error)

var (
	_ Target = (*models.Address)(nil)
	_ Target = (*models.LeaseEntry)(nil)
)
