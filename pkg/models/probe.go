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
	"errors"
	"fmt"
	"net/netip"
	"time"
)

var ErrReplyMismatch = errors.New("probe reply does not match target address")

// ProbeOutcome is the result kind of the most recent liveness probe.
type ProbeOutcome string

const (
	OutcomeUnknown     ProbeOutcome = "unknown"
	OutcomeSuccess     ProbeOutcome = "success"
	OutcomeTimeout     ProbeOutcome = "timeout"
	OutcomeUnreachable ProbeOutcome = "unreachable"
	OutcomeError       ProbeOutcome = "error"
)

// ProbeReply is what a completed (or reclaimed) probe reports back to its target.
type ProbeReply struct {
	Addr    netip.Addr
	Outcome ProbeOutcome
	RTT     time.Duration
	At      time.Time
}

// ProbeStatus is the mutable liveness state carried by every probed record.
// RTT is only set while the last outcome is a success. LastSeen never moves
// backwards.
type ProbeStatus struct {
	Outcome  ProbeOutcome   `json:"status"`
	RTT      *time.Duration `json:"rtt,omitempty"`
	LastSeen *time.Time     `json:"last_seen,omitempty"`
}

// apply folds a reply into the status. Callers hold the owning record's lock.
func (s *ProbeStatus) apply(reply ProbeReply) {
	s.Outcome = reply.Outcome

	if reply.Outcome != OutcomeSuccess {
		s.RTT = nil
		return
	}

	rtt := reply.RTT
	s.RTT = &rtt

	if s.LastSeen == nil || reply.At.After(*s.LastSeen) {
		at := reply.At
		s.LastSeen = &at
	}
}

func (s ProbeStatus) clone() ProbeStatus {
	out := ProbeStatus{Outcome: s.Outcome}

	if s.RTT != nil {
		rtt := *s.RTT
		out.RTT = &rtt
	}

	if s.LastSeen != nil {
		ls := *s.LastSeen
		out.LastSeen = &ls
	}

	return out
}

// Online reports whether the last probe succeeded.
func (s ProbeStatus) Online() bool {
	return s.Outcome == OutcomeSuccess && s.RTT != nil
}

func checkReply(want netip.Addr, reply ProbeReply) error {
	if reply.Addr.IsValid() && reply.Addr != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrReplyMismatch, want, reply.Addr)
	}

	return nil
}
