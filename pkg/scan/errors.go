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

package scan

import "errors"

var (
	// Pool errors
	ErrPoolClosed      = errors.New("probe pool closed")
	ErrInvalidPoolSize = errors.New("probe pool size must be positive")

	// Probe errors
	ErrInvalidTarget          = errors.New("probe target is not a valid IPv4 address")
	ErrProbeTimeout           = errors.New("probe timed out")
	ErrDestinationUnreachable = errors.New("destination unreachable")
	ErrProbeReclaimed         = errors.New("probe reclaimed after deadline")
)
