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

import (
	"context"
	"errors"
	"os"

	"github.com/carverauto/shackradar/pkg/models"
)

// Classify maps the error returned by a Prober onto a probe outcome.
func Classify(err error) models.ProbeOutcome {
	switch {
	case err == nil:
		return models.OutcomeSuccess
	case errors.Is(err, ErrDestinationUnreachable):
		return models.OutcomeUnreachable
	case errors.Is(err, ErrProbeTimeout),
		errors.Is(err, ErrProbeReclaimed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return models.OutcomeTimeout
	default:
		return models.OutcomeError
	}
}
