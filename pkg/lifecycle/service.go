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

package lifecycle

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/shackradar/pkg/logger"
)

// Service is a long-lived worker. Run blocks until ctx is cancelled or the
// worker fails.
type Service interface {
	Name() string
	Run(ctx context.Context) error
}

// RunServices runs every service concurrently until SIGINT/SIGTERM or until
// one of them returns a non-cancellation error, which cancels the rest.
func RunServices(ctx context.Context, log logger.Logger, services ...Service) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	for _, svc := range services {
		g.Go(func() error {
			log.Info().Str("service", svc.Name()).Msg("Starting service")

			err := svc.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("service", svc.Name()).Msg("Service stopped with error")

				return err
			}

			log.Info().Str("service", svc.Name()).Msg("Service stopped")

			return nil
		})
	}

	return g.Wait()
}
