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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/state"
)

func writeFeed(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestReloadOnceFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhcpd.leases")
	writeFeed(t, path, dhcpdSample)

	store := state.NewStore()
	r := NewReloader(&FileSource{Path: path}, NewParser(time.UTC, logger.NewTestLogger()), store, 0, logger.NewTestLogger())

	n, err := r.ReloadOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first := store.Leases()
	pig, ok := first.Lookup(mustMAC(t, "00:27:22:6a:00:1b"))
	require.True(t, ok)

	// a second reload keeps the same entry object
	n, err = r.ReloadOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	again, ok := store.Leases().Lookup(mustMAC(t, "00:27:22:6a:00:1b"))
	require.True(t, ok)
	assert.Same(t, pig, again)
	assert.NotSame(t, first, store.Leases())
}

func TestReloadOnceKeepsSnapshotOnFetchError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhcpd.leases")
	writeFeed(t, path, dhcpdSample)

	store := state.NewStore()
	r := NewReloader(&FileSource{Path: path}, NewParser(time.UTC, logger.NewTestLogger()), store, 0, logger.NewTestLogger())

	_, err := r.ReloadOnce(context.Background())
	require.NoError(t, err)

	before := store.Leases()

	require.NoError(t, os.Remove(path))

	_, err = r.ReloadOnce(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Same(t, before, store.Leases())
}

func TestHTTPSource(t *testing.T) {
	var fail atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jsonSample))
	}))
	t.Cleanup(srv.Close)

	store := state.NewStore()
	source := NewHTTPSource(srv.URL+"/api/leases", time.Second)
	r := NewReloader(source, NewParser(time.FixedZone("CET", 3600), logger.NewTestLogger()), store, 0, logger.NewTestLogger())

	n, err := r.ReloadOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	fail.Store(true)

	_, err = r.ReloadOnce(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedCode)
	assert.Equal(t, 2, store.Leases().Len())
}

func TestReloaderRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhcpd.leases")
	writeFeed(t, path, dhcpdSample)

	store := state.NewStore()
	r := NewReloader(&FileSource{Path: path}, NewParser(time.UTC, logger.NewTestLogger()), store, 10*time.Millisecond, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Leases().Len() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "lease-reloader", r.Name())
}

func TestNewSource(t *testing.T) {
	_, err := NewSource("", 0)
	require.ErrorIs(t, err, ErrEmptySource)

	s, err := NewSource("https://leases.shack/api/leases", 0)
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, s)

	s, err = NewSource("file:///var/lib/dhcp/dhcpd.leases", 0)
	require.NoError(t, err)
	require.IsType(t, &FileSource{}, s)
	assert.Equal(t, "/var/lib/dhcp/dhcpd.leases", s.String())
}
