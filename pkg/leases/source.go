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
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	ErrEmptySource    = errors.New("lease source not configured")
	ErrUnexpectedCode = errors.New("unexpected status code from lease feed")
)

const defaultFetchTimeout = 5 * time.Second

// Source yields one copy of the lease feed per call.
type Source interface {
	Fetch(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// FileSource reads a dhcpd.leases (or JSON) file from disk.
type FileSource struct {
	Path string
}

func (s *FileSource) Fetch(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lease file: %w", err)
	}

	return f, nil
}

func (s *FileSource) String() string { return s.Path }

// HTTPSource fetches the feed from a URL.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &HTTPSource{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build lease request: %w", err)
	}

	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch leases: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%w: %d", ErrUnexpectedCode, resp.StatusCode)
	}

	return resp.Body, nil
}

func (s *HTTPSource) String() string { return s.URL }

// NewSource returns an HTTPSource for http(s) URLs and a FileSource otherwise.
func NewSource(location string, timeout time.Duration) (Source, error) {
	switch {
	case location == "":
		return nil, ErrEmptySource
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return NewHTTPSource(location, timeout), nil
	default:
		return &FileSource{Path: strings.TrimPrefix(location, "file://")}, nil
	}
}
