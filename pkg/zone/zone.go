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

// Package zone reads the static name registry from a bind-style zone file.
// Only A records are used; everything else in the file is ignored.
package zone

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"regexp"
	"strings"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/models"
)

var (
	ErrInvalidAddress = errors.New("invalid A record address")
	ErrEmptyRegistry  = errors.New("zone file contains no A records")
)

// name, optional ttl tokens, then "IN A" and its operand. The operand is
// optional here so a record without a usable address fails the load.
var aRecord = regexp.MustCompile(`^([\w\-\.]+)\s+(?:\S+\s+)*?IN\s+A(?:\s+(\S+))?(?:\s|$)`)

// Options controls how record names are turned into host names.
type Options struct {
	// Domain is stripped from fully qualified names, "shack" turns
	// "web1.shack." into "web1".
	Domain string
}

// Load parses the zone file at path.
func Load(path string, opts Options, log logger.Logger) (*models.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zone file '%s': %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("path", path).Msg("Failed to close zone file")
		}
	}()

	reg, err := Parse(f, opts, log)
	if err != nil {
		return nil, fmt.Errorf("zone file '%s': %w", path, err)
	}

	return reg, nil
}

// Parse builds a registry generation. Hosts keep first-appearance order and
// accumulate every address listed for their name.
func Parse(r io.Reader, opts Options, log logger.Logger) (*models.Registry, error) {
	var (
		order []string
		ips   = make(map[string][]netip.Addr)
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if strings.HasPrefix(line, ";") {
			continue
		}

		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			line = line[:idx]
		}

		m := aRecord.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		if m[2] == "" {
			return nil, fmt.Errorf("line %d: %w: missing address for %q", lineNo, ErrInvalidAddress, m[1])
		}

		ip, err := netip.ParseAddr(m[2])
		if err != nil || !ip.Is4() {
			return nil, fmt.Errorf("line %d: %w: %q", lineNo, ErrInvalidAddress, m[2])
		}

		name := hostName(m[1], opts.Domain)
		if _, ok := ips[name]; !ok {
			order = append(order, name)
		}

		ips[name] = append(ips[name], ip)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read zone: %w", err)
	}

	if len(order) == 0 {
		return nil, ErrEmptyRegistry
	}

	hosts := make([]*models.Host, 0, len(order))
	for _, name := range order {
		hosts = append(hosts, models.NewHost(name, ips[name]...))
	}

	log.Info().Int("hosts", len(hosts)).Msg("Loaded name registry")

	return models.NewRegistry(hosts), nil
}

func hostName(raw, domain string) string {
	name := strings.TrimSuffix(raw, ".")

	if domain != "" {
		name = strings.TrimSuffix(name, "."+strings.Trim(domain, "."))
	}

	return name
}
