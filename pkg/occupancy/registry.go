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

package occupancy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/carverauto/shackradar/pkg/models"
)

var (
	ErrEmptyName     = errors.New("occupant without a name")
	ErrDuplicateName = errors.New("duplicate occupant name")
	ErrNoMACs        = errors.New("occupant has no MAC addresses")
	ErrInvalidMAC    = errors.New("invalid occupant MAC address")
)

// Format identifies the encoding of the occupant registry.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

const idTypeMAC = "mac"

// jsonMember is the original registry shape:
// [{"user": "alice", "ids": [{"type": "mac", "value": "00:11:22:33:44:55"}]}]
type jsonMember struct {
	User string `json:"user"`
	IDs  []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"ids"`
}

type yamlRegistry struct {
	Occupants []struct {
		Name string   `yaml:"name"`
		MACs []string `yaml:"macs"`
	} `yaml:"occupants"`
}

// DetectFormat picks the registry format from the file extension and falls
// back to sniffing the content.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return FormatJSON
	}

	return FormatYAML
}

// LoadRegistry reads the occupant registry. Any invalid entry fails the load.
func LoadRegistry(path string) ([]models.Member, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read occupant registry: %w", err)
	}

	members, err := ParseRegistry(bytes.NewReader(data), DetectFormat(path, data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return members, nil
}

// ParseRegistry decodes a registry in the given format.
func ParseRegistry(r io.Reader, format Format) ([]models.Member, error) {
	type rawMember struct {
		name string
		macs []string
	}

	var raw []rawMember

	switch format {
	case FormatJSON:
		var doc []jsonMember
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode occupant registry: %w", err)
		}

		for _, m := range doc {
			rm := rawMember{name: m.User}

			for _, id := range m.IDs {
				if strings.EqualFold(id.Type, idTypeMAC) {
					rm.macs = append(rm.macs, id.Value)
				}
			}

			raw = append(raw, rm)
		}
	case FormatYAML:
		var doc yamlRegistry

		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)

		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode occupant registry: %w", err)
		}

		for _, o := range doc.Occupants {
			raw = append(raw, rawMember{name: o.Name, macs: o.MACs})
		}
	default:
		return nil, fmt.Errorf("unsupported occupant registry format %d", format)
	}

	members := make([]models.Member, 0, len(raw))
	names := make(map[string]struct{}, len(raw))

	for i, rm := range raw {
		name := strings.TrimSpace(rm.name)
		if name == "" {
			return nil, fmt.Errorf("entry %d: %w", i, ErrEmptyName)
		}

		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}

		names[name] = struct{}{}

		if len(rm.macs) == 0 {
			return nil, fmt.Errorf("%s: %w", name, ErrNoMACs)
		}

		member := models.Member{Name: name, MACs: make([]net.HardwareAddr, 0, len(rm.macs))}

		for _, s := range rm.macs {
			mac, err := models.ParseMAC(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("%s: %w: %q", name, ErrInvalidMAC, s)
			}

			member.MACs = append(member.MACs, mac)
		}

		members = append(members, member)
	}

	return members, nil
}
