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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/shackradar/pkg/logger"
)

// Format identifies the encoding of a lease feed.
type Format int

const (
	FormatDhcpd Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatDhcpd:
		return "dhcpd"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

const (
	dhcpdTimeLayout = "2006/01/02 15:04:05"
	jsonTimeLayout  = "Mon Jan 2 2006 15:04:05 (MST)"
)

// DetectFormat picks the feed format from its first non-space byte.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return FormatJSON
	}

	return FormatDhcpd
}

// Parser turns a lease feed into active leases. A Parser is meant to live for
// the whole process so unknown keys are reported once.
type Parser struct {
	loc     *time.Location
	unknown *UnknownKeyLog
	logger  logger.Logger
}

// NewParser returns a parser converting feed timestamps to loc (time.Local if nil).
func NewParser(loc *time.Location, log logger.Logger) *Parser {
	if loc == nil {
		loc = time.Local
	}

	return &Parser{loc: loc, unknown: NewUnknownKeyLog(log), logger: log}
}

// Unknown exposes the set of unknown keys seen by this parser.
func (p *Parser) Unknown() *UnknownKeyLog { return p.unknown }

// Parse reads the whole feed and returns its active leases in feed order.
// Malformed blocks are logged and skipped; only read errors are returned.
func (p *Parser) Parse(r io.Reader) ([]Lease, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read lease feed: %w", err)
	}

	switch DetectFormat(data) {
	case FormatJSON:
		return p.parseJSON(data)
	default:
		return p.parseDhcpd(data), nil
	}
}

func (p *Parser) parseDhcpd(data []byte) []Lease {
	toks := tokenize(data)

	var out []Lease

	for i := 0; i < len(toks); {
		if toks[i].kind != tokWord || toks[i].text != "lease" {
			i = skipStatement(toks, i)
			continue
		}

		lease, next, err := p.parseLeaseBlock(toks, i)
		i = next

		if err != nil {
			p.logger.Warn().Err(err).Int("line", toks[min(i, len(toks)-1)].line).Msg("Skipping malformed lease block")
			continue
		}

		if lease.Active() {
			out = append(out, lease)
		}
	}

	return out
}

// parseLeaseBlock parses "lease <ip> { ... }" starting at toks[i] and returns
// the index just past the closing brace.
func (p *Parser) parseLeaseBlock(toks []token, i int) (Lease, int, error) {
	var lease Lease

	if i+2 >= len(toks) || toks[i+2].kind != tokLBrace {
		return lease, skipStatement(toks, i), fmt.Errorf("%w: missing block after lease", ErrTruncatedBlock)
	}

	end := matchBrace(toks, i+2)
	if end < 0 {
		return lease, len(toks), ErrTruncatedBlock
	}

	ip, err := netip.ParseAddr(toks[i+1].text)
	if err != nil || !ip.Is4() {
		return lease, end + 1, fmt.Errorf("%w: %q", ErrInvalidLeaseIP, toks[i+1].text)
	}

	lease.IP = ip

	for j := i + 3; j < end; {
		stmt, next := nextStatement(toks, j, end)
		j = next

		if len(stmt) == 0 {
			continue
		}

		if err := p.applyStatement(&lease, stmt); err != nil {
			return lease, end + 1, err
		}
	}

	return lease, end + 1, nil
}

func (p *Parser) applyStatement(lease *Lease, stmt []token) error {
	key, args := statementKey(stmt)

	var err error

	switch key {
	case "starts":
		lease.Starts, err = p.parseDhcpdTime(args)
	case "ends":
		lease.Ends, err = p.parseDhcpdTime(args)
	case "cltt":
		lease.CLTT, err = p.parseDhcpdTime(args)
	case "binding state":
		if len(args) > 0 {
			lease.BindingState = args[0]
		}
	case "hardware":
		if len(args) < 2 {
			return fmt.Errorf("%w: %v", ErrInvalidMAC, args)
		}

		mac, perr := net.ParseMAC(args[1])
		if perr != nil {
			return fmt.Errorf("%w: %q", ErrInvalidMAC, args[1])
		}

		lease.MAC = mac
	case "client-hostname":
		if len(args) > 0 {
			lease.DeviceName = args[0]
		}
	case "tstp", "tsfp", "atsfp", "next binding state", "rewind binding state",
		"uid", "set", "option", "on", "abandoned":
	default:
		p.unknown.Observe(key)
	}

	return err
}

// statementKey splits a statement into its key and the text of its arguments.
func statementKey(stmt []token) (string, []string) {
	words := make([]string, 0, len(stmt))
	for _, t := range stmt {
		if t.kind == tokWord || t.kind == tokString {
			words = append(words, t.text)
		}
	}

	if len(words) == 0 {
		return "", nil
	}

	n := 1

	switch {
	case words[0] == "binding" && len(words) > 1 && words[1] == "state":
		n = 2
	case (words[0] == "next" || words[0] == "rewind") && len(words) > 2 && words[1] == "binding":
		n = 3
	}

	return strings.Join(words[:n], " "), words[n:]
}

// parseDhcpdTime accepts "<weekday> YYYY/MM/DD HH:MM:SS" (UTC), "epoch <secs>"
// and "never".
func (p *Parser) parseDhcpdTime(args []string) (time.Time, error) {
	switch {
	case len(args) == 1 && args[0] == "never":
		return time.Time{}, nil
	case len(args) == 2 && args[0] == "epoch":
		secs, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, args)
		}

		return time.Unix(secs, 0).In(p.loc), nil
	case len(args) == 3:
		if wd, err := strconv.Atoi(args[0]); err != nil || wd < 0 || wd > 6 {
			return time.Time{}, fmt.Errorf("%w: bad weekday in %v", ErrInvalidTimestamp, args)
		}

		t, err := time.ParseInLocation(dhcpdTimeLayout, args[1]+" "+args[2], time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, args)
		}

		return t.In(p.loc), nil
	}

	return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, args)
}

type jsonLease struct {
	IP               string `json:"ip"`
	Starts           string `json:"starts"`
	Ends             string `json:"ends"`
	CLTT             string `json:"cltt"`
	BindingState     string `json:"bindingState"`
	HardwareEthernet string `json:"hardwareEthernet"`
	ClientHostname   string `json:"clientHostname"`
}

//nolint:gochecknoglobals // read-only lookup table
var knownJSONKeys = map[string]struct{}{
	"ip": {}, "starts": {}, "ends": {}, "cltt": {}, "bindingState": {},
	"nextBindingState": {}, "rewindBindingState": {}, "hardwareEthernet": {},
	"uid": {}, "clientHostname": {}, "tstp": {}, "tsfp": {}, "atsfp": {},
}

func (p *Parser) parseJSON(data []byte) ([]Lease, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownFormat, err)
	}

	out := make([]Lease, 0, len(raw))

	for idx, item := range raw {
		lease, err := p.parseJSONLease(item)
		if err != nil {
			p.logger.Warn().Err(err).Int("index", idx).Msg("Skipping malformed lease entry")
			continue
		}

		if lease.Active() {
			out = append(out, lease)
		}
	}

	return out, nil
}

func (p *Parser) parseJSONLease(item json.RawMessage) (Lease, error) {
	var (
		lease Lease
		keys  map[string]json.RawMessage
		entry jsonLease
	)

	if err := json.Unmarshal(item, &keys); err != nil {
		return lease, err
	}

	for k := range keys {
		if _, ok := knownJSONKeys[k]; !ok {
			p.unknown.Observe(k)
		}
	}

	if err := json.Unmarshal(item, &entry); err != nil {
		return lease, err
	}

	ip, err := netip.ParseAddr(entry.IP)
	if err != nil || !ip.Is4() {
		return lease, fmt.Errorf("%w: %q", ErrInvalidLeaseIP, entry.IP)
	}

	lease.IP = ip
	lease.BindingState = entry.BindingState
	lease.DeviceName = entry.ClientHostname

	if entry.HardwareEthernet != "" {
		mac, err := net.ParseMAC(entry.HardwareEthernet)
		if err != nil {
			return lease, fmt.Errorf("%w: %q", ErrInvalidMAC, entry.HardwareEthernet)
		}

		lease.MAC = mac
	}

	for _, f := range []struct {
		raw string
		dst *time.Time
	}{
		{entry.Starts, &lease.Starts},
		{entry.Ends, &lease.Ends},
		{entry.CLTT, &lease.CLTT},
	} {
		if *f.dst, err = p.parseJSONTime(f.raw); err != nil {
			return lease, err
		}
	}

	return lease, nil
}

func (p *Parser) parseJSONTime(raw string) (time.Time, error) {
	if raw == "" || raw == "never" {
		return time.Time{}, nil
	}

	if t, err := time.ParseInLocation(jsonTimeLayout, raw, p.loc); err == nil {
		return t.In(p.loc), nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(p.loc), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}
