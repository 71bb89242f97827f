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
	"encoding/json"
	"errors"
	"time"
)

var ErrEventsURLRequired = errors.New("events url is required when events are enabled")

const (
	DefaultEventStream = "events"
	DefaultTopicPrefix = "occupancy"
)

// EventsConfig enables the NATS JetStream sink for presence transitions.
type EventsConfig struct {
	Enabled    bool       `json:"enabled"`
	URL        string     `json:"url"`
	StreamName string     `json:"stream_name"`
	Subjects   []string   `json:"subjects,omitempty"`
	Domain     string     `json:"domain,omitempty"`
	TLS        *TLSConfig `json:"tls,omitempty"`
}

// Validate ensures the events configuration is valid and fills in defaults.
func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.URL == "" {
		return ErrEventsURLRequired
	}

	if c.StreamName == "" {
		c.StreamName = DefaultEventStream
	}

	return nil
}

// TLSConfig holds the client certificate material for mTLS connections.
type TLSConfig struct {
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	CAFile     string `json:"ca_file"`
	ServerName string `json:"server_name,omitempty"`
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	DataContentType string          `json:"datacontenttype"`
	Subject         string          `json:"subject,omitempty"`
	Time            *time.Time      `json:"time,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// OccupancyEventData is the payload of an occupant arrival or departure.
type OccupancyEventData struct {
	Name      string    `json:"name"`
	Present   bool      `json:"present"`
	LastSeen  time.Time `json:"last_seen"`
	Timestamp time.Time `json:"timestamp"`
}
