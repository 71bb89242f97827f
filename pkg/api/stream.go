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

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 5 * time.Second

// StreamMessage is one frame of the dataset stream.
type StreamMessage struct {
	Type      string    `json:"type"`
	Data      *Dataset  `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
				return true
			}

			return originAllowed(allowedOrigins, origin)
		},
	}
}

// handleStream pushes the full dataset over a websocket every stream interval
// until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("WebSocket stream opened")

	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("Failed to close WebSocket")
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go drainClient(conn, cancel)

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		if err := s.sendDataset(conn); err != nil {
			s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket stream closed")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) sendDataset(conn *websocket.Conn) error {
	data := BuildDataset(s.store, s.domain)

	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := conn.WriteJSON(StreamMessage{Type: "data", Data: &data, Timestamp: time.Now()}); err != nil {
		return fmt.Errorf("failed to write JSON message: %w", err)
	}

	return nil
}

// drainClient reads and discards client frames so control messages are
// processed, and cancels the stream once the connection fails.
func drainClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
