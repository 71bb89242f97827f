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

package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.31.0"
)

var (
	ErrOTelLoggingDisabled  = errors.New("OTel logging is disabled")
	ErrOTelEndpointRequired = errors.New("OTel endpoint is required when enabled")
)

const (
	defaultOTelServiceName  = "shackradar"
	defaultOTelBatchTimeout = 5 * time.Second
	defaultOTelScope        = "shackradar-logger"
	maxAttributeValueLength = 4096
)

// OTelConfig enables shipping every log line to an OTLP gRPC collector in
// addition to the local output.
type OTelConfig struct {
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	Endpoint     string            `json:"endpoint" yaml:"endpoint"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	ServiceName  string            `json:"service_name" yaml:"service_name"`
	BatchTimeout string            `json:"batch_timeout,omitempty" yaml:"batch_timeout,omitempty"`
	Insecure     bool              `json:"insecure" yaml:"insecure"`
}

// OTelWriter is an io.Writer that turns zerolog JSON lines into OTel log
// records. The component field selects the instrumentation scope.
type OTelWriter struct {
	provider *sdklog.LoggerProvider
	ctx      context.Context

	mu      sync.Mutex
	loggers map[string]log.Logger
}

//nolint:gochecknoglobals // shared so every component logger reuses one exporter
var (
	otelMu     sync.Mutex
	otelWriter *OTelWriter
)

func NewOTELWriter(ctx context.Context, config OTelConfig) (*OTelWriter, error) {
	if !config.Enabled {
		return nil, ErrOTelLoggingDisabled
	}

	if config.Endpoint == "" {
		return nil, ErrOTelEndpointRequired
	}

	batchTimeout := defaultOTelBatchTimeout

	if config.BatchTimeout != "" {
		d, err := time.ParseDuration(config.BatchTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid OTel batch timeout: %w", err)
		}

		batchTimeout = d
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(config.Endpoint)}

	if config.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(config.Headers))
	}

	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = defaultOTelServiceName
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter, sdklog.WithExportTimeout(batchTimeout))),
	)

	global.SetLoggerProvider(provider)

	return &OTelWriter{
		provider: provider,
		ctx:      ctx,
		loggers:  make(map[string]log.Logger),
	}, nil
}

// Write never fails; lines that are not JSON objects are dropped.
func (w *OTelWriter) Write(p []byte) (int, error) {
	entry := make(map[string]interface{})
	if err := json.Unmarshal(p, &entry); err != nil {
		return len(p), nil
	}

	var record log.Record

	if ts, ok := entry["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			record.SetTimestamp(parsed)
			delete(entry, "time")
		}
	}

	if level, ok := entry["level"].(string); ok {
		record.SetSeverity(mapZerologLevelToOTEL(level))
		record.SetSeverityText(level)
		delete(entry, "level")
	}

	if msg, ok := entry["message"].(string); ok {
		record.SetBody(log.StringValue(msg))
		delete(entry, "message")
	}

	scope := defaultOTelScope
	if component, ok := entry["component"].(string); ok && component != "" {
		scope = component
		delete(entry, "component")
	}

	for key, value := range entry {
		record.AddAttributes(log.String(key, formatAttributeValue(value)))
	}

	w.scopeLogger(scope).Emit(w.ctx, record)

	return len(p), nil
}

func (w *OTelWriter) scopeLogger(scope string) log.Logger {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.loggers[scope]
	if !ok {
		l = w.provider.Logger(scope)
		w.loggers[scope] = l
	}

	return l
}

func formatAttributeValue(value interface{}) string {
	var s string

	switch v := value.(type) {
	case string:
		s = v
	case bool:
		s = strconv.FormatBool(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		s = ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprint(v)
		} else {
			s = string(b)
		}
	}

	if len(s) > maxAttributeValueLength {
		s = s[:maxAttributeValueLength]
	}

	return s
}

func mapZerologLevelToOTEL(level string) log.Severity {
	switch strings.ToLower(level) {
	case "trace":
		return log.SeverityTrace
	case "debug":
		return log.SeverityDebug
	case "info":
		return log.SeverityInfo
	case "warn", "warning":
		return log.SeverityWarn
	case "error":
		return log.SeverityError
	case "fatal", "panic":
		return log.SeverityFatal
	default:
		return log.SeverityInfo
	}
}

// enableOTel installs the shared OTel writer once; later calls reuse it.
func enableOTel(config *OTelConfig) error {
	if config == nil || !config.Enabled {
		return nil
	}

	otelMu.Lock()
	defer otelMu.Unlock()

	if otelWriter != nil {
		return nil
	}

	w, err := NewOTELWriter(context.Background(), *config)
	if err != nil {
		return err
	}

	otelWriter = w

	return nil
}

func sharedOTelWriter() *OTelWriter {
	otelMu.Lock()
	defer otelMu.Unlock()

	return otelWriter
}

// Shutdown flushes buffered OTel log records.
func Shutdown(ctx context.Context) error {
	otelMu.Lock()
	defer otelMu.Unlock()

	if otelWriter == nil {
		return nil
	}

	err := otelWriter.provider.Shutdown(ctx)
	otelWriter = nil

	if err != nil {
		return fmt.Errorf("failed to shut down OTel log provider: %w", err)
	}

	return nil
}
