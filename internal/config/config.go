// Package config resolves the indexer's runtime configuration: each key
// is read from its environment variable first, then from a JSON file at
// the path named by $CONFIG, then falls back to its documented default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/availproject/greatest-indexer-of-all-times/internal/avail"
	"github.com/availproject/greatest-indexer-of-all-times/internal/codec"
	"github.com/availproject/greatest-indexer-of-all-times/internal/repository"
	"github.com/availproject/greatest-indexer-of-all-times/internal/telemetry"
)

// fileConfig mirrors the JSON shape accepted at $CONFIG. Fields use
// pointers so an absent key falls through to the environment/default
// resolution instead of zeroing the value.
type fileConfig struct {
	DBURL                *string                  `json:"DB_URL"`
	AvailURL             *string                  `json:"AVAIL_URL"`
	BlockHeight          *uint32                  `json:"BLOCK_HEIGHT"`
	TableName            *string                  `json:"TABLE_NAME"`
	SendMessageTableName *string                  `json:"SEND_MESSAGE_TABLE_NAME"`
	ExecuteTableName     *string                  `json:"EXECUTE_TABLE_NAME"`
	MaxTaskCount         *uint32                  `json:"MAX_TASK_COUNT"`
	LogIntervalMS        *uint32                  `json:"LOG_INTERVAL_MS"`
	Observability        *observabilityFileConfig `json:"observability"`
	Headers              *headersFileConfig       `json:"headers"`
}

// headersFileConfig lets an operator repoint the call/inherent headers
// at a renumbered pallet after a runtime upgrade, without a rebuild. Any
// field left unset keeps avail.DefaultHeaders/DefaultInherentHeaders.
type headersFileConfig struct {
	SendMessage          *headerPair `json:"send_message"`
	Execute              *headerPair `json:"execute"`
	AsMulti              *headerPair `json:"as_multi"`
	Proxy                *headerPair `json:"proxy"`
	TimestampSet         *headerPair `json:"timestamp_set"`
	FailedSendMessageTxs *headerPair `json:"failed_send_message_txs"`
}

type headerPair struct {
	Pallet  uint8 `json:"pallet"`
	Variant uint8 `json:"variant"`
}

type observabilityFileConfig struct {
	Enabled         *bool   `json:"enabled"`
	TracesEndpoint  *string `json:"traces_endpoint"`
	MetricsEndpoint *string `json:"metrics_endpoint"`
	ServiceName     *string `json:"service_name"`
	ServiceVersion  *string `json:"service_version"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	DBURL       string
	AvailURL    string
	BlockHeight *uint32 // explicit start height; nil means "resolve from DB/RPC"

	Tables repository.TableNames

	MaxTaskCount  uint32
	LogIntervalMS uint32

	Headers         codec.Headers
	InherentHeaders avail.InherentHeaders

	Observability telemetry.ObservabilityConfig
}

const (
	defaultMaxTaskCount  = 25
	defaultLogIntervalMS = 60000
)

// Load resolves Config per the env-var → $CONFIG JSON file → default
// precedence. DB_URL is the only required key; its absence everywhere is
// a fatal configuration error.
func Load() (*Config, error) {
	file, err := loadFileConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AvailURL:      avail.MainnetEndpoint,
		Tables:        repository.DefaultTableNames,
		MaxTaskCount:  defaultMaxTaskCount,
		LogIntervalMS: defaultLogIntervalMS,
	}

	cfg.DBURL = resolveString("DB_URL", file.stringPtr("DB_URL"), "")
	if cfg.DBURL == "" {
		return nil, fmt.Errorf("config: DB_URL is required (set the environment variable or %q in the JSON file at $CONFIG)", "DB_URL")
	}

	cfg.AvailURL = resolveString("AVAIL_URL", file.stringPtr("AVAIL_URL"), cfg.AvailURL)

	if height, ok, err := resolveUint32("BLOCK_HEIGHT", file.uint32Ptr("BLOCK_HEIGHT")); err != nil {
		return nil, err
	} else if ok {
		cfg.BlockHeight = &height
	}

	cfg.Tables.Main = resolveString("TABLE_NAME", file.stringPtr("TABLE_NAME"), cfg.Tables.Main)
	cfg.Tables.SendMessage = resolveString("SEND_MESSAGE_TABLE_NAME", file.stringPtr("SEND_MESSAGE_TABLE_NAME"), cfg.Tables.SendMessage)
	cfg.Tables.Execute = resolveString("EXECUTE_TABLE_NAME", file.stringPtr("EXECUTE_TABLE_NAME"), cfg.Tables.Execute)

	if v, ok, err := resolveUint32("MAX_TASK_COUNT", file.uint32Ptr("MAX_TASK_COUNT")); err != nil {
		return nil, err
	} else if ok {
		cfg.MaxTaskCount = v
	}

	if v, ok, err := resolveUint32("LOG_INTERVAL_MS", file.uint32Ptr("LOG_INTERVAL_MS")); err != nil {
		return nil, err
	} else if ok {
		cfg.LogIntervalMS = v
	}

	cfg.Observability = resolveObservability(file.Observability)

	cfg.Headers = resolveHeaders(file.Headers)
	cfg.InherentHeaders = resolveInherentHeaders(file.Headers)

	return cfg, nil
}

func resolveHeaders(file *headersFileConfig) codec.Headers {
	h := avail.DefaultHeaders()
	if file == nil {
		return h
	}
	if file.SendMessage != nil {
		h.SendMessage = codec.Header{Pallet: file.SendMessage.Pallet, Variant: file.SendMessage.Variant}
	}
	if file.Execute != nil {
		h.Execute = codec.Header{Pallet: file.Execute.Pallet, Variant: file.Execute.Variant}
	}
	if file.AsMulti != nil {
		h.AsMulti = codec.Header{Pallet: file.AsMulti.Pallet, Variant: file.AsMulti.Variant}
	}
	if file.Proxy != nil {
		h.Proxy = codec.Header{Pallet: file.Proxy.Pallet, Variant: file.Proxy.Variant}
	}
	return h
}

func resolveInherentHeaders(file *headersFileConfig) avail.InherentHeaders {
	h := avail.DefaultInherentHeaders()
	if file == nil {
		return h
	}
	if file.TimestampSet != nil {
		h.TimestampSet = codec.Header{Pallet: file.TimestampSet.Pallet, Variant: file.TimestampSet.Variant}
	}
	if file.FailedSendMessageTxs != nil {
		h.FailedSendMessageTxs = codec.Header{Pallet: file.FailedSendMessageTxs.Pallet, Variant: file.FailedSendMessageTxs.Variant}
	}
	return h
}

func (f *fileConfig) stringPtr(key string) *string {
	if f == nil {
		return nil
	}
	switch key {
	case "DB_URL":
		return f.DBURL
	case "AVAIL_URL":
		return f.AvailURL
	case "TABLE_NAME":
		return f.TableName
	case "SEND_MESSAGE_TABLE_NAME":
		return f.SendMessageTableName
	case "EXECUTE_TABLE_NAME":
		return f.ExecuteTableName
	default:
		return nil
	}
}

func (f *fileConfig) uint32Ptr(key string) *uint32 {
	if f == nil {
		return nil
	}
	switch key {
	case "BLOCK_HEIGHT":
		return f.BlockHeight
	case "MAX_TASK_COUNT":
		return f.MaxTaskCount
	case "LOG_INTERVAL_MS":
		return f.LogIntervalMS
	default:
		return nil
	}
}

func loadFileConfig() (*fileConfig, error) {
	path := os.Getenv("CONFIG")
	if path == "" {
		return &fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &fc, nil
}

func resolveString(envKey string, fileVal *string, def string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fileVal != nil {
		return *fileVal
	}
	return def
}

func resolveUint32(envKey string, fileVal *uint32) (uint32, bool, error) {
	if v := os.Getenv(envKey); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return 0, false, fmt.Errorf("config: %s=%q is not a valid u32: %w", envKey, v, err)
		}
		return uint32(n), true, nil
	}
	if fileVal != nil {
		return *fileVal, true, nil
	}
	return 0, false, nil
}

func resolveObservability(file *observabilityFileConfig) telemetry.ObservabilityConfig {
	obs := telemetry.ObservabilityConfig{
		ServiceName:    "avail-bridge-indexer",
		ServiceVersion: "dev",
	}

	enabled := false
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		enabled = v == "true"
	} else if file != nil && file.Enabled != nil {
		enabled = *file.Enabled
	}
	obs.Enabled = enabled

	obs.TracesEndpoint = resolveString("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", observabilityStringPtr(file, "traces_endpoint"), "")
	obs.MetricsEndpoint = resolveString("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", observabilityStringPtr(file, "metrics_endpoint"), "")
	obs.ServiceName = resolveString("OTEL_SERVICE_NAME", observabilityStringPtr(file, "service_name"), obs.ServiceName)
	obs.ServiceVersion = resolveString("OTEL_SERVICE_VERSION", observabilityStringPtr(file, "service_version"), obs.ServiceVersion)

	return obs
}

func observabilityStringPtr(file *observabilityFileConfig, key string) *string {
	if file == nil {
		return nil
	}
	switch key {
	case "traces_endpoint":
		return file.TracesEndpoint
	case "metrics_endpoint":
		return file.MetricsEndpoint
	case "service_name":
		return file.ServiceName
	case "service_version":
		return file.ServiceVersion
	default:
		return nil
	}
}
