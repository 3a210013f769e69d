// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"time"

	"github.com/mobiletoly/go-docstore/document"
	"github.com/mobiletoly/go-docstore/migration"
)

const (
	DefaultSchema       = "docstore"
	DefaultPollInterval = time.Second
	DefaultPageSize     = 500
)

// Config holds store-wide configuration
type Config struct {
	Schema     string              // Postgres schema holding every area table set (default "docstore")
	AppName    string              // Application name for connection tracking
	Fields     document.FieldNames // Engine field names used when rendering documents
	Migrations *migration.Registry // Registered migrators, shared by all areas (nil = none)

	Areas       map[string]AreaConfig // Per-area overrides keyed by area name
	DefaultArea AreaConfig            // Applied to areas without an entry in Areas

	StageMetrics    StageMetricsRecorder // Optional stage timing sink
	LogStageTimings bool                 // Log stage timings at debug level
}

// AreaConfig holds per-area toggles
type AreaConfig struct {
	SchemaVersion     string        // Current schema version stamped on writes and targeted by reads
	History           bool          // Capture pre-images into the history table
	PersistMigrations bool          // Write migrated documents back after a read
	CommandTimeout    time.Duration // Deadline applied to every operation (0 = none)
	PollInterval      time.Duration // Subscription long-poll timeout (default 1s)
	PageSize          int           // Rows fetched per subscription poll (default 500)
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Schema == "" {
		out.Schema = DefaultSchema
	}
	if out.AppName == "" {
		out.AppName = "go-docstore-app"
	}
	out.Fields = out.Fields.WithDefaults()
	if out.Migrations == nil {
		out.Migrations = migration.NewRegistry(nil)
	}
	return &out
}

// area returns the effective configuration for name.
func (c *Config) area(name string) AreaConfig {
	ac, ok := c.Areas[name]
	if !ok {
		ac = c.DefaultArea
	}
	if ac.PollInterval <= 0 {
		ac.PollInterval = DefaultPollInterval
	}
	if ac.PageSize <= 0 {
		ac.PageSize = DefaultPageSize
	}
	return ac
}
