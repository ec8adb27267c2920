package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"txpub/internal/plan"
)

const SupportedSchema = "v1"

// LoadPlan parses a run plan YAML, validates schema_version, resolves
// client.config relative to the plan file and fills defaults. An empty path
// yields the default plan.
func LoadPlan(path string) (plan.File, error) {
	var cfg plan.File
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, &Error{Path: path, Err: err}
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, &Error{Path: path, Err: err}
		}
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, &Error{Path: path, Err: fmt.Errorf("plan schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)}
	}
	if c := cfg.Client.Config; c != "" && path != "" && !filepath.IsAbs(c) {
		cfg.Client.Config = filepath.Join(filepath.Dir(path), c)
	}
	ApplyPlanDefaults(&cfg)
	if err := ValidatePlan(cfg); err != nil {
		if ce, ok := err.(*Error); ok {
			ce.Path = path
		}
		return cfg, err
	}
	return cfg, nil
}

func ApplyPlanDefaults(c *plan.File) {
	if c.Client.Driver == "" {
		c.Client.Driver = plan.DefaultDriver
	}
	if c.Topic.Name == "" {
		c.Topic.Name = plan.DefaultTopic
	}
	if c.Topic.Partitions == 0 {
		c.Topic.Partitions = plan.DefaultPartitions
	}
	if c.Topic.ReplicationFactor == 0 {
		c.Topic.ReplicationFactor = plan.DefaultReplicationFactor
	}
	if c.Records.Count == 0 {
		c.Records.Count = plan.DefaultRecords
	}
	if c.Pacing.Mode == "" {
		c.Pacing.Mode = plan.DefaultPacing
	}
	if c.Telemetry.TracingSampleRate == 0 {
		c.Telemetry.TracingSampleRate = 1
	}
}

// ValidatePlan checks a plan after defaults (and any flag overrides) have
// been applied.
func ValidatePlan(c plan.File) error {
	switch {
	case c.Topic.Partitions <= 0:
		return &Error{Key: "topic.partitions", Err: errors.New("must be > 0")}
	case c.Topic.ReplicationFactor <= 0:
		return &Error{Key: "topic.replication_factor", Err: errors.New("must be > 0")}
	case c.Records.Count <= 0:
		return &Error{Key: "records.count", Err: errors.New("must be > 0")}
	case c.Retries() < 0:
		return &Error{Key: "retry.attempts", Err: errors.New("must be >= 0")}
	}
	switch strings.ToLower(c.Pacing.Mode) {
	case "none", "interactive":
	case "interval":
		if c.Pacing.IntervalMS <= 0 {
			return &Error{Key: "pacing.interval_ms", Err: errors.New("must be > 0 for interval pacing")}
		}
	case "rate":
		if c.Pacing.RatePerSec <= 0 {
			return &Error{Key: "pacing.rate_per_sec", Err: errors.New("must be > 0 for rate pacing")}
		}
	default:
		return &Error{Key: "pacing.mode", Err: fmt.Errorf("unknown mode %q", c.Pacing.Mode)}
	}
	if c.Telemetry.TracingSampleRate < 0 || c.Telemetry.TracingSampleRate > 1 {
		return &Error{Key: "telemetry.tracing_sample_rate", Err: errors.New("must be within [0,1]")}
	}
	return nil
}
