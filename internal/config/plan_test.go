package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"txpub/internal/plan"
)

func TestLoadPlan_ResolvesRelativeClientConfigAndSchema(t *testing.T) {
	dir := t.TempDir()
	raw := []byte(`schema_version: v1
client:
  driver: memory
  config: cluster.config
topic:
  name: orders
  replication_factor: 1
retry:
  attempts: 0
overrides:
  transactional.id: t02
`)
	if err := os.WriteFile(filepath.Join(dir, "plan.yml"), raw, 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	cfg, err := LoadPlan(filepath.Join(dir, "plan.yml"))
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("want schema %s, got %s", SupportedSchema, cfg.SchemaVersion)
	}
	if want := filepath.Join(dir, "cluster.config"); cfg.Client.Config != want {
		t.Fatalf("want client config %q, got %q", want, cfg.Client.Config)
	}
	if cfg.Client.Driver != "memory" || cfg.Topic.Name != "orders" {
		t.Fatalf("unexpected plan: %+v", cfg)
	}
	if cfg.Topic.Partitions != plan.DefaultPartitions || cfg.Records.Count != plan.DefaultRecords {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Retries() != 0 {
		t.Fatalf("explicit zero retries lost, got %d", cfg.Retries())
	}
	if cfg.Overrides["transactional.id"] != "t02" {
		t.Fatalf("overrides not parsed: %v", cfg.Overrides)
	}
}

func TestLoadPlan_Defaults(t *testing.T) {
	cfg, err := LoadPlan("")
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if cfg.Client.Driver != plan.DefaultDriver ||
		cfg.Topic.Name != plan.DefaultTopic ||
		cfg.Topic.ReplicationFactor != plan.DefaultReplicationFactor ||
		cfg.Retries() != plan.DefaultRetries ||
		cfg.Pacing.Mode != plan.DefaultPacing {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadPlan_InvalidSchema(t *testing.T) {
	dir := t.TempDir()
	raw := []byte(`schema_version: v999
client: { driver: sarama, config: cf.properties }
`)
	if err := os.WriteFile(filepath.Join(dir, "plan.yml"), raw, 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	_, err := LoadPlan(filepath.Join(dir, "plan.yml"))
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *config.Error for invalid schema_version, got %v", err)
	}
}

func TestLoadPlan_MissingFile(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "nope.yml"))
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *config.Error, got %v", err)
	}
}

func TestValidatePlan(t *testing.T) {
	base := func() plan.File {
		var f plan.File
		ApplyPlanDefaults(&f)
		return f
	}
	neg := -1
	cases := map[string]func(*plan.File){
		"zero partitions":   func(f *plan.File) { f.Topic.Partitions = 0 },
		"zero rf":           func(f *plan.File) { f.Topic.ReplicationFactor = 0 },
		"negative retries":  func(f *plan.File) { f.Retry.Attempts = &neg },
		"unknown pacing":    func(f *plan.File) { f.Pacing.Mode = "bursty" },
		"interval no value": func(f *plan.File) { f.Pacing.Mode = "interval" },
		"rate no value":     func(f *plan.File) { f.Pacing.Mode = "rate" },
		"sample rate":       func(f *plan.File) { f.Telemetry.TracingSampleRate = 2 },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			f := base()
			mut(&f)
			if err := ValidatePlan(f); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := ValidatePlan(base()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
