package app

import (
	"io"

	"txpub/internal/plan"
)

// Options carries the command-line overrides. Zero values leave the plan
// untouched.
type Options struct {
	PlanPath   string
	ConfigPath string
	Driver     string

	Topic             string
	Partitions        int32
	ReplicationFactor int16
	Records           int
	Retries           *int

	TransactionalID string
	// FreshIdentity suffixes the transactional id with a random uuid so the
	// run starts a new producer lineage instead of fencing the previous one.
	FreshIdentity bool

	Interactive bool
	LogLevel    string

	Version string
	Stdin   io.Reader
	Stdout  io.Writer
}

func (o Options) apply(f *plan.File) {
	if o.ConfigPath != "" {
		f.Client.Config = o.ConfigPath
	}
	if o.Driver != "" {
		f.Client.Driver = o.Driver
	}
	if o.Topic != "" {
		f.Topic.Name = o.Topic
	}
	if o.Partitions != 0 {
		f.Topic.Partitions = o.Partitions
	}
	if o.ReplicationFactor != 0 {
		f.Topic.ReplicationFactor = o.ReplicationFactor
	}
	if o.Records != 0 {
		f.Records.Count = o.Records
	}
	if o.Retries != nil {
		r := *o.Retries
		f.Retry.Attempts = &r
	}
	if o.Interactive {
		f.Pacing.Mode = "interactive"
	}
	if o.LogLevel != "" {
		f.Log.Level = o.LogLevel
	}
}
