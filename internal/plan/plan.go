// Package plan holds the run plan: which broker to talk to, which topic to
// provision and how the publish run behaves.
package plan

type Topic struct {
	Name              string `yaml:"name"`
	Partitions        int32  `yaml:"partitions"`
	ReplicationFactor int16  `yaml:"replication_factor"`
}

type Pacing struct {
	Mode       string `yaml:"mode"` // none|interactive|interval|rate
	IntervalMS int    `yaml:"interval_ms"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

type Telemetry struct {
	MetricsPort       int     `yaml:"metrics_port"` // 0 = disabled
	GRPCPort          int     `yaml:"grpc_port"`    // 0 = disabled
	TracingEndpoint   string  `yaml:"tracing_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Client struct {
		Config string `yaml:"config"`
		Driver string `yaml:"driver"` // sarama|memory
	} `yaml:"client"`

	Topic Topic `yaml:"topic"`

	Records struct {
		Count int `yaml:"count"`
	} `yaml:"records"`

	// Attempts is the number of retries after the first attempt; nil means
	// the default, 0 disables retrying.
	Retry struct {
		Attempts *int `yaml:"attempts"`
	} `yaml:"retry"`

	Pacing Pacing `yaml:"pacing"`

	// Merged over the client properties before the session is created.
	Overrides map[string]string `yaml:"overrides"`

	Telemetry Telemetry `yaml:"telemetry"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// Retries resolves Retry.Attempts against its default.
func (f File) Retries() int {
	if f.Retry.Attempts == nil {
		return DefaultRetries
	}
	return *f.Retry.Attempts
}

const (
	DefaultDriver            = "sarama"
	DefaultTopic             = "transaction-topic"
	DefaultPartitions        = 1
	DefaultReplicationFactor = 3
	DefaultRecords           = 10
	DefaultRetries           = 1
	DefaultPacing            = "none"
)
