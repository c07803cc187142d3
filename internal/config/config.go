// Package config provides configuration types and loading for hivemind.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Server, Hooks, Context, Memory, Broadcast,
// Scheduler, Log.
type Config struct {
	Paths     PathsConfig     `json:"paths" yaml:"paths"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Hooks     HooksConfig     `json:"hooks" yaml:"hooks"`
	Context   ContextConfig   `json:"context" yaml:"context"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Broadcast BroadcastConfig `json:"broadcast" yaml:"broadcast"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" yaml:"dataDir" envconfig:"DATA_DIR"`
	// DBPath overrides <DataDir>/hivemind.db.
	DBPath string `json:"dbPath" yaml:"dbPath" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Server – HTTP gateway
// ---------------------------------------------------------------------------

type ServerConfig struct {
	Host         string `json:"host" yaml:"host" envconfig:"HOST"`
	Port         int    `json:"port" yaml:"port" envconfig:"PORT"`
	SSEBuffer    int    `json:"sseBuffer" yaml:"sseBuffer" envconfig:"SSE_BUFFER"`
	MaxBodyBytes int64  `json:"maxBodyBytes" yaml:"maxBodyBytes" envconfig:"MAX_BODY_BYTES"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ---------------------------------------------------------------------------
// Hooks – event ingestion
// ---------------------------------------------------------------------------

type HooksConfig struct {
	ContextTimeout     Duration `json:"contextTimeout" yaml:"contextTimeout" envconfig:"CONTEXT_TIMEOUT"`
	StaleAgentAfter    Duration `json:"staleAgentAfter" yaml:"staleAgentAfter" envconfig:"STALE_AGENT_AFTER"`
	StaleSweepInterval Duration `json:"staleSweepInterval" yaml:"staleSweepInterval" envconfig:"STALE_SWEEP_INTERVAL"`
	AutoEndSession     bool     `json:"autoEndSession" yaml:"autoEndSession" envconfig:"AUTO_END_SESSION"`
	TranscriptSettle   Duration `json:"transcriptSettle" yaml:"transcriptSettle" envconfig:"TRANSCRIPT_SETTLE"`
}

// ---------------------------------------------------------------------------
// Context – injected context limits
// ---------------------------------------------------------------------------

type ContextConfig struct {
	RecentEntries   int `json:"recentEntries" yaml:"recentEntries" envconfig:"RECENT_ENTRIES"`
	RelevantEntries int `json:"relevantEntries" yaml:"relevantEntries" envconfig:"RELEVANT_ENTRIES"`
	AgentHistory    int `json:"agentHistory" yaml:"agentHistory" envconfig:"AGENT_HISTORY"`
	CrossSession    int `json:"crossSession" yaml:"crossSession" envconfig:"CROSS_SESSION"`
	Decisions       int `json:"decisions" yaml:"decisions" envconfig:"DECISIONS"`
	SummaryChars    int `json:"summaryChars" yaml:"summaryChars" envconfig:"SUMMARY_CHARS"`
}

// ---------------------------------------------------------------------------
// Memory – observation store
// ---------------------------------------------------------------------------

type MemoryConfig struct {
	SearchLimit         int                   `json:"searchLimit" yaml:"searchLimit" envconfig:"SEARCH_LIMIT"`
	SearchDays          int                   `json:"searchDays" yaml:"searchDays" envconfig:"SEARCH_DAYS"`
	PromotionMinCluster int                   `json:"promotionMinCluster" yaml:"promotionMinCluster" envconfig:"PROMOTION_MIN_CLUSTER"`
	BackfillInterval    Duration              `json:"backfillInterval" yaml:"backfillInterval" envconfig:"BACKFILL_INTERVAL"`
	BackfillBatch       int                   `json:"backfillBatch" yaml:"backfillBatch" envconfig:"BACKFILL_BATCH"`
	Embedding           MemoryEmbeddingConfig `json:"embedding" yaml:"embedding"`
}

// MemoryEmbeddingConfig selects the OpenAI-compatible embeddings endpoint.
type MemoryEmbeddingConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	Provider  string   `json:"provider" yaml:"provider" envconfig:"PROVIDER"`
	APIKey    string   `json:"apiKey" yaml:"apiKey" envconfig:"API_KEY"`
	APIBase   string   `json:"apiBase" yaml:"apiBase" envconfig:"API_BASE"`
	Model     string   `json:"model" yaml:"model" envconfig:"MODEL"`
	Dimension int      `json:"dimension" yaml:"dimension" envconfig:"DIMENSION"`
	Timeout   Duration `json:"timeout" yaml:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Broadcast – live event fan-out
// ---------------------------------------------------------------------------

type BroadcastConfig struct {
	PingInterval Duration `json:"pingInterval" yaml:"pingInterval" envconfig:"PING_INTERVAL"`
	// KafkaBrokers is a comma-separated list; empty disables the mirror.
	KafkaBrokers string `json:"kafkaBrokers" yaml:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `json:"kafkaTopic" yaml:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
	KafkaBuffer  int    `json:"kafkaBuffer" yaml:"kafkaBuffer" envconfig:"KAFKA_BUFFER"`
}

type SchedulerConfig struct {
	TickInterval Duration `json:"tickInterval" yaml:"tickInterval" envconfig:"TICK_INTERVAL"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" envconfig:"LEVEL"`
	Format string `json:"format" yaml:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.hivemind",
		},
		Server: ServerConfig{
			Host:         "127.0.0.1", // Secure default
			Port:         18795,
			SSEBuffer:    64,
			MaxBodyBytes: 4 << 20,
		},
		Hooks: HooksConfig{
			ContextTimeout:     Duration{4500 * time.Millisecond},
			StaleAgentAfter:    Duration{2 * time.Hour},
			StaleSweepInterval: Duration{10 * time.Minute},
			AutoEndSession:     true,
			TranscriptSettle:   Duration{500 * time.Millisecond},
		},
		Context: ContextConfig{
			RecentEntries:   10,
			RelevantEntries: 20,
			AgentHistory:    5,
			CrossSession:    10,
			Decisions:       10,
			SummaryChars:    1500,
		},
		Memory: MemoryConfig{
			SearchLimit:         20,
			SearchDays:          90,
			PromotionMinCluster: 3,
			BackfillInterval:    Duration{5 * time.Minute},
			BackfillBatch:       50,
			Embedding: MemoryEmbeddingConfig{
				Enabled:   false,
				Provider:  "openai",
				Model:     "text-embedding-3-small",
				Dimension: 1536,
				Timeout:   Duration{30 * time.Second},
			},
		},
		Broadcast: BroadcastConfig{
			PingInterval: Duration{30 * time.Second},
			KafkaTopic:   "hivemind.events",
			KafkaBuffer:  256,
		},
		Scheduler: SchedulerConfig{
			TickInterval: Duration{15 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Duration is a time.Duration that reads "90s"-style strings from JSON,
// YAML and the environment, and plain nanosecond numbers from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		d.Duration = time.Duration(t)
		return nil
	case string:
		return d.Decode(t)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.Decode(node.Value)
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	d.Duration = parsed
	return nil
}
