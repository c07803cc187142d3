package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// isolate points every config lookup at a fresh temporary home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HIVEMIND_HOME", home)
	t.Setenv("HIVEMIND_CONFIG", "")
	t.Setenv("HIVEMIND_ENV_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")
	return home
}

func writeConfig(t *testing.T, home, name, content string) string {
	t.Helper()
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr() != "127.0.0.1:18795" {
		t.Errorf("expected default addr 127.0.0.1:18795, got %s", cfg.Server.Addr())
	}
	if cfg.Hooks.ContextTimeout.Duration != 4500*time.Millisecond {
		t.Errorf("expected context timeout 4.5s, got %v", cfg.Hooks.ContextTimeout)
	}
	if !cfg.Hooks.AutoEndSession {
		t.Error("expected AutoEndSession to be true by default")
	}
	if cfg.Memory.Embedding.Enabled {
		t.Error("expected embeddings disabled by default")
	}
	if cfg.Context.SummaryChars != 1500 {
		t.Errorf("expected summary chars 1500, got %d", cfg.Context.SummaryChars)
	}
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 18795 {
		t.Errorf("expected port 18795, got %d", cfg.Server.Port)
	}
	path, _ := ConfigPath()
	if path != filepath.Join(home, ConfigDir, ConfigFile) {
		t.Errorf("unexpected config path %s", path)
	}
}

func TestLoadFromJSONCFile(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "config.json", `{
		// comments and trailing commas are fine
		"server": {"port": 9999,},
		"hooks": {"contextTimeout": "2s", "autoEndSession": false},
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected default host kept, got %s", cfg.Server.Host)
	}
	if cfg.Hooks.ContextTimeout.Duration != 2*time.Second {
		t.Errorf("expected 2s timeout, got %v", cfg.Hooks.ContextTimeout)
	}
	if cfg.Hooks.AutoEndSession {
		t.Error("expected AutoEndSession false from file")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "config.yaml", `
memory:
  searchLimit: 7
  embedding:
    enabled: true
    model: local-embed
broadcast:
  kafkaBrokers: localhost:9092
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Memory.SearchLimit != 7 || !cfg.Memory.Embedding.Enabled || cfg.Memory.Embedding.Model != "local-embed" {
		t.Errorf("unexpected memory config %+v", cfg.Memory)
	}
	if cfg.Memory.Embedding.Dimension != 1536 {
		t.Errorf("expected default dimension kept, got %d", cfg.Memory.Embedding.Dimension)
	}
	if cfg.Broadcast.KafkaBrokers != "localhost:9092" {
		t.Errorf("expected brokers from yaml, got %q", cfg.Broadcast.KafkaBrokers)
	}
}

func TestLoadIncludesAndEnvSubstitution(t *testing.T) {
	home := isolate(t)
	t.Setenv("TEST_EMBED_KEY", "sk-test")
	writeConfig(t, home, "base.json", `{"server": {"port": 1111, "host": "0.0.0.0"}}`)
	writeConfig(t, home, "config.json", `{
		"$include": "base.json",
		"server": {"port": 2222},
		"memory": {"embedding": {"apiKey": "${TEST_EMBED_KEY}", "apiBase": "${UNSET_HIVEMIND_VAR}"}}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 2222 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected merged server 0.0.0.0:2222, got %s", cfg.Server.Addr())
	}
	if cfg.Memory.Embedding.APIKey != "sk-test" {
		t.Errorf("expected substituted key, got %q", cfg.Memory.Embedding.APIKey)
	}
	if cfg.Memory.Embedding.APIBase != "${UNSET_HIVEMIND_VAR}" {
		t.Errorf("expected unknown variable kept, got %q", cfg.Memory.Embedding.APIBase)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "a.json", `{"$include": "config.json"}`)
	writeConfig(t, home, "config.json", `{"$include": ["a.json"]}`)

	if _, err := Load(); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestEnvOverride(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "config.json", `{"server": {"port": 9999}}`)
	t.Setenv("HIVEMIND_SERVER_HOST", "0.0.0.0")
	t.Setenv("HIVEMIND_SERVER_PORT", "8080")
	t.Setenv("HIVEMIND_HOOKS_STALE_AGENT_AFTER", "30m")
	t.Setenv("HIVEMIND_MEMORY_EMBEDDING_ENABLED", "true")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("expected env to win over file, got %s", cfg.Server.Addr())
	}
	if cfg.Hooks.StaleAgentAfter.Duration != 30*time.Minute {
		t.Errorf("expected 30m stale window, got %v", cfg.Hooks.StaleAgentAfter)
	}
	if !cfg.Memory.Embedding.Enabled || cfg.Memory.Embedding.APIKey != "sk-env" {
		t.Errorf("unexpected embedding config %+v", cfg.Memory.Embedding)
	}
}

func TestEnvOverrideInvalidDuration(t *testing.T) {
	isolate(t)
	t.Setenv("HIVEMIND_SCHEDULER_TICK_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	home := isolate(t)
	cfg := DefaultConfig()
	cfg.Server.Port = 4242
	cfg.Hooks.TranscriptSettle = Duration{time.Second}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ConfigDir, ConfigFile)); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Server.Port != 4242 || loaded.Hooks.TranscriptSettle.Duration != time.Second {
		t.Errorf("unexpected reloaded config %+v %+v", loaded.Server, loaded.Hooks)
	}
}

func TestDatabasePath(t *testing.T) {
	home, _ := os.UserHomeDir()
	cfg := DefaultConfig()
	got, err := cfg.DatabasePath()
	if err != nil {
		t.Fatalf("DatabasePath: %v", err)
	}
	if got != filepath.Join(home, ".hivemind", DBFile) {
		t.Errorf("unexpected default db path %s", got)
	}

	cfg.Paths.DBPath = "/var/lib/hivemind/h.db"
	if got, _ := cfg.DatabasePath(); got != "/var/lib/hivemind/h.db" {
		t.Errorf("expected explicit db path, got %s", got)
	}
}

func TestDurationEncodings(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"1m30s"`), &d); err != nil || d.Duration != 90*time.Second {
		t.Fatalf("json string: %v %v", d, err)
	}
	if err := json.Unmarshal([]byte(`1000000`), &d); err != nil || d.Duration != time.Millisecond {
		t.Fatalf("json number: %v %v", d, err)
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Fatal("expected error for bool duration")
	}

	var hooks HooksConfig
	if err := yaml.Unmarshal([]byte("contextTimeout: 3s\n"), &hooks); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if hooks.ContextTimeout.Duration != 3*time.Second {
		t.Fatalf("expected 3s from yaml, got %v", hooks.ContextTimeout)
	}
	out, _ := json.Marshal(Duration{2 * time.Second})
	if string(out) != `"2s"` {
		t.Fatalf("expected \"2s\", got %s", out)
	}
}
