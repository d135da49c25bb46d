package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("listen addr = %s", cfg.Server.ListenAddr)
	}
	if cfg.Model.Model != DefaultModel || cfg.Model.BaseURL != DefaultModelBaseURL {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Conversation.MaxRounds != 100 || cfg.Conversation.SummaryRounds != 10 {
		t.Errorf("conversation = %+v", cfg.Conversation)
	}
	if cfg.Credit.StartingCredits != 100.0 {
		t.Errorf("starting credits = %v", cfg.Credit.StartingCredits)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adpilot.yaml")
	content := `
server:
  listen_addr: "0.0.0.0:9090"
model:
  model: gpt-4o
  timeout: 30s
conversation:
  max_rounds: 50
  summary_rounds: 5
credit:
  deduct_upfront: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Server.ListenAddr != "0.0.0.0:9090" {
		t.Errorf("listen addr = %s", cfg.Server.ListenAddr)
	}
	if cfg.Model.Model != "gpt-4o" || cfg.Model.Timeout != 30*time.Second {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Conversation.MaxRounds != 50 || cfg.Conversation.SummaryRounds != 5 {
		t.Errorf("conversation = %+v", cfg.Conversation)
	}
	if !cfg.Credit.DeductUpfront {
		t.Error("deduct_upfront not parsed")
	}
	// Fields absent from the file keep their defaults.
	if cfg.Storage.DatabasePath != DefaultDatabasePath {
		t.Errorf("database path = %s", cfg.Storage.DatabasePath)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADPILOT_LISTEN_ADDR", "127.0.0.1:7070")
	t.Setenv("ADPILOT_MODEL", "gpt-4.1")
	t.Setenv("ADPILOT_MODEL_API_KEY", "sk-env")
	t.Setenv("ADPILOT_DB_PATH", "/tmp/override.db")
	t.Setenv("ADPILOT_NATS_URL", "nats://queue:4222")
	t.Setenv("ADPILOT_TRACE_STDOUT", "true")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.ListenAddr != "127.0.0.1:7070" {
		t.Errorf("listen addr = %s", cfg.Server.ListenAddr)
	}
	if cfg.Model.Model != "gpt-4.1" || cfg.Model.APIKey != "sk-env" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Storage.DatabasePath != "/tmp/override.db" {
		t.Errorf("db path = %s", cfg.Storage.DatabasePath)
	}
	if cfg.Bus.URL != "nats://queue:4222" {
		t.Errorf("bus url = %s", cfg.Bus.URL)
	}
	if !cfg.Telemetry.TraceStdout {
		t.Error("trace_stdout not applied")
	}
}

func TestOpenAIKeyFallback(t *testing.T) {
	t.Setenv("ADPILOT_MODEL_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	if cfg.Model.APIKey != "sk-openai" {
		t.Errorf("api key = %s, want OPENAI_API_KEY fallback", cfg.Model.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty addr", func(c *Config) { c.Server.ListenAddr = "" }, true},
		{"empty model", func(c *Config) { c.Model.Model = "" }, true},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, true},
		{"summary >= max rounds", func(c *Config) { c.Conversation.SummaryRounds = 100 }, true},
		{"empty db path", func(c *Config) { c.Storage.DatabasePath = "" }, true},
		{"compression disabled", func(c *Config) { c.Conversation.MaxRounds = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
