package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}
	if cfg.Prefix != "." {
		t.Errorf("Prefix: got %q", cfg.Prefix)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PREFIX":           "!",
		"MODE":             "Private",
		"OWNER_NUMBER":     "+234 811 163 7463, 2348087654321,",
		"READ_MESSAGE":     "true",
		"STORE_BACKEND":    "MONGO",
		"ALLOW_QR_PAIRING": "false",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Prefix != "!" || cfg.Mode != ModePrivate || cfg.StoreBackend != BackendMongo {
		t.Errorf("got prefix=%q mode=%q backend=%q", cfg.Prefix, cfg.Mode, cfg.StoreBackend)
	}
	if !cfg.ReadMessages || cfg.AllowQRPairing {
		t.Errorf("booleans: read=%v qr=%v", cfg.ReadMessages, cfg.AllowQRPairing)
	}
	want := []string{"2348111637463", "2348087654321"}
	if len(cfg.OwnerNumbers) != len(want) {
		t.Fatalf("OwnerNumbers: got %v", cfg.OwnerNumbers)
	}
	for i := range want {
		if cfg.OwnerNumbers[i] != want[i] {
			t.Errorf("OwnerNumbers[%d]: got %q, want %q", i, cfg.OwnerNumbers[i], want[i])
		}
	}
}

func TestApplyEnvInvalidBool(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.applyEnv(envMap(map[string]string{"LOG_MESSAGES": "maybe"})); err == nil {
		t.Error("expected error for invalid boolean")
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	input := `
prefix: "#"
bot_name: Gist
owner_numbers:
  - "+234 800 000 0000"
  - " "
status:
  auto_react: true
reconnect:
  max_attempts: 8
  base_delay: 2s
  per_code_delay:
    503: 30s
`
	if err := os.WriteFile(path, []byte(input), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		t.Fatalf("loadFile: %v", err)
	}
	if cfg.Prefix != "#" || cfg.BotName != "Gist" {
		t.Errorf("got prefix=%q bot_name=%q", cfg.Prefix, cfg.BotName)
	}
	if cfg.Reconnect.MaxAttempts != 8 || cfg.Reconnect.BaseDelay != 2*time.Second {
		t.Errorf("reconnect: got %+v", cfg.Reconnect)
	}
	if cfg.Reconnect.PerCodeDelay[503] != 30*time.Second {
		t.Errorf("per_code_delay[503]: got %v", cfg.Reconnect.PerCodeDelay[503])
	}
	if len(cfg.OwnerNumbers) != 1 || cfg.OwnerNumbers[0] != "2348000000000" {
		t.Errorf("owner_numbers: got %q", cfg.OwnerNumbers)
	}
	if !cfg.Status.AutoReact || cfg.Status.AutoSeen || cfg.Status.ReplyText == "" {
		t.Errorf("status: got %+v", cfg.Status)
	}
}

func TestApplyEnvStatus(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"AUTO_STATUS_SEEN":  "true",
		"AUTO_STATUS_REPLY": "1",
		"AUTO_STATUS_MSG":   "nice one",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	want := Status{AutoSeen: true, AutoReply: true, ReplyText: "nice one"}
	if cfg.Status != want {
		t.Errorf("status: got %+v, want %+v", cfg.Status, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty prefix", func(c *Config) { c.Prefix = " " }},
		{"unknown mode", func(c *Config) { c.Mode = "secret" }},
		{"unknown backend", func(c *Config) { c.StoreBackend = "redis" }},
		{"zero attempts", func(c *Config) { c.Reconnect.MaxAttempts = 0 }},
		{"negative delay", func(c *Config) { c.Reconnect.BaseDelay = -time.Second }},
		{"session id without url", func(c *Config) { c.SessionID = "abc" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate: expected error")
			}
		})
	}
}

func TestSanitizeNumber(t *testing.T) {
	t.Parallel()
	if got := SanitizeNumber("+234 (811) 163-7463"); got != "2348111637463" {
		t.Errorf("SanitizeNumber: got %q", got)
	}
}
