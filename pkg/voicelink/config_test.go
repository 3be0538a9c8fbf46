package voicelink

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://voice.example.com
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.RoundMS != 2000 {
		t.Fatalf("round_ms = %d, want 2000", cfg.Capture.RoundMS)
	}
	if cfg.Channel.Heartbeat != 25*time.Second {
		t.Fatalf("heartbeat = %v, want 25s", cfg.Channel.Heartbeat)
	}
	if cfg.Channel.ReconnectBase != 2*time.Second || cfg.Channel.ReconnectLimit != 5 {
		t.Fatalf("reconnect = %v / %d", cfg.Channel.ReconnectBase, cfg.Channel.ReconnectLimit)
	}
	if cfg.Transcriber.Provider != "http" {
		t.Fatalf("provider = %q", cfg.Transcriber.Provider)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("log = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadConfigDerivesEndpoints(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://voice.example.com
  token: tok
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dialogue.Endpoint != "https://voice.example.com/api/dialogue" {
		t.Fatalf("dialogue endpoint = %q", cfg.Dialogue.Endpoint)
	}
	if cfg.Speech.Endpoint != "https://voice.example.com/api/tts" {
		t.Fatalf("speech endpoint = %q", cfg.Speech.Endpoint)
	}
	if cfg.Channel.Endpoint != "wss://voice.example.com/ws" {
		t.Fatalf("channel endpoint = %q", cfg.Channel.Endpoint)
	}
	if cfg.Identity.RegisterEndpoint != "https://voice.example.com/api/register" {
		t.Fatalf("register endpoint = %q", cfg.Identity.RegisterEndpoint)
	}
	if cfg.Dialogue.Token != "tok" || cfg.Speech.Token != "tok" {
		t.Fatalf("token not propagated: %q / %q", cfg.Dialogue.Token, cfg.Speech.Token)
	}
}

func TestLoadConfigExplicitEndpointsWin(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://voice.example.com
dialogue:
  endpoint: https://other.example.com/chat
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dialogue.Endpoint != "https://other.example.com/chat" {
		t.Fatalf("dialogue endpoint = %q", cfg.Dialogue.Endpoint)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("VL_TEST_KEY", "sk-123")
	path := writeConfig(t, `
server:
  base_url: https://voice.example.com
transcriber:
  provider: deepgram
  settings:
    api_key: ${VL_TEST_KEY}
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Transcriber.Settings["api_key"]; got != "sk-123" {
		t.Fatalf("api_key = %v, want expanded env value", got)
	}
}

func TestLoadConfigRejectsMissingEndpoints(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error without endpoints")
	}
}

func TestBuildDeepgramTranscriberValidatesSettings(t *testing.T) {
	_, err := buildDeepgramTranscriber(Config{}, map[string]any{"model": "nova-2"})
	if err == nil {
		t.Fatal("expected error for missing api_key")
	}
	tr, err := buildDeepgramTranscriber(Config{}, map[string]any{"api_key": "sk", "model": "nova-2"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tr == nil {
		t.Fatal("nil transcriber")
	}
}

func TestDefaultRegistryProviders(t *testing.T) {
	r := DefaultRegistry()
	if _, err := r.BuildTranscriber("nope", Config{}, nil); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
	cfg := Config{Server: ServerConfig{BaseURL: "https://voice.example.com"}}
	tr, err := r.BuildTranscriber("HTTP", cfg, nil)
	if err != nil {
		t.Fatalf("build http: %v", err)
	}
	if tr == nil {
		t.Fatal("nil transcriber")
	}
}
