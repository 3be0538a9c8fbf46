package voicelink

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/srtp-lab/voicelink/pkg/capture"
	"github.com/srtp-lab/voicelink/pkg/channel"
	"github.com/srtp-lab/voicelink/pkg/dialogue"
	"github.com/srtp-lab/voicelink/pkg/resilience"
	"github.com/srtp-lab/voicelink/pkg/speech"
	"github.com/srtp-lab/voicelink/pkg/transcribe"
)

// Config is the full engine configuration.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Capture     capture.Config     `mapstructure:"capture"`
	Transcriber VendorConfig       `mapstructure:"transcriber"`
	Dialogue    dialogue.Config    `mapstructure:"dialogue"`
	Speech      speech.SynthConfig `mapstructure:"speech"`
	Channel     ChannelConfig      `mapstructure:"channel"`
	Identity    IdentityConfig     `mapstructure:"identity"`
	Environment string             `mapstructure:"environment"`
	LogLevel    string             `mapstructure:"log_level"`
	LogFormat   string             `mapstructure:"log_format"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig holds the shared API origin and auth token applied to any
// vendor endpoint left blank.
type ServerConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// VendorConfig selects a transcription provider and carries its settings.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ChannelConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	ReconnectBase  time.Duration `mapstructure:"reconnect_base"`
	ReconnectLimit int           `mapstructure:"reconnect_limit"`
}

type IdentityConfig struct {
	Dir              string `mapstructure:"dir"`
	Username         string `mapstructure:"username"`
	RegisterEndpoint string `mapstructure:"register_endpoint"`
}

type MetricsConfig struct {
	Sink     string `mapstructure:"sink"`
	JSONLDir string `mapstructure:"jsonl_dir"`
	Buffer   int    `mapstructure:"buffer"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.token", "")
	v.SetDefault("capture.sample_rate", 16000)
	v.SetDefault("capture.frame_size", 512)
	v.SetDefault("capture.round_ms", 2000)
	v.SetDefault("transcriber.provider", "http")
	v.SetDefault("dialogue.timeout", "30s")
	v.SetDefault("speech.timeout", "30s")
	v.SetDefault("channel.heartbeat", "25s")
	v.SetDefault("channel.reconnect_base", "2s")
	v.SetDefault("channel.reconnect_limit", 5)
	v.SetDefault("identity.dir", "")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics.sink", "logger")
	v.SetDefault("metrics.buffer", 256)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)
	cfg.applyServerDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyServerDefaults derives per-service endpoints from the shared base
// URL when they were not set explicitly.
func (c *Config) applyServerDefaults() {
	base := strings.TrimRight(c.Server.BaseURL, "/")
	if base == "" {
		return
	}
	if c.Dialogue.Endpoint == "" {
		c.Dialogue.Endpoint = base + "/api/dialogue"
	}
	if c.Speech.Endpoint == "" {
		c.Speech.Endpoint = base + "/api/tts"
	}
	if c.Channel.Endpoint == "" {
		c.Channel.Endpoint = wsURL(base) + "/ws"
	}
	if c.Identity.RegisterEndpoint == "" {
		c.Identity.RegisterEndpoint = base + "/api/register"
	}
	if c.Server.Token != "" {
		if c.Dialogue.Token == "" {
			c.Dialogue.Token = c.Server.Token
		}
		if c.Speech.Token == "" {
			c.Speech.Token = c.Server.Token
		}
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transcriber.Provider) == "" {
		return fmt.Errorf("transcriber.provider is required")
	}
	if strings.TrimSpace(c.Dialogue.Endpoint) == "" {
		return fmt.Errorf("dialogue.endpoint is required")
	}
	if strings.TrimSpace(c.Speech.Endpoint) == "" {
		return fmt.Errorf("speech.endpoint is required")
	}
	if strings.TrimSpace(c.Channel.Endpoint) == "" {
		return fmt.Errorf("channel.endpoint is required")
	}
	return nil
}

// TranscriberHTTP derives the HTTP transcriber defaults when its endpoint
// was not set in the vendor settings.
func (c *Config) TranscriberHTTP() transcribe.HTTPConfig {
	out := transcribe.HTTPConfig{Token: c.Server.Token}
	if base := strings.TrimRight(c.Server.BaseURL, "/"); base != "" {
		out.Endpoint = base + "/api/transcribe"
	}
	return out
}

// SessionConfig maps the channel section onto the session config.
func (c *Config) SessionConfig() channel.Config {
	return channel.Config{
		Endpoint:  c.Channel.Endpoint,
		Heartbeat: c.Channel.Heartbeat,
		Backoff:   resilience.NewBackoff(c.Channel.ReconnectBase, c.Channel.ReconnectLimit),
	}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Transcriber.Settings = expandSettings(cfg.Transcriber.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
