package voicelink

import (
	"fmt"
	"strings"

	"github.com/srtp-lab/voicelink/pkg/configutil"
	"github.com/srtp-lab/voicelink/pkg/transcribe"
)

// TranscriberFactory builds a transcriber from the engine config and the
// vendor's free-form settings map.
type TranscriberFactory func(cfg Config, settings map[string]any) (transcribe.Transcriber, error)

// ProviderRegistry maps provider names to transcriber factories.
type ProviderRegistry struct {
	transcribers map[string]TranscriberFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{transcribers: make(map[string]TranscriberFactory)}
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcribers[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildTranscriber(provider string, cfg Config, settings map[string]any) (transcribe.Transcriber, error) {
	fn := r.transcribers[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("transcriber provider not registered: %s", provider)
	}
	return fn(cfg, settings)
}

// DefaultRegistry registers the built-in providers.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterTranscriber("http", buildHTTPTranscriber)
	r.RegisterTranscriber("deepgram", buildDeepgramTranscriber)
	return r
}

func buildHTTPTranscriber(cfg Config, settings map[string]any) (transcribe.Transcriber, error) {
	hc := cfg.TranscriberHTTP()
	if err := configutil.DecodeSettings(settings, &hc); err != nil {
		return nil, fmt.Errorf("transcriber settings: %w", err)
	}
	if err := configutil.RequireString(hc.Endpoint, "transcriber.settings.endpoint"); err != nil {
		return nil, err
	}
	return transcribe.NewHTTPTranscriber(hc), nil
}

func buildDeepgramTranscriber(cfg Config, settings map[string]any) (transcribe.Transcriber, error) {
	if err := configutil.ValidateSettings(settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "sample_rate", "timeout"},
	}); err != nil {
		return nil, fmt.Errorf("transcriber settings: %w", err)
	}
	var dc transcribe.DeepgramConfig
	if err := configutil.DecodeSettings(settings, &dc); err != nil {
		return nil, fmt.Errorf("transcriber settings: %w", err)
	}
	if dc.SampleRate == 0 {
		dc.SampleRate = cfg.Capture.SampleRate
	}
	return transcribe.NewDeepgramTranscriber(dc), nil
}
