package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/srtp-lab/voicelink/pkg/errorsx"
	"github.com/srtp-lab/voicelink/pkg/resilience"
)

// Synthesizer turns text into encoded audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SynthConfig configures the speech synthesis HTTP endpoint.
type SynthConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Voice    string        `mapstructure:"voice"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (c SynthConfig) withDefaults() SynthConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// HTTPSynthesizer posts text and receives the rendered audio body.
type HTTPSynthesizer struct {
	cfg    SynthConfig
	client *http.Client
}

func NewHTTPSynthesizer(cfg SynthConfig) *HTTPSynthesizer {
	cfg = cfg.withDefaults()
	return &HTTPSynthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body := map[string]string{"text": text}
	if s.cfg.Voice != "" {
		body["voice"] = s.cfg.Voice
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errorsx.Wrap(resilience.RateLimitError{
			Provider:   "speech",
			Message:    "synthesis rate limited",
			RetryAfter: resilience.RetryAfterHint(resp.Header.Get("Retry-After")),
		}, errorsx.ReasonSynthesisFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errorsx.Wrap(fmt.Errorf("synthesis status %d: %s", resp.StatusCode, msg), errorsx.ReasonSynthesisFailed)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	if len(audio) == 0 {
		return nil, errorsx.New(errorsx.ReasonSynthesisFailed, "synthesis returned no audio")
	}
	return audio, nil
}
