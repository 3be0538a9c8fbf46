package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/srtp-lab/voicelink/pkg/capture"
	"github.com/srtp-lab/voicelink/pkg/errorsx"
	"github.com/srtp-lab/voicelink/pkg/resilience"
)

// HTTPConfig configures the multipart transcription endpoint.
type HTTPConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Model == "" {
		c.Model = "whisper-1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// HTTPTranscriber posts audio segments to a speech-to-text HTTP API as
// multipart form data and reads the transcript from the JSON response.
type HTTPTranscriber struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPTranscriber(cfg HTTPConfig) *HTTPTranscriber {
	cfg = cfg.withDefaults()
	return &HTTPTranscriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, seg capture.Segment) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", t.cfg.Model); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}
	fw, err := mw.CreateFormFile("file", "recording.wav")
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}
	if _, err := fw.Write(seg.Bytes); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}
	if err := mw.Close(); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, &body)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errorsx.Wrap(resilience.RateLimitError{
			Provider:   "transcribe",
			Message:    "transcription rate limited",
			RetryAfter: resilience.RetryAfterHint(resp.Header.Get("Retry-After")),
		}, errorsx.ReasonTranscriptionFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errorsx.Wrap(fmt.Errorf("transcription status %d: %s", resp.StatusCode, msg), errorsx.ReasonTranscriptionFailed)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}
	return out.Text, nil
}
