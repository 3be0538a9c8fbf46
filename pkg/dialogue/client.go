package dialogue

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

// Config configures the dialogue HTTP endpoint.
type Config struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client exchanges one user utterance for one assistant reply.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Respond posts the user's text and returns the assistant's reply.
func (c *Client) Respond(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDialogueFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDialogueFailed)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDialogueFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errorsx.Wrap(resilience.RateLimitError{
			Provider:   "dialogue",
			Message:    "dialogue rate limited",
			RetryAfter: resilience.RetryAfterHint(resp.Header.Get("Retry-After")),
		}, errorsx.ReasonDialogueFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errorsx.Wrap(fmt.Errorf("dialogue status %d: %s", resp.StatusCode, msg), errorsx.ReasonDialogueFailed)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDialogueFailed)
	}
	return out.Response, nil
}
