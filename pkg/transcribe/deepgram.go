package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/srtp-lab/voicelink/pkg/capture"
	"github.com/srtp-lab/voicelink/pkg/errorsx"
	"github.com/srtp-lab/voicelink/pkg/logging"
)

// DeepgramConfig configures the Deepgram live-transcription vendor.
type DeepgramConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Language   string        `mapstructure:"language"`
	SampleRate int           `mapstructure:"sample_rate"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (c DeepgramConfig) withDefaults() DeepgramConfig {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	return c
}

// DeepgramTranscriber transcribes a segment over Deepgram's websocket.
// Each Transcribe call opens a connection, streams the full segment and
// waits for the final transcript.
type DeepgramTranscriber struct {
	cfg    DeepgramConfig
	logger *slog.Logger
}

func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_transcriber"),
	}
}

func (t *DeepgramTranscriber) Transcribe(ctx context.Context, seg capture.Segment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		SampleRate:  t.cfg.SampleRate,
		SmartFormat: true,
	}

	cb := &segmentCallback{
		logger: t.logger,
		done:   make(chan struct{}),
	}

	dgClient, err := client.NewWSUsingCallback(ctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}
	if connected := dgClient.Connect(); !connected {
		return "", errorsx.New(errorsx.ReasonTranscriptionFailed, "deepgram connection failed")
	}
	defer dgClient.Stop()

	pr, pw := io.Pipe()
	go func() {
		if err := dgClient.Stream(pr); err != nil && ctx.Err() == nil {
			t.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		}
	}()
	if _, err := io.Copy(pw, bytes.NewReader(seg.Bytes)); err != nil {
		_ = pw.Close()
		return "", errorsx.Wrap(err, errorsx.ReasonTranscriptionFailed)
	}
	_ = pw.Close()

	select {
	case <-cb.done:
		return strings.TrimSpace(cb.transcript.String()), nil
	case <-ctx.Done():
		if s := strings.TrimSpace(cb.transcript.String()); s != "" {
			return s, nil
		}
		return "", errorsx.Wrap(ctx.Err(), errorsx.ReasonTranscriptionFailed)
	}
}

// segmentCallback concatenates final transcripts and signals done when the
// connection closes.
type segmentCallback struct {
	logger     *slog.Logger
	transcript strings.Builder
	done       chan struct{}
	closed     bool
}

func (c *segmentCallback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *segmentCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	if mr.IsFinal || mr.SpeechFinal {
		if c.transcript.Len() > 0 {
			c.transcript.WriteByte(' ')
		}
		c.transcript.WriteString(transcript)
	}
	return nil
}

func (c *segmentCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Debug("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *segmentCallback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *segmentCallback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *segmentCallback) Close(cr *msginterfaces.CloseResponse) error {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *segmentCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *segmentCallback) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event", slog.String("data", fmt.Sprintf("%.128s", byData)))
	return nil
}
