package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/srtp-lab/voicelink/pkg/capture"
	"github.com/srtp-lab/voicelink/pkg/errorsx"
	"github.com/srtp-lab/voicelink/pkg/metrics"
	"github.com/srtp-lab/voicelink/pkg/transcribe"
	"github.com/srtp-lab/voicelink/pkg/transcript"
)

// Capturer produces encoded audio segments until stopped.
type Capturer interface {
	Start(ctx context.Context) error
	Stop()
	Segments() <-chan capture.Segment
}

// Responder turns one user utterance into one assistant reply.
type Responder interface {
	Respond(ctx context.Context, text string) (string, error)
}

// Speaker voices assistant output. It refuses overlapping clips.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Capturer    Capturer
	Transcriber transcribe.Transcriber
	Responder   Responder
	Speaker     Speaker
	History     *transcript.History
	Logger      *slog.Logger
	Observer    metrics.Observer
}

func (c Config) withDefaults() Config {
	if c.History == nil {
		c.History = transcript.NewHistory()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = metrics.NoopObserver{}
	}
	return c
}

// Orchestrator runs the conversation loop: captured segments are queued
// for transcription, each transcript becomes a user turn, and each
// dialogue reply is recorded and spoken. A failed turn produces no
// output and the loop moves on.
type Orchestrator struct {
	cfg   Config
	queue *transcribe.UploadQueue

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	ctx     context.Context
}

func NewOrchestrator(cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{cfg: cfg}
	o.queue = transcribe.NewUploadQueue(cfg.Transcriber, o.handleUserText, cfg.Logger, cfg.Observer)
	return o
}

// History exposes the conversation transcript.
func (o *Orchestrator) History() *transcript.History {
	return o.cfg.History
}

// Start begins capture and the segment pump. Starting twice is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	if err := o.cfg.Capturer.Start(loopCtx); err != nil {
		cancel()
		return err
	}
	o.ctx = loopCtx
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true
	go o.pump(loopCtx)
	o.cfg.Logger.Info("pipeline_started")
	return nil
}

// Stop tears the pipeline down: capture stops first so no new segments
// arrive, then queued uploads are abandoned. The session channel is left
// to its owner. Stop is idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	o.cfg.Capturer.Stop()
	cancel()
	<-done
	o.queue.Close()
	o.cfg.Logger.Info("pipeline_stopped")
}

// SubmitText runs one turn from typed input, bypassing capture and
// transcription.
func (o *Orchestrator) SubmitText(text string) {
	o.handleUserText(text)
}

// HandleInstruction speaks server-pushed text. It is dropped when a clip
// is already playing.
func (o *Orchestrator) HandleInstruction(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	ctx := o.speakContext()
	if err := o.cfg.Speaker.Speak(ctx, text); err != nil {
		if errorsx.HasReason(err, errorsx.ReasonPlaybackBusy) {
			o.cfg.Logger.Debug("instruction_dropped_busy")
			return
		}
		o.cfg.Logger.Warn("instruction_speak_failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) pump(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-o.cfg.Capturer.Segments():
			if !ok {
				return
			}
			o.queue.Enqueue(seg)
		}
	}
}

// handleUserText runs one full turn: record the user entry, fetch the
// reply, record it, speak it.
func (o *Orchestrator) handleUserText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	ctx := o.speakContext()

	o.cfg.History.Append(transcript.RoleUser, text)
	o.cfg.Logger.Info("user_turn", slog.String("text", text))

	reply, err := o.cfg.Responder.Respond(ctx, text)
	if err != nil {
		o.cfg.Logger.Warn("dialogue_failed", slog.String("error", err.Error()))
		metrics.Failure(o.cfg.Observer, "pipeline", string(errorsx.ReasonDialogueFailed), err)
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		o.cfg.Logger.Debug("dialogue_empty_reply")
		return
	}

	o.cfg.History.Append(transcript.RoleAssistant, reply)
	o.cfg.Logger.Info("assistant_turn", slog.String("text", reply))

	if err := o.cfg.Speaker.Speak(ctx, reply); err != nil {
		if errorsx.HasReason(err, errorsx.ReasonPlaybackBusy) {
			o.cfg.Logger.Debug("reply_dropped_busy")
			return
		}
		o.cfg.Logger.Warn("reply_speak_failed", slog.String("error", err.Error()))
		metrics.Failure(o.cfg.Observer, "pipeline", string(errorsx.Reason(err)), err)
	}
}

func (o *Orchestrator) speakContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx != nil {
		return o.ctx
	}
	return context.Background()
}
