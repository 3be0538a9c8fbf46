package voicelink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/srtp-lab/voicelink/pkg/capture"
	"github.com/srtp-lab/voicelink/pkg/channel"
	"github.com/srtp-lab/voicelink/pkg/dialogue"
	"github.com/srtp-lab/voicelink/pkg/identity"
	"github.com/srtp-lab/voicelink/pkg/logging"
	"github.com/srtp-lab/voicelink/pkg/metrics"
	"github.com/srtp-lab/voicelink/pkg/notify"
	"github.com/srtp-lab/voicelink/pkg/pipeline"
	"github.com/srtp-lab/voicelink/pkg/speech"
	"github.com/srtp-lab/voicelink/pkg/transcript"
)

// Engine owns the whole client: identity, the session channel and the
// voice pipeline. Build it with New, then Run.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	observer metrics.Observer

	store        *identity.Store
	session      *channel.Session
	recorder     *capture.Recorder
	orchestrator *pipeline.Orchestrator

	mu      sync.Mutex
	stopped bool
}

// Option adjusts engine construction.
type Option func(*options)

type options struct {
	registry *ProviderRegistry
	device   capture.Device
	sink     speech.Sink
	notices  notify.Sink
}

// WithRegistry replaces the provider registry.
func WithRegistry(r *ProviderRegistry) Option {
	return func(o *options) { o.registry = r }
}

// WithDevice replaces the microphone device.
func WithDevice(d capture.Device) Option {
	return func(o *options) { o.device = d }
}

// WithPlaybackSink replaces the speaker output.
func WithPlaybackSink(s speech.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithNotices replaces the server notice sink.
func WithNotices(s notify.Sink) Option {
	return func(o *options) { o.notices = s }
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	o := options{
		registry: DefaultRegistry(),
		device:   capture.NewPortAudioDevice(),
		sink:     speech.NewBeepSink(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	observer, err := buildObserver(cfg.Metrics, logger)
	if err != nil {
		return nil, err
	}
	if o.notices == nil {
		o.notices = notify.LogSink{Logger: logging.NewComponentLogger(logger, "notices")}
	}

	store, err := identity.NewStore(cfg.Identity.Dir)
	if err != nil {
		return nil, fmt.Errorf("identity store: %w", err)
	}
	clientID, err := store.EnsureClientID()
	if err != nil {
		return nil, fmt.Errorf("identity store: %w", err)
	}

	transcriber, err := o.registry.BuildTranscriber(cfg.Transcriber.Provider, cfg, cfg.Transcriber.Settings)
	if err != nil {
		return nil, err
	}

	captureCfg := cfg.Capture
	captureCfg.Logger = logging.NewComponentLogger(logger, "capture")
	captureCfg.Observer = observer
	recorder := capture.NewRecorder(o.device, captureCfg)

	player := speech.NewPlayer(
		speech.NewHTTPSynthesizer(cfg.Speech),
		o.sink,
		logging.NewComponentLogger(logger, "player"),
		observer,
	)

	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Capturer:    recorder,
		Transcriber: transcriber,
		Responder:   dialogue.NewClient(cfg.Dialogue),
		Speaker:     player,
		History:     transcript.NewHistory(),
		Logger:      logging.NewComponentLogger(logger, "pipeline"),
		Observer:    observer,
	})

	sessionCfg := cfg.SessionConfig()
	sessionCfg.Logger = logging.NewComponentLogger(logger, "channel")
	sessionCfg.Observer = observer
	username := store.Current().Username
	if username == "" {
		username = cfg.Identity.Username
	}
	session := channel.NewSession(sessionCfg, username, clientID, channel.Handler{
		OnInstruction: orchestrator.HandleInstruction,
		Notices:       o.notices,
		OnClosed: func(reason string) {
			logger.Warn("session_ended", slog.String("reason", reason))
			if reason != "manual" {
				o.notices.Notice("system", "connection to the assistant was lost")
			}
		},
	})

	return &Engine{
		cfg:          cfg,
		logger:       logger,
		observer:     observer,
		store:        store,
		session:      session,
		recorder:     recorder,
		orchestrator: orchestrator,
	}, nil
}

func buildObserver(cfg MetricsConfig, logger *slog.Logger) (metrics.Observer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", "noop", "none":
		return metrics.NoopObserver{}, nil
	case "logger":
		return metrics.NewAsyncObserver(metrics.NewLoggerObserver(logger), cfg.Buffer), nil
	case "jsonl":
		dir := cfg.JSONLDir
		if dir == "" {
			dir = "."
		}
		f, err := os.OpenFile(filepath.Join(dir, "voicelink-metrics.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("metrics sink: %w", err)
		}
		return metrics.NewAsyncObserver(metrics.NewJSONLObserver(f), cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("unknown metrics sink: %s", cfg.Sink)
	}
}

// Login registers the username with the server and persists it.
func (e *Engine) Login(ctx context.Context, username string) error {
	registrar := identity.NewRegistrar(e.cfg.Identity.RegisterEndpoint)
	if err := registrar.Register(ctx, username); err != nil {
		return err
	}
	return e.store.SetUsername(username)
}

// Logout wipes the stored identity. Both the username and the client id
// are discarded; the next login mints a fresh client id.
func (e *Engine) Logout() error {
	return e.store.Clear()
}

// ClientID reports the persisted client identifier.
func (e *Engine) ClientID() string {
	return e.session.ClientID()
}

// History exposes the conversation transcript.
func (e *Engine) History() *transcript.History {
	return e.orchestrator.History()
}

// InputLevel reports the current microphone level in the range 0-255,
// for UI feedback.
func (e *Engine) InputLevel() int {
	return e.recorder.Level()
}

// SubmitText runs one typed turn through the dialogue and playback path.
func (e *Engine) SubmitText(text string) {
	e.orchestrator.SubmitText(text)
}

// Run connects the session channel and starts the pipeline, then blocks
// until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.session.Connect(ctx); err != nil {
		return err
	}
	if err := e.orchestrator.Start(ctx); err != nil {
		e.session.Close()
		return err
	}
	e.logger.Info("engine_running", slog.String("client_id", e.session.ClientID()))
	<-ctx.Done()
	e.Stop()
	return nil
}

// Stop tears everything down: capture first so no new segments arrive,
// then pending uploads, then the channel. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.orchestrator.Stop()
	e.session.Close()
	if c, ok := e.observer.(interface{ Close() }); ok {
		c.Close()
	}
	e.logger.Info("engine_stopped")
}
