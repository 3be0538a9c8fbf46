package speech

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"

	"github.com/srtp-lab/voicelink/pkg/errorsx"
	"github.com/srtp-lab/voicelink/pkg/metrics"
	"github.com/srtp-lab/voicelink/pkg/resilience"
)

// Sink plays one encoded audio clip to completion.
type Sink interface {
	Play(audio []byte) error
}

// BeepSink plays MP3 audio through the system speaker. The speaker is
// re-initialized whenever a clip's sample rate differs from the current
// one, so mixed-rate clips keep their pitch.
type BeepSink struct {
	mu   sync.Mutex
	rate beep.SampleRate
	init func(rate beep.SampleRate) error
}

func NewBeepSink() *BeepSink {
	return &BeepSink{init: func(rate beep.SampleRate) error {
		return speaker.Init(rate, rate.N(time.Second/10))
	}}
}

func (s *BeepSink) Play(audio []byte) error {
	streamer, format, err := mp3.Decode(nopReadCloser{bytes.NewReader(audio)})
	if err != nil {
		return err
	}
	defer streamer.Close()

	if err := s.ensureSpeaker(format.SampleRate); err != nil {
		return err
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}

func (s *BeepSink) ensureSpeaker(rate beep.SampleRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate == s.rate {
		return nil
	}
	if err := s.init(rate); err != nil {
		return err
	}
	s.rate = rate
	return nil
}

type nopReadCloser struct {
	io.Reader
}

func (nopReadCloser) Close() error { return nil }

// Player speaks assistant replies one at a time. A Speak call arriving
// while another clip is synthesizing or playing is rejected with
// ReasonPlaybackBusy and the new text is dropped, not queued.
type Player struct {
	synth    Synthesizer
	sink     Sink
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
	observer metrics.Observer

	busy atomic.Bool
}

func NewPlayer(synth Synthesizer, sink Sink, logger *slog.Logger, observer metrics.Observer) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Player{
		synth:    synth,
		sink:     sink,
		breaker:  resilience.NewCircuitBreaker("synthesis", 3, 30*time.Second),
		logger:   logger,
		observer: observer,
	}
}

// Speaking reports whether a clip is currently being synthesized or
// played.
func (p *Player) Speaking() bool {
	return p.busy.Load()
}

// Speak synthesizes and plays text, blocking until playback completes.
// Any failure leaves the player idle again.
func (p *Player) Speak(ctx context.Context, text string) error {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug("speak_rejected_busy")
		metrics.Failure(p.observer, "player", string(errorsx.ReasonPlaybackBusy), nil)
		return errorsx.New(errorsx.ReasonPlaybackBusy, "playback already in progress")
	}
	defer p.busy.Store(false)

	if err := p.breaker.Allow(); err != nil {
		metrics.Failure(p.observer, "player", string(errorsx.ReasonSynthesisFailed), err)
		return errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}

	audio, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		p.breaker.OnError(err)
		metrics.Failure(p.observer, "player", string(errorsx.ReasonSynthesisFailed), err)
		return errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	p.breaker.OnSuccess()

	if err := p.sink.Play(audio); err != nil {
		metrics.Failure(p.observer, "player", string(errorsx.ReasonSynthesisFailed), err)
		return errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	return nil
}
