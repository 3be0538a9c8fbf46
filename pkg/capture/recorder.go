package capture

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/srtp-lab/voicelink/pkg/errorsx"
	"github.com/srtp-lab/voicelink/pkg/metrics"
)

// Config controls the capture loop.
type Config struct {
	SampleRate int              `mapstructure:"sample_rate"`
	FrameSize  int              `mapstructure:"frame_size"`
	RoundMS    int              `mapstructure:"round_ms"`
	Preference []string         `mapstructure:"mime_preference"`
	Logger     *slog.Logger     `mapstructure:"-"`
	Observer   metrics.Observer `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 512
	}
	if c.RoundMS <= 0 {
		c.RoundMS = 2000
	}
	if len(c.Preference) == 0 {
		c.Preference = DefaultPreference
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = metrics.NoopObserver{}
	}
	return c
}

// Recorder captures microphone audio in fixed-length rounds. Each round is
// encoded into a Segment and delivered on Segments. Rounds never overlap:
// round N+1 does not begin until round N's segment is fully encoded and
// handed off. Stopping mid-round discards the partial round.
type Recorder struct {
	cfg     Config
	device  Device
	encoder Encoder

	segments chan Segment

	mu         sync.Mutex
	running    bool
	terminated bool
	cancel     context.CancelFunc
	done       chan struct{}

	levelMu sync.Mutex
	level   int
}

func NewRecorder(device Device, cfg Config) *Recorder {
	return &Recorder{
		cfg:      cfg.withDefaults(),
		device:   device,
		segments: make(chan Segment, 4),
	}
}

// Segments delivers one Segment per completed round.
func (r *Recorder) Segments() <-chan Segment {
	return r.segments
}

// Level reports the most recent input level in the range 0-255.
func (r *Recorder) Level() int {
	r.levelMu.Lock()
	defer r.levelMu.Unlock()
	return r.level
}

// Start negotiates an encoder, acquires the device and begins the round
// loop. It fails with ReasonDeviceUnavailable when the device cannot be
// opened. Starting an already running recorder is a no-op; a recorder
// that terminated abnormally cannot be restarted.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return errorsx.New(errorsx.ReasonCaptureStopped, "recorder terminated after a device failure")
	}
	if r.running {
		return nil
	}

	enc := Negotiate(r.cfg.Preference)
	if err := r.device.Open(r.cfg.SampleRate, r.cfg.FrameSize); err != nil {
		metrics.Failure(r.cfg.Observer, "capture", string(errorsx.ReasonDeviceUnavailable), err)
		return errorsx.Wrap(err, errorsx.ReasonDeviceUnavailable)
	}
	r.encoder = enc
	r.cfg.Logger.Info("capture_started",
		slog.String("mime", enc.MIME()),
		slog.Int("sample_rate", r.cfg.SampleRate),
		slog.Int("round_ms", r.cfg.RoundMS))

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.loop(loopCtx)
	return nil
}

// Stop ends capture and releases the device. A round in progress is
// discarded, never emitted. Stop is idempotent; the device is released
// exactly once.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
	_ = r.device.Close()
	r.setLevel(0)
	r.cfg.Logger.Info("capture_stopped")
}

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.done)

	framesPerRound := r.cfg.RoundMS * r.cfg.SampleRate / 1000 / r.cfg.FrameSize
	if framesPerRound < 1 {
		framesPerRound = 1
	}

	for {
		if ctx.Err() != nil {
			return
		}
		samples, err := r.captureRound(ctx, framesPerRound)
		if err != nil {
			r.abort(err)
			return
		}
		if samples == nil {
			return
		}
		data, err := r.encoder.Encode(samples, r.cfg.SampleRate)
		if err != nil {
			r.abort(err)
			return
		}
		seg := Segment{Bytes: data, MIMEType: r.encoder.MIME(), CapturedAt: time.Now()}
		select {
		case r.segments <- seg:
		case <-ctx.Done():
			return
		}
	}
}

// captureRound reads one full round of frames. Cancellation mid-round
// returns (nil, nil) and the partial round is dropped; a device read
// failure surfaces as an error.
func (r *Recorder) captureRound(ctx context.Context, frames int) ([]float32, error) {
	samples := make([]float32, 0, frames*r.cfg.FrameSize)
	for i := 0; i < frames; i++ {
		if ctx.Err() != nil {
			return nil, nil
		}
		frame, err := r.device.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
		r.setLevel(levelFromRMS(frame))
		samples = append(samples, frame...)
	}
	return samples, nil
}

// abort applies stop semantics after a device or encoder failure: the
// recorder is marked not running, the device is released and the segment
// channel closes so the consumer observes the termination. Stop racing an
// abort still releases the device exactly once.
func (r *Recorder) abort(err error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.terminated = true
	r.mu.Unlock()

	_ = r.device.Close()
	r.setLevel(0)
	close(r.segments)
	r.cfg.Logger.Error("capture_aborted", slog.String("error", err.Error()))
	metrics.Failure(r.cfg.Observer, "capture", string(errorsx.ReasonCaptureStopped), err)
}

func (r *Recorder) setLevel(v int) {
	r.levelMu.Lock()
	r.level = v
	r.levelMu.Unlock()
}

// levelFromRMS maps a frame's RMS amplitude onto 0-255.
func levelFromRMS(frame []float32) int {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	v := int(rms * 4 * 255)
	if v > 255 {
		v = 255
	}
	return v
}
