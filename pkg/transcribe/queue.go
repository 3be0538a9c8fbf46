package transcribe

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/srtp-lab/voicelink/pkg/capture"
	"github.com/srtp-lab/voicelink/pkg/errorsx"
	"github.com/srtp-lab/voicelink/pkg/metrics"
)

// ResultFunc receives transcripts in the order their segments were
// enqueued.
type ResultFunc func(text string)

// UploadQueue serializes segment uploads. Segments are transcribed
// strictly FIFO with at most one request in flight; a failed upload is
// dropped and reported, and the queue moves on to the next segment.
type UploadQueue struct {
	transcriber Transcriber
	onResult    ResultFunc
	logger      *slog.Logger
	observer    metrics.Observer

	mu       sync.Mutex
	pending  []capture.Segment
	draining bool
	closed   bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewUploadQueue(transcriber Transcriber, onResult ResultFunc, logger *slog.Logger, observer metrics.Observer) *UploadQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UploadQueue{
		transcriber: transcriber,
		onResult:    onResult,
		logger:      logger,
		observer:    observer,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue adds a segment without blocking the caller. The drain goroutine
// is started lazily and exits once the queue is empty.
func (q *UploadQueue) Enqueue(seg capture.Segment) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, seg)
	if !q.draining {
		q.draining = true
		q.wg.Add(1)
		go q.drain()
	}
}

// Pending reports the number of segments waiting, excluding any upload in
// flight.
func (q *UploadQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close abandons queued segments and cancels any upload in flight. The
// queue accepts nothing afterwards.
func (q *UploadQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *UploadQueue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.closed {
			q.draining = false
			q.mu.Unlock()
			return
		}
		seg := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.process(seg)
	}
}

func (q *UploadQueue) process(seg capture.Segment) {
	text, err := q.transcriber.Transcribe(q.ctx, seg)
	if err != nil {
		q.logger.Warn("transcription_failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		metrics.Failure(q.observer, "upload_queue", string(errorsx.ReasonTranscriptionFailed), err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		q.logger.Debug("transcription_empty")
		return
	}
	if q.onResult != nil {
		q.onResult(text)
	}
}
