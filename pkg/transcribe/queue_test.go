package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srtp-lab/voicelink/pkg/capture"
)

// scriptedTranscriber returns canned results per call and tracks that no
// two calls overlap.
type scriptedTranscriber struct {
	mu       sync.Mutex
	results  []string
	errs     []error
	call     int
	inFlight int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, seg capture.Segment) (string, error) {
	if atomic.AddInt32(&s.inFlight, 1) > 1 {
		s.overlap.Store(true)
	}
	defer atomic.AddInt32(&s.inFlight, -1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	i := s.call
	s.call++
	s.mu.Unlock()
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return "", nil
}

type resultSink struct {
	mu    sync.Mutex
	texts []string
}

func (r *resultSink) add(text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
}

func (r *resultSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestUploadQueueDeliversInOrder(t *testing.T) {
	tr := &scriptedTranscriber{
		results: []string{"one", "two", "three"},
		delay:   10 * time.Millisecond,
	}
	sink := &resultSink{}
	q := NewUploadQueue(tr, sink.add, nil, nil)
	defer q.Close()

	for i := 0; i < 3; i++ {
		q.Enqueue(capture.Segment{Bytes: []byte{byte(i)}})
	}
	waitFor(t, func() bool { return len(sink.snapshot()) == 3 })

	got := sink.snapshot()
	want := []string{"one", "two", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if tr.overlap.Load() {
		t.Fatal("two uploads ran concurrently")
	}
}

func TestUploadQueueDropsFailedSegmentAndContinues(t *testing.T) {
	tr := &scriptedTranscriber{
		results: []string{"a", "", "c"},
		errs:    []error{nil, errors.New("status 500"), nil},
	}
	sink := &resultSink{}
	q := NewUploadQueue(tr, sink.add, nil, nil)
	defer q.Close()

	for i := 0; i < 3; i++ {
		q.Enqueue(capture.Segment{Bytes: []byte(fmt.Sprintf("seg%d", i))})
	}
	waitFor(t, func() bool { return len(sink.snapshot()) == 2 })

	got := sink.snapshot()
	if got[0] != "a" || got[1] != "c" {
		t.Fatalf("results = %v, want [a c]", got)
	}
}

func TestUploadQueueSkipsEmptyTranscripts(t *testing.T) {
	tr := &scriptedTranscriber{results: []string{"  ", "spoken"}}
	sink := &resultSink{}
	q := NewUploadQueue(tr, sink.add, nil, nil)
	defer q.Close()

	q.Enqueue(capture.Segment{})
	q.Enqueue(capture.Segment{})
	waitFor(t, func() bool { return len(sink.snapshot()) == 1 })

	if got := sink.snapshot(); got[0] != "spoken" {
		t.Fatalf("results = %v, want [spoken]", got)
	}
}

func TestUploadQueueCloseAbandonsPending(t *testing.T) {
	tr := &scriptedTranscriber{
		results: []string{"a", "b", "c", "d"},
		delay:   50 * time.Millisecond,
	}
	sink := &resultSink{}
	q := NewUploadQueue(tr, sink.add, nil, nil)

	for i := 0; i < 4; i++ {
		q.Enqueue(capture.Segment{})
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()

	if n := len(sink.snapshot()); n > 1 {
		t.Fatalf("%d results after close, want at most 1", n)
	}
	q.Enqueue(capture.Segment{})
	if q.Pending() != 0 {
		t.Fatal("segment accepted after close")
	}
}
