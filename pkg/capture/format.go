package capture

import (
	"sort"
	"strings"
	"sync"
)

// Encoder turns raw PCM samples into a container format suitable for
// upload. Encoders register themselves by MIME type; Negotiate picks the
// first preferred type that has a registered encoder.
type Encoder interface {
	MIME() string
	Encode(samples []float32, sampleRate int) ([]byte, error)
}

// FallbackMIME is the platform default used when nothing in the
// preference list is supported.
const FallbackMIME = "audio/wav"

// DefaultPreference mirrors the usual capture preference order. Only the
// entries with a registered encoder are actually usable; the rest are
// probed and skipped.
var DefaultPreference = []string{
	"audio/ogg;codecs=opus",
	"audio/ogg",
	"audio/mp4",
	"audio/wav",
}

var (
	encMu    sync.RWMutex
	encoders = map[string]Encoder{}
)

// RegisterEncoder makes an encoder available for negotiation. Later
// registrations for the same MIME type win.
func RegisterEncoder(e Encoder) {
	encMu.Lock()
	encoders[normalizeMIME(e.MIME())] = e
	encMu.Unlock()
}

// Supported reports whether an encoder is registered for the MIME type.
func Supported(mime string) bool {
	encMu.RLock()
	defer encMu.RUnlock()
	_, ok := encoders[normalizeMIME(mime)]
	return ok
}

// SupportedMIMEs lists the registered MIME types, sorted.
func SupportedMIMEs() []string {
	encMu.RLock()
	defer encMu.RUnlock()
	out := make([]string, 0, len(encoders))
	for k := range encoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Negotiate probes the preference list in order and returns the first
// supported encoder. With no usable preference it falls back to the
// platform default (WAV), which is always registered.
func Negotiate(preferred []string) Encoder {
	encMu.RLock()
	defer encMu.RUnlock()
	for _, want := range preferred {
		if e, ok := encoders[normalizeMIME(want)]; ok {
			return e
		}
	}
	return encoders[FallbackMIME]
}

func normalizeMIME(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

func init() {
	RegisterEncoder(wavEncoder{})
	RegisterEncoder(pcmEncoder{})
}
