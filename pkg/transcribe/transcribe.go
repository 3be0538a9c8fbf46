package transcribe

import (
	"context"

	"github.com/srtp-lab/voicelink/pkg/capture"
)

// Transcriber converts one captured audio segment into text. An empty
// string with a nil error means the segment contained no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, seg capture.Segment) (string, error)
}
