package capture

import "time"

// Segment is one fixed-duration unit of captured audio, encoded and ready
// for upload. Immutable once produced; ownership passes to the consumer.
type Segment struct {
	Bytes      []byte
	MIMEType   string
	CapturedAt time.Time
}
