// Package capture owns the live side of a recording session: the stream,
// the chunked encoder, and the preview surface. Nothing outside this package
// touches those resources; the recorder host mediates everything over the
// message bus.
package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"screenreel/internal/session"
)

// Capture errors. These surface across the bus as protocol error codes, not
// as transport failures.
var (
	ErrCaptureUnavailable   = errors.New("capture: capture source unavailable")
	ErrAcquisitionCancelled = errors.New("capture: source selection cancelled")
	ErrStreamEnded          = errors.New("capture: stream ended")
	ErrEncoderUnsupported   = errors.New("capture: no supported encoding candidate")
)

// Sample is one unit of live media pushed out of a capture stream.
type Sample struct {
	Data []byte
	// Timestamp is stream-relative: measured along the captured media's own
	// timeline, starting at zero.
	Timestamp time.Duration
	// Keyframe marks samples that decode standalone; the preview surface
	// keeps the latest one for still extraction.
	Keyframe bool
}

// CaptureStream is a live stream handle. Samples() closes when the source
// ends, whether through Close or external revocation; Err reports why.
type CaptureStream interface {
	ID() string
	Samples() <-chan Sample
	Err() error
	Close() error
}

// StreamProvider acquires a live stream for a selected source. It is the
// platform capability behind "request a new stream handle": browser tab
// capture in the original surface, an RTMP ingest here.
type StreamProvider interface {
	Acquire(ctx context.Context, req session.StreamRequest) (CaptureStream, error)
}

// StillEncoder turns a raw preview frame into a storable image.
type StillEncoder interface {
	EncodeStill(ctx context.Context, frame []byte, mime string) (data []byte, outMime string, err error)
}
