package capture

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Segment is one encoded chunk pushed out of a ChunkEncoder. Timecodes are
// encoder-assigned and strictly increasing within one recording.
type Segment struct {
	Data           []byte
	TimecodeMillis int64
	Encoding       string
}

// ChunkEncoder is the chunked-encoding capability bound to one capture.
// Write pushes live samples in; Segments pushes encoded chunks out on a
// fixed timeslice. Stop requests the final flush and returns once the
// segment channel has been closed behind the last chunk.
type ChunkEncoder interface {
	// Supports reports whether the encoder accepts the encoding candidate.
	Supports(encoding string) bool
	Start(encoding string, timeslice time.Duration) error
	Write(s Sample) error
	Segments() <-chan Segment
	Pause()
	Resume()
	Stop(ctx context.Context) error
}

// DefaultEncodingCandidates is the ordered probe list for a new capture;
// the first candidate the encoder supports wins.
var DefaultEncodingCandidates = []string{
	"video/webm;codecs=vp9",
	"video/webm;codecs=vp8",
	"video/webm",
	"video/mp4",
}

// probeEncoding returns the first candidate the encoder supports.
func probeEncoding(enc ChunkEncoder, candidates []string) (string, error) {
	for _, c := range candidates {
		if enc.Supports(c) {
			return c, nil
		}
	}
	return "", ErrEncoderUnsupported
}

// SegmentEncoder is the built-in ChunkEncoder: it packages incoming samples
// into segments cut on the configured timeslice of stream time, stamping
// each segment with the stream timestamp of its first sample. It never
// reorders and never emits an empty segment.
type SegmentEncoder struct {
	supported map[string]bool

	mu        sync.Mutex
	started   bool
	stopped   bool
	paused    bool
	encoding  string
	timeslice time.Duration

	buf      []byte
	bufStart time.Duration
	hasStart bool
	lastEmit int64

	out chan Segment
}

// NewSegmentEncoder returns an encoder accepting the given encodings. With
// none given it accepts the default candidate list.
func NewSegmentEncoder(encodings ...string) *SegmentEncoder {
	if len(encodings) == 0 {
		encodings = DefaultEncodingCandidates
	}
	supported := make(map[string]bool, len(encodings))
	for _, e := range encodings {
		supported[e] = true
	}
	return &SegmentEncoder{supported: supported}
}

// Supports implements ChunkEncoder.
func (e *SegmentEncoder) Supports(encoding string) bool {
	return e.supported[encoding]
}

// Start implements ChunkEncoder.
func (e *SegmentEncoder) Start(encoding string, timeslice time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("capture: encoder already started")
	}
	if !e.supported[encoding] {
		return ErrEncoderUnsupported
	}
	if timeslice <= 0 {
		timeslice = time.Second
	}
	e.started = true
	e.encoding = encoding
	e.timeslice = timeslice
	e.lastEmit = -1
	e.out = make(chan Segment, 64)
	return nil
}

// Write implements ChunkEncoder. Samples written while paused are dropped.
func (e *SegmentEncoder) Write(s Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.stopped {
		return errors.New("capture: encoder not running")
	}
	if e.paused || len(s.Data) == 0 {
		return nil
	}

	if !e.hasStart {
		e.bufStart = s.Timestamp
		e.hasStart = true
	}
	e.buf = append(e.buf, s.Data...)

	if s.Timestamp-e.bufStart >= e.timeslice {
		e.flushLocked()
	}
	return nil
}

// flushLocked emits the buffered segment. Caller holds e.mu.
func (e *SegmentEncoder) flushLocked() {
	if len(e.buf) == 0 {
		return
	}
	tc := e.bufStart.Milliseconds()
	if tc <= e.lastEmit {
		tc = e.lastEmit + 1
	}
	e.lastEmit = tc
	e.out <- Segment{Data: e.buf, TimecodeMillis: tc, Encoding: e.encoding}
	e.buf = nil
	e.hasStart = false
}

// Segments implements ChunkEncoder.
func (e *SegmentEncoder) Segments() <-chan Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

// Pause implements ChunkEncoder.
func (e *SegmentEncoder) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume implements ChunkEncoder.
func (e *SegmentEncoder) Resume() {
	e.mu.Lock()
	e.paused = false
	e.hasStart = false
	e.mu.Unlock()
}

// Stop implements ChunkEncoder: flushes the partial tail segment and closes
// the segment channel, which is the final-flush acknowledgment consumers
// wait on.
func (e *SegmentEncoder) Stop(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.stopped {
		return nil
	}
	e.stopped = true
	e.flushLocked()
	close(e.out)
	return nil
}
