package capture

import (
	"context"
	"testing"
	"time"
)

func TestProbeEncodingPicksFirstSupported(t *testing.T) {
	enc := NewSegmentEncoder("video/webm", "video/mp4")

	got, err := probeEncoding(enc, []string{"video/webm;codecs=vp9", "video/webm", "video/mp4"})
	if err != nil {
		t.Fatalf("probeEncoding() error: %v", err)
	}
	if got != "video/webm" {
		t.Errorf("probeEncoding() = %s, want video/webm", got)
	}

	if _, err := probeEncoding(enc, []string{"video/ogg"}); err != ErrEncoderUnsupported {
		t.Errorf("probeEncoding() error = %v, want ErrEncoderUnsupported", err)
	}
}

func TestSegmentEncoderCutsOnTimeslice(t *testing.T) {
	enc := NewSegmentEncoder()
	if err := enc.Start("video/webm", 100*time.Millisecond); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	write := func(at time.Duration, data ...byte) {
		t.Helper()
		if err := enc.Write(Sample{Data: data, Timestamp: at}); err != nil {
			t.Fatalf("Write(at=%s) error: %v", at, err)
		}
	}

	write(0, 1)
	write(50*time.Millisecond, 2)
	write(100*time.Millisecond, 3) // crosses the slice, cuts here
	write(150*time.Millisecond, 4)

	if err := enc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	var segments []Segment
	for seg := range enc.Segments() {
		segments = append(segments, seg)
	}
	if len(segments) != 2 {
		t.Fatalf("segment count = %d, want 2", len(segments))
	}
	if len(segments[0].Data) != 3 {
		t.Errorf("first segment carries %d bytes, want 3", len(segments[0].Data))
	}
	if len(segments[1].Data) != 1 {
		t.Errorf("tail segment carries %d bytes, want 1", len(segments[1].Data))
	}
	if segments[0].Encoding != "video/webm" {
		t.Errorf("segment encoding = %s, want video/webm", segments[0].Encoding)
	}
}

func TestSegmentEncoderTimecodesStrictlyIncrease(t *testing.T) {
	enc := NewSegmentEncoder()
	if err := enc.Start("video/webm", 200*time.Microsecond); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Sub-millisecond timeslices collapse to equal millisecond timecodes
	// unless the encoder bumps each emission past the last.
	for i := 0; i < 5; i++ {
		at := time.Duration(i) * 200 * time.Microsecond
		if err := enc.Write(Sample{Data: []byte{byte(i)}, Timestamp: at}); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
		if err := enc.Write(Sample{Data: []byte{byte(i)}, Timestamp: at + 200*time.Microsecond}); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
	}
	if err := enc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	var last int64 = -1
	for seg := range enc.Segments() {
		if seg.TimecodeMillis <= last {
			t.Fatalf("timecode %d not greater than previous %d", seg.TimecodeMillis, last)
		}
		last = seg.TimecodeMillis
	}
}

func TestSegmentEncoderPauseDropsSamples(t *testing.T) {
	enc := NewSegmentEncoder()
	if err := enc.Start("video/webm", 100*time.Millisecond); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := enc.Write(Sample{Data: []byte{1}, Timestamp: 0}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	enc.Pause()
	if err := enc.Write(Sample{Data: []byte{2}, Timestamp: 50 * time.Millisecond}); err != nil {
		t.Fatalf("Write() while paused error: %v", err)
	}
	enc.Resume()
	if err := enc.Write(Sample{Data: []byte{3}, Timestamp: 200 * time.Millisecond}); err != nil {
		t.Fatalf("Write() after resume error: %v", err)
	}
	if err := enc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	var total int
	for seg := range enc.Segments() {
		total += len(seg.Data)
	}
	// The paused sample never lands in any segment.
	if total != 2 {
		t.Errorf("total bytes = %d, want 2", total)
	}
}

func TestSegmentEncoderNeverEmitsEmptySegment(t *testing.T) {
	enc := NewSegmentEncoder()
	if err := enc.Start("video/webm", 10*time.Millisecond); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := enc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	for seg := range enc.Segments() {
		t.Errorf("unexpected segment emitted: %+v", seg)
	}
}

func TestSegmentEncoderStopIsIdempotent(t *testing.T) {
	enc := NewSegmentEncoder()
	if err := enc.Start("video/webm", 10*time.Millisecond); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := enc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := enc.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
}

func TestSegmentEncoderRejectsUnsupportedEncoding(t *testing.T) {
	enc := NewSegmentEncoder("video/webm")
	if err := enc.Start("video/ogg", time.Second); err != ErrEncoderUnsupported {
		t.Fatalf("Start() error = %v, want ErrEncoderUnsupported", err)
	}
}
