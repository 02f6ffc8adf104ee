package capture

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pkg/errors"
)

// PreviewSurface is the live preview bound to one capture: a local WebRTC
// sample track for watching the feed, plus the latest decodable frame kept
// for still extraction. Until the first keyframe arrives the surface has
// nothing to extract and samplers must no-op.
type PreviewSurface struct {
	track *webrtc.TrackLocalStaticSample

	mu       sync.RWMutex
	frame    []byte
	mime     string
	frameAt  time.Duration
	hasFrame bool
}

// NewPreviewSurface creates a preview with a fresh local video track.
func NewPreviewSurface(streamID string) (*PreviewSurface, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "preview", streamID)
	if err != nil {
		return nil, errors.Wrap(err, "create preview track")
	}
	return &PreviewSurface{track: track, mime: "image/jpeg"}, nil
}

// WriteSample feeds one live sample into the preview. Keyframes replace the
// retained still-extraction frame; track write failures only degrade the
// live preview and are reported to the caller for logging.
func (p *PreviewSurface) WriteSample(s Sample, duration time.Duration) error {
	if s.Keyframe {
		p.mu.Lock()
		p.frame = s.Data
		p.frameAt = s.Timestamp
		p.hasFrame = true
		p.mu.Unlock()
	}
	if len(s.Data) == 0 {
		return nil
	}
	return p.track.WriteSample(media.Sample{Data: s.Data, Duration: duration})
}

// CurrentFrame returns the latest retained frame and its stream-relative
// timestamp. ok is false until the first keyframe has been decoded.
func (p *PreviewSurface) CurrentFrame() (frame []byte, mime string, at time.Duration, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.hasFrame {
		return nil, "", 0, false
	}
	return p.frame, p.mime, p.frameAt, true
}

// Track exposes the preview track for attachment to a viewer connection.
func (p *PreviewSurface) Track() *webrtc.TrackLocalStaticSample {
	return p.track
}
