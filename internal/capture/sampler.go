package capture

import (
	"context"
	"log"
	"sync"
	"time"

	"screenreel/internal/session"
	"screenreel/internal/store"
)

// DefaultSettleDelay is how long an "after" capture waits for the page to
// settle before extracting the frame. "before" captures never wait.
const DefaultSettleDelay = 150 * time.Millisecond

// Sampler extracts before/after stills from the preview surface around
// action events. It deduplicates per (session, action, phase), tolerating
// duplicate delivery from the message bus, and persists through the
// pending-writes set so finalize waits for in-flight captures.
type Sampler struct {
	store       store.Store
	preview     *PreviewSurface
	stills      StillEncoder
	settleAfter time.Duration
	now         func() time.Time
	onShot      func()

	mu   sync.Mutex
	seen map[string]bool // sessionID + "/" + screenshot id
}

// NewSampler builds a sampler over the given preview surface.
func NewSampler(st store.Store, preview *PreviewSurface, stills StillEncoder, settleAfter time.Duration, onShot func()) *Sampler {
	if settleAfter <= 0 {
		settleAfter = DefaultSettleDelay
	}
	return &Sampler{
		store:       st,
		preview:     preview,
		stills:      stills,
		settleAfter: settleAfter,
		now:         time.Now,
		onShot:      onShot,
		seen:        make(map[string]bool),
	}
}

// Sample captures one still for the action and phase. It no-ops when the
// action id has already been sampled for this phase or the preview has not
// decoded a frame yet. Blocking (settle delay, persistence) happens inline;
// callers run before/after phases concurrently.
func (s *Sampler) Sample(ctx context.Context, ev session.ActionEvent, phase store.Phase) {
	shotID := store.ScreenshotID(ev.ID, phase)

	s.mu.Lock()
	key := ev.SessionID + "/" + shotID
	if s.seen[key] {
		s.mu.Unlock()
		return
	}
	s.seen[key] = true
	s.mu.Unlock()

	if phase == store.PhaseAfter {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.settleAfter):
		}
	}

	frame, mime, at, ok := s.preview.CurrentFrame()
	if !ok {
		// No decoded frame yet; release the claim so a later delivery can
		// still produce the artifact.
		s.mu.Lock()
		delete(s.seen, key)
		s.mu.Unlock()
		return
	}

	data, outMime, err := s.stills.EncodeStill(ctx, frame, mime)
	if err != nil {
		log.Printf("Sampler: encode %s still for action %s failed: %v", phase, ev.ID, err)
		s.mu.Lock()
		delete(s.seen, key)
		s.mu.Unlock()
		return
	}

	capturedAt := s.now()
	rec := &store.ScreenshotRecord{
		ID:               shotID,
		SessionID:        ev.SessionID,
		ActionID:         ev.ID,
		Phase:            phase,
		StreamTimeMillis: at.Milliseconds(),
		CapturedAt:       capturedAt,
		LatencyMillis:    capturedAt.Sub(ev.WallTime).Milliseconds(),
		MimeType:         outMime,
		Payload:          data,
		CreatedAt:        capturedAt,
	}
	if err := s.store.PutScreenshot(ctx, rec); err != nil {
		// High-volume artifact: log and drop, never abort the session.
		log.Printf("Sampler: persist %s screenshot for action %s failed: %v", phase, ev.ID, err)
		return
	}
	if s.onShot != nil {
		s.onShot()
	}
}

// PassthroughStillEncoder stores the retained frame bytes as-is. It serves
// captures whose keyframes are already self-contained images and every
// test; production wiring can swap in the ffmpeg-backed encoder.
type PassthroughStillEncoder struct{}

// EncodeStill implements StillEncoder.
func (PassthroughStillEncoder) EncodeStill(_ context.Context, frame []byte, mime string) ([]byte, string, error) {
	return frame, mime, nil
}
