package capture

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"screenreel/internal/store"
)

// Chunker drains a ChunkEncoder's segment channel and persists every
// non-empty segment as a chunk record, in strict emission order. Encoder
// trouble never crosses this boundary as an error; it shows up as the
// finalize path timing out waiting for the flush.
type Chunker struct {
	store   store.Store
	now     func() time.Time
	onChunk func()
}

// NewChunker persists chunks into st. onChunk, if non-nil, observes each
// persisted chunk (metrics).
func NewChunker(st store.Store, onChunk func()) *Chunker {
	return &Chunker{store: st, now: time.Now, onChunk: onChunk}
}

// Run consumes segments until the channel closes, then closes the returned
// channel as the drain acknowledgment. Each write is tracked in pending so
// finalize can await it.
func (c *Chunker) Run(ctx context.Context, sessionID string, segments <-chan Segment, pending *pendingWrites) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for seg := range segments {
			if len(seg.Data) == 0 {
				continue
			}
			c.persist(ctx, sessionID, seg, pending)
		}
	}()
	return done
}

func (c *Chunker) persist(ctx context.Context, sessionID string, seg Segment, pending *pendingWrites) {
	pending.add()
	defer pending.done()

	now := c.now()
	rec := &store.ChunkRecord{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		TimecodeMillis: seg.TimecodeMillis,
		CapturedAt:     now,
		Encoding:       seg.Encoding,
		Payload:        seg.Data,
		CreatedAt:      now,
	}
	if err := c.store.PutChunk(ctx, rec); err != nil {
		// High-volume artifact: log and drop, never abort the session.
		log.Printf("Chunker: persist chunk tc=%d for session %s failed: %v",
			seg.TimecodeMillis, sessionID, err)
		return
	}
	if c.onChunk != nil {
		c.onChunk()
	}
}
