package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"screenreel/internal/session"
)

func TestScreenshotID(t *testing.T) {
	tests := []struct {
		actionID string
		phase    Phase
		want     string
	}{
		{"act-1", PhaseBefore, "act-1-before"},
		{"act-1", PhaseAfter, "act-1-after"},
		{"act-2", PhaseDuring, "act-2-during"},
	}
	for _, tt := range tests {
		if got := ScreenshotID(tt.actionID, tt.phase); got != tt.want {
			t.Errorf("ScreenshotID(%s, %s) = %s, want %s", tt.actionID, tt.phase, got, tt.want)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewMemoryStore(DefaultLimits(), nil)
	ctx := context.Background()

	now := time.Now()
	sess := &session.Session{ID: "s1", Status: session.StatusRecording, CreatedAt: now, UpdatedAt: now}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession() error: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if got.ID != "s1" || got.Status != session.StatusRecording {
		t.Errorf("got %s/%s, want s1/%s", got.ID, got.Status, session.StatusRecording)
	}

	if _, err := s.GetSession(ctx, "missing"); err != ErrNotFound {
		t.Errorf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := NewMemoryStore(DefaultLimits(), nil)
	ctx := context.Background()

	base := time.Now()
	sess := &session.Session{ID: "s1", Status: session.StatusRecording, CreatedAt: base}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession() error: %v", err)
	}

	// Retried write of the same id must not duplicate the record.
	sess.Status = session.StatusEnded
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatalf("retried PutSession() error: %v", err)
	}

	n, err := s.Count(ctx, CollSessions)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 1 {
		t.Errorf("session count = %d, want 1", n)
	}
	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if got.Status != session.StatusEnded {
		t.Errorf("status = %s, want %s (upsert replaces)", got.Status, session.StatusEnded)
	}
}

func TestEvictionRemovesExactlyOldest(t *testing.T) {
	limits := DefaultLimits()
	limits.Chunks = 3
	var evictedColl string
	var evictedN int64
	s := NewMemoryStore(limits, func(coll string, n int64) {
		evictedColl = coll
		evictedN = n
	})
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 4; i++ {
		c := &ChunkRecord{
			ID:             fmt.Sprintf("c%d", i),
			SessionID:      "s1",
			TimecodeMillis: int64(i * 1000),
			Payload:        []byte{byte(i)},
			CapturedAt:     base.Add(time.Duration(i) * time.Second),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := s.PutChunk(ctx, c); err != nil {
			t.Fatalf("PutChunk(c%d) error: %v", i, err)
		}
	}

	chunks, err := s.ChunksBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ChunksBySession() error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	// The oldest chunk (c0) is the one evicted; newer records survive.
	for _, c := range chunks {
		if c.ID == "c0" {
			t.Error("oldest chunk survived eviction")
		}
	}
	if evictedColl != CollChunks || evictedN != 1 {
		t.Errorf("eviction observer got (%s, %d), want (%s, 1)", evictedColl, evictedN, CollChunks)
	}
}

func TestEvictionTieBreaksByInsertionOrder(t *testing.T) {
	limits := DefaultLimits()
	limits.Screenshots = 2
	s := NewMemoryStore(limits, nil)
	ctx := context.Background()

	// Identical creation time: insertion order decides which is oldest.
	at := time.Now()
	for i := 0; i < 3; i++ {
		rec := &ScreenshotRecord{
			ID:        fmt.Sprintf("shot%d", i),
			SessionID: "s1",
			Phase:     PhaseBefore,
			CreatedAt: at,
		}
		if err := s.PutScreenshot(ctx, rec); err != nil {
			t.Fatalf("PutScreenshot(shot%d) error: %v", i, err)
		}
	}

	shots, err := s.ScreenshotsBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ScreenshotsBySession() error: %v", err)
	}
	if len(shots) != 2 {
		t.Fatalf("screenshot count = %d, want 2", len(shots))
	}
	for _, rec := range shots {
		if rec.ID == "shot0" {
			t.Error("first-inserted record survived tie-break eviction")
		}
	}
}

func TestRetriedWriteKeepsCreationSlot(t *testing.T) {
	limits := DefaultLimits()
	limits.Chunks = 2
	s := NewMemoryStore(limits, nil)
	ctx := context.Background()

	base := time.Now()
	put := func(id string, at time.Time) {
		t.Helper()
		if err := s.PutChunk(ctx, &ChunkRecord{ID: id, SessionID: "s1", CapturedAt: at, CreatedAt: at}); err != nil {
			t.Fatalf("PutChunk(%s) error: %v", id, err)
		}
	}

	put("a", base)
	put("b", base.Add(time.Second))
	// Rewriting "a" does not make it newest: its original creation slot
	// holds, so the next overflow still evicts it.
	put("a", base.Add(time.Minute))
	put("c", base.Add(2*time.Second))

	chunks, err := s.ChunksBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ChunksBySession() error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(chunks))
	}
	for _, c := range chunks {
		if c.ID == "a" {
			t.Error("rewritten record kept its refreshed slot instead of the original")
		}
	}
}

func TestActionsOrderedByWallTime(t *testing.T) {
	s := NewMemoryStore(DefaultLimits(), nil)
	ctx := context.Background()

	base := time.Now()
	// Insert out of order.
	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"a3", 3 * time.Second},
		{"a1", 1 * time.Second},
		{"a2", 2 * time.Second},
	} {
		ev := &session.ActionEvent{
			ID:        tc.id,
			SessionID: "s1",
			Kind:      "click",
			WallTime:  base.Add(tc.offset),
			CreatedAt: base,
		}
		if err := s.PutAction(ctx, ev); err != nil {
			t.Fatalf("PutAction(%s) error: %v", tc.id, err)
		}
	}

	actions, err := s.ActionsBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ActionsBySession() error: %v", err)
	}
	want := []string{"a1", "a2", "a3"}
	if len(actions) != len(want) {
		t.Fatalf("action count = %d, want %d", len(actions), len(want))
	}
	for i, id := range want {
		if actions[i].ID != id {
			t.Errorf("actions[%d] = %s, want %s", i, actions[i].ID, id)
		}
	}
}

func TestChunksOrderedByCaptureTimeThenTimecode(t *testing.T) {
	s := NewMemoryStore(DefaultLimits(), nil)
	ctx := context.Background()

	at := time.Now()
	for _, tc := range []struct {
		id string
		tc int64
	}{
		{"c2", 2000},
		{"c0", 0},
		{"c1", 1000},
	} {
		if err := s.PutChunk(ctx, &ChunkRecord{ID: tc.id, SessionID: "s1", TimecodeMillis: tc.tc, CapturedAt: at, CreatedAt: at}); err != nil {
			t.Fatalf("PutChunk(%s) error: %v", tc.id, err)
		}
	}

	chunks, err := s.ChunksBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ChunksBySession() error: %v", err)
	}
	var last int64 = -1
	for _, c := range chunks {
		if c.TimecodeMillis <= last {
			t.Fatalf("timecodes not strictly increasing: %d after %d", c.TimecodeMillis, last)
		}
		last = c.TimecodeMillis
	}
}

func TestListsFilterBySession(t *testing.T) {
	s := NewMemoryStore(DefaultLimits(), nil)
	ctx := context.Background()

	at := time.Now()
	for i, sid := range []string{"s1", "s2", "s1"} {
		rec := &ScreenshotRecord{ID: fmt.Sprintf("shot%d", i), SessionID: sid, Phase: PhaseAfter, CapturedAt: at, CreatedAt: at}
		if err := s.PutScreenshot(ctx, rec); err != nil {
			t.Fatalf("PutScreenshot() error: %v", err)
		}
	}

	shots, err := s.ScreenshotsBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ScreenshotsBySession() error: %v", err)
	}
	if len(shots) != 2 {
		t.Errorf("s1 screenshots = %d, want 2", len(shots))
	}
}

func TestUploadJobsByStatus(t *testing.T) {
	s := NewMemoryStore(DefaultLimits(), nil)
	ctx := context.Background()

	now := time.Now()
	jobs := []*UploadJobRecord{
		{ID: "j1", Status: UploadJobPending, CreatedAt: now},
		{ID: "j2", Status: UploadJobDone, CreatedAt: now.Add(time.Second)},
		{ID: "j3", Status: UploadJobPending, CreatedAt: now.Add(2 * time.Second)},
	}
	for _, j := range jobs {
		if err := s.PutUploadJob(ctx, j); err != nil {
			t.Fatalf("PutUploadJob(%s) error: %v", j.ID, err)
		}
	}

	pending, err := s.UploadJobsByStatus(ctx, UploadJobPending)
	if err != nil {
		t.Fatalf("UploadJobsByStatus() error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending jobs = %d, want 2", len(pending))
	}
	if pending[0].ID != "j1" || pending[1].ID != "j3" {
		t.Errorf("pending order = [%s %s], want [j1 j3]", pending[0].ID, pending[1].ID)
	}
}
