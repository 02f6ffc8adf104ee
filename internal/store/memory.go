package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"screenreel/internal/session"
)

// MemoryStore is an in-memory Store implementation. It backs unit tests and
// embedded deployments where no MongoDB is available; behavior (idempotent
// upserts, ordering, bounded eviction) matches MongoStore.
type MemoryStore struct {
	mu     sync.RWMutex
	limits Limits
	onEv   EvictionFunc
	seq    uint64

	sessions    map[string]memEntry[session.Session]
	actions     map[string]memEntry[session.ActionEvent]
	screenshots map[string]memEntry[ScreenshotRecord]
	chunks      map[string]memEntry[ChunkRecord]
	uploadJobs  map[string]memEntry[UploadJobRecord]
}

type memEntry[T any] struct {
	rec       T
	createdAt time.Time
	seq       uint64
}

// NewMemoryStore returns an empty in-memory store with the given limits.
func NewMemoryStore(limits Limits, onEviction EvictionFunc) *MemoryStore {
	return &MemoryStore{
		limits:      limits,
		onEv:        onEviction,
		sessions:    make(map[string]memEntry[session.Session]),
		actions:     make(map[string]memEntry[session.ActionEvent]),
		screenshots: make(map[string]memEntry[ScreenshotRecord]),
		chunks:      make(map[string]memEntry[ChunkRecord]),
		uploadJobs:  make(map[string]memEntry[UploadJobRecord]),
	}
}

func putMem[T any](s *MemoryStore, m map[string]memEntry[T], coll, id string, rec T, createdAt time.Time) {
	s.mu.Lock()
	if prev, ok := m[id]; ok {
		// Retried write of the same id keeps its original creation slot.
		m[id] = memEntry[T]{rec: rec, createdAt: prev.createdAt, seq: prev.seq}
		s.mu.Unlock()
		return
	}
	s.seq++
	m[id] = memEntry[T]{rec: rec, createdAt: createdAt, seq: s.seq}
	evicted := pruneMem(s, m, coll)
	s.mu.Unlock()

	if evicted > 0 && s.onEv != nil {
		s.onEv(coll, evicted)
	}
}

// pruneMem deletes the oldest records by creation time until the collection
// is back at its limit. Caller holds s.mu.
func pruneMem[T any](s *MemoryStore, m map[string]memEntry[T], coll string) int64 {
	max := s.limits.forCollection(coll)
	if max <= 0 || int64(len(m)) <= max {
		return 0
	}

	type aged struct {
		id        string
		createdAt time.Time
		seq       uint64
	}
	all := make([]aged, 0, len(m))
	for id, e := range m {
		all = append(all, aged{id: id, createdAt: e.createdAt, seq: e.seq})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].createdAt.Equal(all[j].createdAt) {
			return all[i].seq < all[j].seq
		}
		return all[i].createdAt.Before(all[j].createdAt)
	})

	excess := int64(len(m)) - max
	for i := int64(0); i < excess; i++ {
		delete(m, all[i].id)
	}
	return excess
}

func listMem[T any](s *MemoryStore, m map[string]memEntry[T], keep func(T) bool, less func(a, b T) bool) []T {
	s.mu.RLock()
	out := make([]T, 0, len(m))
	for _, e := range m {
		if keep == nil || keep(e.rec) {
			out = append(out, e.rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// PutSession implements Store.
func (s *MemoryStore) PutSession(_ context.Context, sess *session.Session) error {
	putMem(s, s.sessions, CollSessions, sess.ID, sess.Snapshot(), sess.CreatedAt)
	return nil
}

// GetSession implements Store.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	snap := e.rec.Snapshot()
	return &snap, nil
}

// SessionsByCreation implements Store.
func (s *MemoryStore) SessionsByCreation(_ context.Context) ([]session.Session, error) {
	return listMem(s, s.sessions, nil, func(a, b session.Session) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	}), nil
}

// PutAction implements Store.
func (s *MemoryStore) PutAction(_ context.Context, a *session.ActionEvent) error {
	putMem(s, s.actions, CollActions, a.ID, *a, a.CreatedAt)
	return nil
}

// ActionsBySession implements Store. Actions come back ordered by event
// wall time.
func (s *MemoryStore) ActionsBySession(_ context.Context, sessionID string) ([]session.ActionEvent, error) {
	return listMem(s, s.actions,
		func(a session.ActionEvent) bool { return a.SessionID == sessionID },
		func(a, b session.ActionEvent) bool { return a.WallTime.Before(b.WallTime) },
	), nil
}

// PutScreenshot implements Store.
func (s *MemoryStore) PutScreenshot(_ context.Context, sc *ScreenshotRecord) error {
	putMem(s, s.screenshots, CollScreenshots, sc.ID, *sc, sc.CreatedAt)
	return nil
}

// ScreenshotsBySession implements Store. Screenshots come back ordered by
// capture time.
func (s *MemoryStore) ScreenshotsBySession(_ context.Context, sessionID string) ([]ScreenshotRecord, error) {
	return listMem(s, s.screenshots,
		func(r ScreenshotRecord) bool { return r.SessionID == sessionID },
		func(a, b ScreenshotRecord) bool { return a.CapturedAt.Before(b.CapturedAt) },
	), nil
}

// PutChunk implements Store.
func (s *MemoryStore) PutChunk(_ context.Context, c *ChunkRecord) error {
	putMem(s, s.chunks, CollChunks, c.ID, *c, c.CreatedAt)
	return nil
}

// ChunksBySession implements Store. Chunks come back ordered by capture
// time, which for a single encoder matches timecode order.
func (s *MemoryStore) ChunksBySession(_ context.Context, sessionID string) ([]ChunkRecord, error) {
	return listMem(s, s.chunks,
		func(r ChunkRecord) bool { return r.SessionID == sessionID },
		func(a, b ChunkRecord) bool {
			if a.CapturedAt.Equal(b.CapturedAt) {
				return a.TimecodeMillis < b.TimecodeMillis
			}
			return a.CapturedAt.Before(b.CapturedAt)
		},
	), nil
}

// PutUploadJob implements Store.
func (s *MemoryStore) PutUploadJob(_ context.Context, j *UploadJobRecord) error {
	putMem(s, s.uploadJobs, CollUploadJobs, j.ID, *j, j.CreatedAt)
	return nil
}

// UploadJobsByStatus implements Store.
func (s *MemoryStore) UploadJobsByStatus(_ context.Context, status UploadJobStatus) ([]UploadJobRecord, error) {
	return listMem(s, s.uploadJobs,
		func(r UploadJobRecord) bool { return r.Status == status },
		func(a, b UploadJobRecord) bool { return a.CreatedAt.Before(b.CreatedAt) },
	), nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch collection {
	case CollSessions:
		return int64(len(s.sessions)), nil
	case CollActions:
		return int64(len(s.actions)), nil
	case CollScreenshots:
		return int64(len(s.screenshots)), nil
	case CollChunks:
		return int64(len(s.chunks)), nil
	case CollUploadJobs:
		return int64(len(s.uploadJobs)), nil
	}
	return 0, nil
}
