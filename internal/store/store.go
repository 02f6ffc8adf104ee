// Package store is the durable side of the recording core: one bounded,
// keyed collection per record kind, upsertable by id and indexed by owning
// session and creation time.
package store

import (
	"context"

	"github.com/pkg/errors"

	"screenreel/internal/session"
)

// Collection names. All but uploadJobs are indexed by session id and
// creation time.
const (
	CollSessions    = "sessions"
	CollActions     = "actions"
	CollScreenshots = "screenshots"
	CollChunks      = "videoChunks"
	CollUploadJobs  = "uploadJobs"
)

// ErrNotFound is returned by point reads when no record has the given id.
var ErrNotFound = errors.New("store: record not found")

// Limits caps each collection's record count. Zero means unbounded.
// After any write that pushes a collection over its limit, the oldest
// records by creation time are evicted until the collection is back at the
// limit. Eviction failure never invalidates the triggering write.
type Limits struct {
	Sessions    int64
	Actions     int64
	Screenshots int64
	Chunks      int64
	UploadJobs  int64
}

// DefaultLimits mirror the retention caps of the recording extension this
// core backs.
func DefaultLimits() Limits {
	return Limits{
		Sessions:    50,
		Actions:     5000,
		Screenshots: 2000,
		Chunks:      5000,
		UploadJobs:  200,
	}
}

func (l Limits) forCollection(name string) int64 {
	switch name {
	case CollSessions:
		return l.Sessions
	case CollActions:
		return l.Actions
	case CollScreenshots:
		return l.Screenshots
	case CollChunks:
		return l.Chunks
	case CollUploadJobs:
		return l.UploadJobs
	}
	return 0
}

// EvictionFunc observes completed evictions, e.g. for metrics.
type EvictionFunc func(collection string, evicted int64)

// Store is the keyed durable storage capability used by the recording core.
// All Put operations are idempotent upserts by primary id. Reads used for
// export return records in their defined order: actions by event wall time,
// screenshots and chunks by capture time.
type Store interface {
	PutSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	SessionsByCreation(ctx context.Context) ([]session.Session, error)

	PutAction(ctx context.Context, a *session.ActionEvent) error
	ActionsBySession(ctx context.Context, sessionID string) ([]session.ActionEvent, error)

	PutScreenshot(ctx context.Context, s *ScreenshotRecord) error
	ScreenshotsBySession(ctx context.Context, sessionID string) ([]ScreenshotRecord, error)

	PutChunk(ctx context.Context, c *ChunkRecord) error
	ChunksBySession(ctx context.Context, sessionID string) ([]ChunkRecord, error)

	PutUploadJob(ctx context.Context, j *UploadJobRecord) error
	UploadJobsByStatus(ctx context.Context, status UploadJobStatus) ([]UploadJobRecord, error)

	// Count returns the number of records currently held by a collection.
	Count(ctx context.Context, collection string) (int64, error)
}
