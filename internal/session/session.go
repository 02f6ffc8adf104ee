package session

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusConsenting Status = "CONSENTING"
	StatusRecording  Status = "RECORDING"
	StatusPaused     Status = "PAUSED"
	StatusStopping   Status = "STOPPING"
	StatusEnded      Status = "ENDED"
)

// Terminal reports whether a session in this status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusEnded
}

type SourceKind string

const (
	SourceKindTab    SourceKind = "tab"
	SourceKindScreen SourceKind = "screen"
	SourceKindWindow SourceKind = "window"
)

// SelectedSource describes the capture source attached to a session at
// acquisition time. Immutable once attached.
type SelectedSource struct {
	Kind     SourceKind `bson:"kind" json:"kind"`
	StreamID string     `bson:"stream_id" json:"streamId"`
	ChosenAt time.Time  `bson:"chosen_at" json:"chosenAt"`
	TabRef   string     `bson:"tab_ref,omitempty" json:"tabRef,omitempty"`
	Audio    bool       `bson:"audio" json:"audio"`
}

// Session is one bounded recording interval. At most one non-terminal
// session exists at a time; a session becomes immutable once ended.
type Session struct {
	ID        string          `bson:"_id" json:"id"`
	Status    Status          `bson:"status" json:"status"`
	Source    *SelectedSource `bson:"source,omitempty" json:"source,omitempty"`
	StartedAt *time.Time      `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	EndedAt   *time.Time      `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
	Reason    string          `bson:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `bson:"updated_at" json:"updatedAt"`
}

// Snapshot returns a copy safe to hand across component boundaries.
func (s *Session) Snapshot() Session {
	out := *s
	if s.Source != nil {
		src := *s.Source
		out.Source = &src
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}

// ActionEvent is an externally observed user interaction reported into the
// recording core. The ID is caller-assigned and used for deduplication; the
// session id is stamped on ingestion.
type ActionEvent struct {
	ID               string          `bson:"_id" json:"actionId"`
	SessionID        string          `bson:"session_id" json:"sessionId,omitempty"`
	Kind             string          `bson:"kind" json:"type"`
	Target           json.RawMessage `bson:"target,omitempty" json:"target,omitempty"`
	WallTime         time.Time       `bson:"wall_time" json:"wallTime"`
	MonotonicMillis  int64           `bson:"monotonic_ms" json:"monotonicMs"`
	StreamTimeMillis *int64          `bson:"stream_time_ms,omitempty" json:"streamTimeMs,omitempty"`
	PointerX         *int            `bson:"pointer_x,omitempty" json:"pointerX,omitempty"`
	PointerY         *int            `bson:"pointer_y,omitempty" json:"pointerY,omitempty"`
	Key              string          `bson:"key,omitempty" json:"key,omitempty"`
	CreatedAt        time.Time       `bson:"created_at" json:"createdAt"`
}

// StartRequest is the payload of a start command.
type StartRequest struct {
	Kind   SourceKind `json:"type"`
	TabRef string     `json:"tabRef,omitempty"`
	Audio  bool       `json:"audio,omitempty"`
}

// StopRequest is the payload of a stop command.
type StopRequest struct {
	Reason string `json:"reason,omitempty"`
}
