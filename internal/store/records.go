package store

import "time"

// Phase tags a screenshot relative to the action that produced it.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
	PhaseDuring Phase = "during"
)

// ScreenshotID builds the deterministic record id for an (action, phase)
// pair. Upserts under this id make duplicate delivery of the same action
// event harmless.
func ScreenshotID(actionID string, phase Phase) string {
	return actionID + "-" + string(phase)
}

// ScreenshotRecord is a still frame captured around a single action.
// Created exactly once per (action id, phase); immutable.
type ScreenshotRecord struct {
	ID               string    `bson:"_id" json:"id"`
	SessionID        string    `bson:"session_id" json:"sessionId"`
	ActionID         string    `bson:"action_id" json:"actionId"`
	Phase            Phase     `bson:"phase" json:"phase"`
	StreamTimeMillis int64     `bson:"stream_time_ms" json:"streamTimeMs"`
	CapturedAt       time.Time `bson:"captured_at" json:"capturedAt"`
	LatencyMillis    int64     `bson:"latency_ms" json:"latencyMs"`
	MimeType         string    `bson:"mime_type" json:"mimeType"`
	Payload          []byte    `bson:"payload,omitempty" json:"-"`
	PayloadRef       string    `bson:"payload_ref,omitempty" json:"payloadRef,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"createdAt"`
}

// ChunkRecord is one encoded media segment. Chunks are produced in strict
// emission order with monotonically increasing timecodes; zero-byte chunks
// are never recorded.
type ChunkRecord struct {
	ID             string    `bson:"_id" json:"id"`
	SessionID      string    `bson:"session_id" json:"sessionId"`
	TimecodeMillis int64     `bson:"timecode_ms" json:"timecodeMs"`
	CapturedAt     time.Time `bson:"captured_at" json:"capturedAt"`
	Encoding       string    `bson:"encoding" json:"encoding"`
	BitrateKbps    int       `bson:"bitrate_kbps,omitempty" json:"bitrateKbps,omitempty"`
	Payload        []byte    `bson:"payload,omitempty" json:"-"`
	PayloadRef     string    `bson:"payload_ref,omitempty" json:"payloadRef,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
}

// UploadJobStatus enumerates the lifecycle of an upload job.
type UploadJobStatus string

const (
	UploadJobPending   UploadJobStatus = "pending"
	UploadJobUploading UploadJobStatus = "uploading"
	UploadJobFailed    UploadJobStatus = "failed"
	UploadJobDone      UploadJobStatus = "done"
)

// UploadJobRecord tracks the hand-off of exported artifacts to an upload
// coordinator. The coordinator itself is an external collaborator; this core
// only persists the contract.
type UploadJobRecord struct {
	ID           string          `bson:"_id" json:"id"`
	ArtifactRefs []string        `bson:"artifact_refs" json:"artifactRefs"`
	Status       UploadJobStatus `bson:"status" json:"status"`
	RetryCount   int             `bson:"retry_count" json:"retryCount"`
	LastError    string          `bson:"last_error,omitempty" json:"lastError,omitempty"`
	CreatedAt    time.Time       `bson:"created_at" json:"createdAt"`
}
