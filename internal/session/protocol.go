package session

// Protocol error codes carried inside command results. Capture and
// acquisition failures cross context boundaries as data, not as panics or
// transport errors.
const (
	ErrCodeCaptureUnavailable   = "capture-unavailable"
	ErrCodeAcquisitionCancelled = "acquisition-cancelled"
	ErrCodeStreamEnded          = "stream-ended"
	ErrCodeEncoderUnsupported   = "encoder-unsupported"
	ErrCodePersistenceFailure   = "persistence-failure"
	ErrCodeExportFailure        = "export-failure"
)

// StartCommand instructs the recorder host to acquire capture resources and
// begin recording under the given session id.
type StartCommand struct {
	SessionID string         `json:"sessionId"`
	Source    SelectedSource `json:"source"`
}

// StopCommand instructs the recorder host to finalize the active session.
type StopCommand struct {
	Reason string `json:"reason,omitempty"`
}

// CommandResult is the host's reply to start/stop/pause/status commands:
// either a session snapshot or a protocol error code.
type CommandResult struct {
	Session *Session `json:"session,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// StreamRequest asks the source broker for a live stream handle matching
// one of the requested source kinds.
type StreamRequest struct {
	Kinds  []SourceKind `json:"sources"`
	TabRef string       `json:"tabRef,omitempty"`
	Audio  bool         `json:"audio,omitempty"`
}

// StreamResponse answers a StreamRequest.
type StreamResponse struct {
	StreamID string `json:"streamId,omitempty"`
	Error    string `json:"error,omitempty"`
}
