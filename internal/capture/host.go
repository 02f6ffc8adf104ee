package capture

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"screenreel/internal/bus"
	"screenreel/internal/session"
	"screenreel/internal/store"
)

// Exporter bundles a finished session's records into an archive. The
// recorder host triggers it at the end of a successful stop sequence.
type Exporter interface {
	Export(ctx context.Context, sessionID string) error
}

// Config tunes the recorder host.
type Config struct {
	// Timeslice is the fixed chunk duration handed to the encoder.
	Timeslice time.Duration
	// EncodingCandidates is the ordered probe list; first supported wins.
	EncodingCandidates []string
	// SettleAfter is the delay before an "after" screenshot extraction.
	SettleAfter time.Duration
	// FinalizeTimeout bounds the wait for the encoder's final flush during
	// stop. An encoder that never acknowledges would otherwise hang the
	// whole finalize path.
	FinalizeTimeout time.Duration
	// SessionWriteRetries is how many times a failed write of the critical
	// session record is retried before giving up.
	SessionWriteRetries int
}

// DefaultConfig returns the host defaults.
func DefaultConfig() Config {
	return Config{
		Timeslice:           time.Second,
		EncodingCandidates:  DefaultEncodingCandidates,
		SettleAfter:         DefaultSettleDelay,
		FinalizeTimeout:     15 * time.Second,
		SessionWriteRetries: 3,
	}
}

const sampleDuration = time.Second / 30

type activeCapture struct {
	session *session.Session
	stream  CaptureStream
	encoder ChunkEncoder
	preview *PreviewSurface
	sampler *Sampler
	pending *pendingWrites

	chunkerDone <-chan struct{}
	fanoutDone  chan struct{}
}

// RecorderHost is the sole owner of live capture resources. It outlives the
// session coordinator's lifecycle churn; anything the coordinator needs to
// know it answers over the bus. At most one capture is live at a time,
// enforced by mandatory teardown before any new acquisition.
type RecorderHost struct {
	bus        *bus.Bus
	store      store.Store
	streams    StreamProvider
	newEncoder func() ChunkEncoder
	stills     StillEncoder
	exporter   Exporter
	chunker    *Chunker
	cfg        Config
	now        func() time.Time
	onShot     func()

	onStart func()
	onEnd   func()

	mu       sync.Mutex
	active   *activeCapture
	last     *session.Session
	stopping bool
}

// NewRecorderHost wires a host onto the bus behind a ready gate and
// announces readiness once registration completes.
func NewRecorderHost(b *bus.Bus, st store.Store, streams StreamProvider, newEncoder func() ChunkEncoder, stills StillEncoder, exporter Exporter, cfg Config) *RecorderHost {
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = time.Second
	}
	if len(cfg.EncodingCandidates) == 0 {
		cfg.EncodingCandidates = DefaultEncodingCandidates
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 15 * time.Second
	}
	if cfg.SessionWriteRetries <= 0 {
		cfg.SessionWriteRetries = 3
	}

	h := &RecorderHost{
		bus:        b,
		store:      st,
		streams:    streams,
		newEncoder: newEncoder,
		stills:     stills,
		exporter:   exporter,
		chunker:    NewChunker(st, nil),
		cfg:        cfg,
		now:        time.Now,
	}
	b.Register(session.EndpointRecorder, h.handle, bus.WithReadyGate())
	h.announceReady(context.Background())
	return h
}

// SetArtifactObservers attaches metrics hooks for persisted chunks and
// screenshots.
func (h *RecorderHost) SetArtifactObservers(onChunk, onShot func()) {
	h.chunker = NewChunker(h.store, onChunk)
	h.onShot = onShot
}

// SetSessionObservers attaches metrics hooks for session lifecycle edges.
// onStart fires when a capture goes live, onEnd when it is released.
func (h *RecorderHost) SetSessionObservers(onStart, onEnd func()) {
	h.onStart = onStart
	h.onEnd = onEnd
}

// announceReady opens the ready gate and emits host-ready. Called at
// initialization and after every (re)acquisition.
func (h *RecorderHost) announceReady(ctx context.Context) {
	h.bus.SetReady(ctx, session.EndpointRecorder)
	if err := h.bus.Send(ctx, session.EndpointCoordinator, bus.Message{Kind: bus.KindHostReady}); err != nil {
		log.Printf("RecorderHost: announce ready failed: %v", err)
	}
}

// AcquireAndStart tears down any existing capture, acquires a stream for
// the selected source, probes encoding candidates, starts chunked encoding
// and returns the recording session snapshot. Failures come back as
// protocol error codes.
func (h *RecorderHost) AcquireAndStart(ctx context.Context, cmd session.StartCommand) (*session.Session, string) {
	h.bus.SetUnready(session.EndpointRecorder)
	defer h.announceReady(ctx)

	h.mu.Lock()
	if h.active != nil {
		// Two concurrent captures must never coexist.
		ac := h.active
		h.active = nil
		h.mu.Unlock()
		h.teardown(ctx, ac, "superseded")
	} else {
		h.mu.Unlock()
	}

	if h.streams == nil {
		return nil, session.ErrCodeCaptureUnavailable
	}

	stream, err := h.streams.Acquire(ctx, session.StreamRequest{
		Kinds:  []session.SourceKind{cmd.Source.Kind},
		TabRef: cmd.Source.TabRef,
		Audio:  cmd.Source.Audio,
	})
	if err != nil {
		log.Printf("RecorderHost: acquire stream failed: %v", err)
		switch {
		case errors.Is(err, ErrAcquisitionCancelled):
			return nil, session.ErrCodeAcquisitionCancelled
		default:
			return nil, session.ErrCodeCaptureUnavailable
		}
	}

	preview, err := NewPreviewSurface(stream.ID())
	if err != nil {
		log.Printf("RecorderHost: bind preview failed: %v", err)
		_ = stream.Close()
		return nil, session.ErrCodeCaptureUnavailable
	}

	encoder := h.newEncoder()
	encoding, err := probeEncoding(encoder, h.cfg.EncodingCandidates)
	if err != nil {
		_ = stream.Close()
		return nil, session.ErrCodeEncoderUnsupported
	}
	if err := encoder.Start(encoding, h.cfg.Timeslice); err != nil {
		log.Printf("RecorderHost: start encoder failed: %v", err)
		_ = stream.Close()
		return nil, session.ErrCodeEncoderUnsupported
	}

	now := h.now()
	source := cmd.Source
	source.StreamID = stream.ID()
	sess := &session.Session{
		ID:        cmd.SessionID,
		Status:    session.StatusRecording,
		Source:    &source,
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.persistSession(ctx, sess); err != nil {
		log.Printf("RecorderHost: persist session %s failed: %v", sess.ID, err)
		_ = encoder.Stop(ctx)
		_ = stream.Close()
		return nil, session.ErrCodePersistenceFailure
	}

	pending := newPendingWrites()
	ac := &activeCapture{
		session:     sess,
		stream:      stream,
		encoder:     encoder,
		preview:     preview,
		sampler:     NewSampler(h.store, preview, h.stills, h.cfg.SettleAfter, h.onShot),
		pending:     pending,
		chunkerDone: h.chunker.Run(context.Background(), sess.ID, encoder.Segments(), pending),
		fanoutDone:  make(chan struct{}),
	}

	h.mu.Lock()
	h.active = ac
	h.stopping = false
	h.mu.Unlock()

	go h.fanout(ac)

	if h.onStart != nil {
		h.onStart()
	}
	log.Printf("RecorderHost: recording session %s from %s stream %s (encoding %s)",
		sess.ID, source.Kind, stream.ID(), encoding)
	snap := sess.Snapshot()
	return &snap, ""
}

// fanout feeds live samples into the preview surface and the encoder. A
// closed sample channel without a local stop in progress means the source
// was revoked externally, which finalizes the session autonomously.
func (h *RecorderHost) fanout(ac *activeCapture) {
	defer close(ac.fanoutDone)
	for s := range ac.stream.Samples() {
		if err := ac.preview.WriteSample(s, sampleDuration); err != nil {
			log.Printf("RecorderHost: preview write failed: %v", err)
		}
		if err := ac.encoder.Write(s); err != nil {
			log.Printf("RecorderHost: encoder write failed: %v", err)
		}
	}

	h.mu.Lock()
	external := h.active == ac && !h.stopping
	h.mu.Unlock()
	if external {
		log.Printf("RecorderHost: stream for session %s ended externally", ac.session.ID)
		go func() {
			ctx := context.Background()
			snap, err := h.StopAndFinalize(ctx, "source-ended")
			if err != nil {
				log.Printf("RecorderHost: finalize after source end failed: %v", err)
			}
			// Nobody asked for this stop, so nobody is waiting on a reply;
			// push the final snapshot to the coordinator instead.
			h.notifyEnded(ctx, snap)
		}()
	}
}

// StopAndFinalize stops the encoder, awaits its final flush, drains all
// pending persistence writes, marks the session ended and triggers the
// archive export. Re-entrant calls while a stop is in progress are no-ops
// returning the current snapshot. The returned error reports export
// trouble only; the stop itself has already completed.
func (h *RecorderHost) StopAndFinalize(ctx context.Context, reason string) (*session.Session, error) {
	h.mu.Lock()
	if h.active == nil || h.stopping {
		snap := h.statusLocked()
		h.mu.Unlock()
		return snap, nil
	}
	h.stopping = true
	ac := h.active
	h.mu.Unlock()

	stopping := h.mutateSession(ac, func(s *session.Session) {
		s.Status = session.StatusStopping
		s.UpdatedAt = h.now()
	})
	if err := h.store.PutSession(ctx, &stopping); err != nil {
		log.Printf("RecorderHost: persist stopping status failed: %v", err)
	}

	h.releaseCapture(ctx, ac)

	now := h.now()
	snap := h.mutateSession(ac, func(s *session.Session) {
		s.Status = session.StatusEnded
		s.EndedAt = &now
		s.Reason = reason
		s.UpdatedAt = now
	})
	if err := h.persistSession(ctx, &snap); err != nil {
		log.Printf("RecorderHost: persist final session record failed: %v", err)
	}

	h.mu.Lock()
	h.last = &snap
	h.active = nil
	h.stopping = false
	h.mu.Unlock()

	if h.onEnd != nil {
		h.onEnd()
	}
	log.Printf("RecorderHost: session %s ended (%s)", snap.ID, reason)

	var exportErr error
	if h.exporter != nil {
		if exportErr = h.exporter.Export(ctx, snap.ID); exportErr != nil {
			// The stop transition stands; export trouble is reported, not
			// rolled back.
			log.Printf("RecorderHost: export of session %s failed: %v", snap.ID, exportErr)
		}
	}
	out := snap.Snapshot()
	return &out, exportErr
}

// notifyEnded pushes a finalize the host performed on its own to the
// coordinator, so projections and attached surfaces learn about it without
// polling.
func (h *RecorderHost) notifyEnded(ctx context.Context, snap *session.Session) {
	msg, err := bus.NewMessage(bus.KindStatusUpdate, session.CommandResult{Session: snap})
	if err != nil {
		log.Printf("RecorderHost: encode ended notification failed: %v", err)
		return
	}
	if err := h.bus.Send(ctx, session.EndpointCoordinator, msg); err != nil {
		log.Printf("RecorderHost: notify coordinator of ended session failed: %v", err)
	}
}

// releaseCapture stops the encoder (bounded by FinalizeTimeout), waits for
// chunk drainage, stops the stream and awaits every pending write.
func (h *RecorderHost) releaseCapture(ctx context.Context, ac *activeCapture) {
	flushCtx, cancel := context.WithTimeout(ctx, h.cfg.FinalizeTimeout)
	defer cancel()

	if err := ac.encoder.Stop(flushCtx); err != nil {
		log.Printf("RecorderHost: encoder stop failed: %v", err)
	}
	select {
	case <-ac.chunkerDone:
	case <-flushCtx.Done():
		log.Printf("RecorderHost: gave up waiting for encoder flush after %s", h.cfg.FinalizeTimeout)
	}

	if err := ac.stream.Close(); err != nil {
		log.Printf("RecorderHost: close stream failed: %v", err)
	}
	select {
	case <-ac.fanoutDone:
	case <-flushCtx.Done():
	}

	ac.pending.wait()
}

// teardown releases a capture superseded by a new acquisition and records
// its session as ended.
func (h *RecorderHost) teardown(ctx context.Context, ac *activeCapture, reason string) {
	h.releaseCapture(ctx, ac)

	now := h.now()
	snap := h.mutateSession(ac, func(s *session.Session) {
		s.Status = session.StatusEnded
		s.EndedAt = &now
		s.Reason = reason
		s.UpdatedAt = now
	})
	if err := h.persistSession(ctx, &snap); err != nil {
		log.Printf("RecorderHost: persist superseded session failed: %v", err)
	}
	h.mu.Lock()
	h.last = &snap
	h.mu.Unlock()

	if h.onEnd != nil {
		h.onEnd()
	}
}

// mutateSession applies fn to the capture's session under the host lock and
// returns the resulting snapshot.
func (h *RecorderHost) mutateSession(ac *activeCapture, fn func(*session.Session)) session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(ac.session)
	return ac.session.Snapshot()
}

// Pause suspends chunk emission and action sampling.
func (h *RecorderHost) Pause(ctx context.Context) *session.Session {
	h.mu.Lock()
	ac := h.active
	recording := ac != nil && ac.session.Status == session.StatusRecording
	h.mu.Unlock()
	if !recording {
		return h.Status()
	}

	ac.encoder.Pause()
	snap := h.mutateSession(ac, func(s *session.Session) {
		s.Status = session.StatusPaused
		s.UpdatedAt = h.now()
	})
	if err := h.store.PutSession(ctx, &snap); err != nil {
		log.Printf("RecorderHost: persist paused status failed: %v", err)
	}
	return &snap
}

// Resume continues a paused session.
func (h *RecorderHost) Resume(ctx context.Context) *session.Session {
	h.mu.Lock()
	ac := h.active
	paused := ac != nil && ac.session.Status == session.StatusPaused
	h.mu.Unlock()
	if !paused {
		return h.Status()
	}

	ac.encoder.Resume()
	snap := h.mutateSession(ac, func(s *session.Session) {
		s.Status = session.StatusRecording
		s.UpdatedAt = h.now()
	})
	if err := h.store.PutSession(ctx, &snap); err != nil {
		log.Printf("RecorderHost: persist resumed status failed: %v", err)
	}
	return &snap
}

// Status is the authoritative answer to whether capture is active.
func (h *RecorderHost) Status() *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

func (h *RecorderHost) statusLocked() *session.Session {
	if h.active != nil {
		snap := h.active.session.Snapshot()
		return &snap
	}
	if h.last != nil {
		snap := h.last.Snapshot()
		return &snap
	}
	return &session.Session{Status: session.StatusIdle}
}

// HandleAction persists the action event and captures its before/after
// screenshot pair. Events arriving while not recording are dropped.
func (h *RecorderHost) HandleAction(ctx context.Context, ev session.ActionEvent) {
	h.mu.Lock()
	ac := h.active
	if ac == nil || ac.session.Status != session.StatusRecording || h.stopping {
		h.mu.Unlock()
		return
	}
	if ev.SessionID == "" {
		ev.SessionID = ac.session.ID
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = h.now()
	}
	// All three writes register under the same lock that observed the
	// recording status. A stop that wins the lock afterwards drains them; a
	// stop that won it first makes the status check fail. Registering after
	// unlock would let an accepted action's writes escape the drain.
	ac.pending.add()
	ac.pending.add()
	ac.pending.add()
	h.mu.Unlock()

	go func() {
		defer ac.pending.done()
		if err := h.store.PutAction(ctx, &ev); err != nil {
			log.Printf("RecorderHost: persist action %s failed: %v", ev.ID, err)
		}
	}()

	// Before/after captures run concurrently with each other and with
	// chunk persistence.
	for _, phase := range []store.Phase{store.PhaseBefore, store.PhaseAfter} {
		go func(p store.Phase) {
			defer ac.pending.done()
			ac.sampler.Sample(ctx, ev, p)
		}(phase)
	}
}

// persistSession writes the critical session record, retrying on failure.
func (h *RecorderHost) persistSession(ctx context.Context, sess *session.Session) error {
	var err error
	for attempt := 0; attempt < h.cfg.SessionWriteRetries; attempt++ {
		if err = h.store.PutSession(ctx, sess); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return errors.Wrapf(err, "persist session %s", sess.ID)
}

// handle is the host's bus endpoint.
func (h *RecorderHost) handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Kind {
	case bus.KindStart:
		var cmd session.StartCommand
		if err := msg.Decode(&cmd); err != nil {
			return nil, err
		}
		sess, errCode := h.AcquireAndStart(ctx, cmd)
		return reply(msg, session.CommandResult{Session: sess, Error: errCode})

	case bus.KindStop:
		var cmd session.StopCommand
		if len(msg.Payload) > 0 {
			if err := msg.Decode(&cmd); err != nil {
				return nil, err
			}
		}
		sess, exportErr := h.StopAndFinalize(ctx, cmd.Reason)
		result := session.CommandResult{Session: sess}
		if exportErr != nil {
			result.Error = session.ErrCodeExportFailure
		}
		return reply(msg, result)

	case bus.KindPause:
		return reply(msg, session.CommandResult{Session: h.Pause(ctx)})

	case bus.KindResume:
		return reply(msg, session.CommandResult{Session: h.Resume(ctx)})

	case bus.KindStatusRequest:
		return reply(msg, session.CommandResult{Session: h.Status()})

	case bus.KindAction:
		var ev session.ActionEvent
		if err := msg.Decode(&ev); err != nil {
			log.Printf("RecorderHost: dropping malformed action event: %v", err)
			return nil, nil
		}
		h.HandleAction(ctx, ev)
		return nil, nil
	}

	log.Printf("RecorderHost: dropping unknown message kind %s", msg.Kind)
	return nil, nil
}

func reply(req bus.Message, result session.CommandResult) (*bus.Message, error) {
	resp, err := bus.NewMessage(bus.KindStatusUpdate, result)
	if err != nil {
		return nil, err
	}
	resp.RequestID = req.RequestID
	return &resp, nil
}
