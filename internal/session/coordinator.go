package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"screenreel/internal/bus"
)

// Endpoint names on the message bus.
const (
	EndpointCoordinator = "coordinator"
	EndpointRecorder    = "recorder"
)

// Coordinator is the authoritative session-lifecycle state machine. It owns
// only a projection of the session status for routing and broadcast; the
// recorder host is the source of truth for whether capture resources exist,
// so a recreated coordinator can rebuild everything it needs from a single
// status request.
type Coordinator struct {
	bus *bus.Bus
	now func() time.Time

	mu         sync.Mutex
	projection Session
}

// NewCoordinator builds a coordinator routing over b and registers its bus
// endpoint.
func NewCoordinator(b *bus.Bus) *Coordinator {
	c := &Coordinator{
		bus:        b,
		now:        time.Now,
		projection: Session{Status: StatusIdle},
	}
	b.Register(EndpointCoordinator, c.handle)
	return c
}

// Start begins a recording session for the requested source. Calling Start
// while already recording is an idempotent no-op returning the existing
// session unchanged. A prior session id is reused only when resuming the
// same not-yet-finalized session; otherwise a fresh id is allocated.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (Session, error) {
	c.mu.Lock()
	if c.projection.Status == StatusRecording && c.projection.ID != "" {
		snap := c.projection.Snapshot()
		c.mu.Unlock()
		return snap, nil
	}

	sessionID := c.projection.ID
	if sessionID == "" || c.projection.Status.Terminal() {
		sessionID = uuid.NewString()
	}

	now := c.now()
	c.projection = Session{
		ID:        sessionID,
		Status:    StatusConsenting,
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.mu.Unlock()
	c.broadcastStatus(ctx)

	kind := SourceKindTab
	if req.Kind != "" {
		kind = req.Kind
	}
	cmd := StartCommand{
		SessionID: sessionID,
		Source: SelectedSource{
			Kind:     kind,
			ChosenAt: now,
			TabRef:   req.TabRef,
			Audio:    req.Audio,
		},
	}

	msg, err := bus.NewMessage(bus.KindStart, cmd)
	if err != nil {
		return c.failStart(ctx, err)
	}
	resp, err := c.bus.Request(ctx, EndpointRecorder, msg)
	if err != nil {
		return c.failStart(ctx, err)
	}

	var result CommandResult
	if err := resp.Decode(&result); err != nil {
		return c.failStart(ctx, err)
	}
	if result.Error != "" {
		return c.failStart(ctx, errors.Errorf("recorder host: %s", result.Error))
	}
	if result.Session == nil {
		return c.failStart(ctx, errors.New("recorder host returned no session"))
	}

	c.mu.Lock()
	c.projection = result.Session.Snapshot()
	snap := c.projection.Snapshot()
	c.mu.Unlock()
	c.broadcastStatus(ctx)
	return snap, nil
}

// failStart rolls the projection back to idle after a failed acquisition.
// Capture errors surface as a failed status transition, never as a stuck
// consenting state.
func (c *Coordinator) failStart(ctx context.Context, cause error) (Session, error) {
	log.Printf("Coordinator: start failed: %v", cause)
	c.mu.Lock()
	c.projection = Session{Status: StatusIdle}
	snap := c.projection.Snapshot()
	c.mu.Unlock()
	c.broadcastStatus(ctx)
	return snap, cause
}

// Stop finalizes the current session. With no session id assigned, or a
// session already in a terminal state, it is a no-op returning the current
// snapshot; an ended session never transitions again.
func (c *Coordinator) Stop(ctx context.Context, reason string) (Session, error) {
	c.mu.Lock()
	if c.projection.ID == "" || c.projection.Status.Terminal() {
		snap := c.projection.Snapshot()
		c.mu.Unlock()
		return snap, nil
	}
	c.projection.Status = StatusStopping
	c.projection.UpdatedAt = c.now()
	c.mu.Unlock()
	c.broadcastStatus(ctx)

	msg, err := bus.NewMessage(bus.KindStop, StopCommand{Reason: reason})
	if err != nil {
		return Session{}, err
	}
	resp, err := c.bus.Request(ctx, EndpointRecorder, msg)
	if err != nil {
		return c.Status(), errors.Wrap(err, "stop recorder host")
	}

	var result CommandResult
	if err := resp.Decode(&result); err != nil {
		return c.Status(), err
	}

	c.mu.Lock()
	if result.Session != nil {
		c.projection = result.Session.Snapshot()
	} else {
		now := c.now()
		c.projection.Status = StatusEnded
		c.projection.EndedAt = &now
		c.projection.Reason = reason
		c.projection.UpdatedAt = now
	}
	snap := c.projection.Snapshot()
	c.mu.Unlock()
	c.broadcastStatus(ctx)
	return snap, nil
}

// Pause suspends chunk emission and action sampling for the active session.
func (c *Coordinator) Pause(ctx context.Context) (Session, error) {
	return c.forward(ctx, bus.KindPause, StatusRecording, StatusPaused)
}

// Resume continues a paused session.
func (c *Coordinator) Resume(ctx context.Context) (Session, error) {
	return c.forward(ctx, bus.KindResume, StatusPaused, StatusRecording)
}

func (c *Coordinator) forward(ctx context.Context, kind string, want, next Status) (Session, error) {
	c.mu.Lock()
	if c.projection.Status != want || c.projection.ID == "" {
		snap := c.projection.Snapshot()
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	resp, err := c.bus.Request(ctx, EndpointRecorder, bus.Message{Kind: kind})
	if err != nil {
		return c.Status(), errors.Wrapf(err, "forward %s", kind)
	}
	var result CommandResult
	if err := resp.Decode(&result); err != nil {
		return c.Status(), err
	}

	c.mu.Lock()
	if result.Session != nil {
		c.projection = result.Session.Snapshot()
	} else {
		c.projection.Status = next
		c.projection.UpdatedAt = c.now()
	}
	snap := c.projection.Snapshot()
	c.mu.Unlock()
	c.broadcastStatus(ctx)
	return snap, nil
}

// Status returns the current projection without side effects.
func (c *Coordinator) Status() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projection.Snapshot()
}

// Refresh rebuilds the projection from the recorder host. A recreated
// coordinator calls this once instead of trusting any state it was holding
// before it was torn down.
func (c *Coordinator) Refresh(ctx context.Context) (Session, error) {
	resp, err := c.bus.Request(ctx, EndpointRecorder, bus.Message{Kind: bus.KindStatusRequest})
	if err != nil {
		// An unreachable host means capture cannot be active.
		c.mu.Lock()
		c.projection = Session{Status: StatusIdle}
		snap := c.projection.Snapshot()
		c.mu.Unlock()
		return snap, nil
	}

	var result CommandResult
	if err := resp.Decode(&result); err != nil {
		return c.Status(), err
	}
	c.mu.Lock()
	if result.Session != nil {
		c.projection = result.Session.Snapshot()
	} else {
		c.projection = Session{Status: StatusIdle}
	}
	snap := c.projection.Snapshot()
	c.mu.Unlock()
	return snap, nil
}

// HandleAction forwards an observed action event to the recorder host.
// Events arriving while not recording are dropped silently: nothing is
// buffering them and there is no destination for them.
func (c *Coordinator) HandleAction(ctx context.Context, ev ActionEvent) {
	c.mu.Lock()
	recording := c.projection.Status == StatusRecording
	sessionID := c.projection.ID
	c.mu.Unlock()
	if !recording {
		return
	}

	ev.SessionID = sessionID
	msg, err := bus.NewMessage(bus.KindAction, ev)
	if err != nil {
		log.Printf("Coordinator: encode action %s failed: %v", ev.ID, err)
		return
	}
	if err := c.bus.Send(ctx, EndpointRecorder, msg); err != nil {
		log.Printf("Coordinator: forward action %s failed: %v", ev.ID, err)
	}
}

// handle is the coordinator's bus endpoint: commands and events from
// presentation surfaces and the interaction observer arrive here.
func (c *Coordinator) handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Kind {
	case bus.KindStart:
		var req StartRequest
		if len(msg.Payload) > 0 {
			if err := msg.Decode(&req); err != nil {
				return nil, err
			}
		}
		snap, err := c.Start(ctx, req)
		return c.reply(msg, snap, err)

	case bus.KindStop:
		var req StopRequest
		if len(msg.Payload) > 0 {
			if err := msg.Decode(&req); err != nil {
				return nil, err
			}
		}
		snap, err := c.Stop(ctx, req.Reason)
		return c.reply(msg, snap, err)

	case bus.KindPause:
		snap, err := c.Pause(ctx)
		return c.reply(msg, snap, err)

	case bus.KindResume:
		snap, err := c.Resume(ctx)
		return c.reply(msg, snap, err)

	case bus.KindStatusRequest:
		snap := c.Status()
		return c.reply(msg, snap, nil)

	case bus.KindAction:
		var ev ActionEvent
		if err := msg.Decode(&ev); err != nil {
			// Malformed events are dropped, not errored.
			log.Printf("Coordinator: dropping malformed action event: %v", err)
			return nil, nil
		}
		c.HandleAction(ctx, ev)
		return nil, nil

	case bus.KindHostReady:
		c.bus.SetReady(ctx, EndpointRecorder)
		return nil, nil

	case bus.KindStatusUpdate:
		// The recorder host pushes these when it finalizes on its own,
		// e.g. after the capture source ended externally.
		var result CommandResult
		if err := msg.Decode(&result); err != nil {
			log.Printf("Coordinator: dropping malformed status update: %v", err)
			return nil, nil
		}
		if result.Session != nil {
			c.adopt(ctx, *result.Session)
		}
		return nil, nil
	}

	// Unknown variants inside our namespace are dropped, not errored.
	log.Printf("Coordinator: dropping unknown message kind %s", msg.Kind)
	return nil, nil
}

// adopt replaces the projection with a snapshot pushed by the recorder host
// and broadcasts the change. Updates for a session other than the projected
// one are stale and dropped; a fresher start has already taken over.
func (c *Coordinator) adopt(ctx context.Context, sess Session) {
	c.mu.Lock()
	if c.projection.ID != "" && c.projection.ID != sess.ID {
		c.mu.Unlock()
		return
	}
	c.projection = sess.Snapshot()
	c.mu.Unlock()
	c.broadcastStatus(ctx)
}

func (c *Coordinator) reply(req bus.Message, snap Session, opErr error) (*bus.Message, error) {
	result := CommandResult{Session: &snap}
	if opErr != nil {
		result.Error = opErr.Error()
	}
	resp, err := bus.NewMessage(bus.KindStatusUpdate, result)
	if err != nil {
		return nil, err
	}
	resp.RequestID = req.RequestID
	return &resp, nil
}

func (c *Coordinator) broadcastStatus(ctx context.Context) {
	snap := c.Status()
	msg, err := bus.NewMessage(bus.KindStatusUpdate, CommandResult{Session: &snap})
	if err != nil {
		log.Printf("Coordinator: encode status update failed: %v", err)
		return
	}
	c.bus.Broadcast(ctx, msg)
}
