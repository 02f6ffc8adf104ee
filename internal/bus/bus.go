package bus

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Handler processes one inbound message for an endpoint. A non-nil response
// is routed back to the sender when the delivery was a request; it must echo
// the inbound request id.
type Handler func(ctx context.Context, msg Message) (*Message, error)

// Delivery errors.
var (
	ErrNoEndpoint = errors.New("bus: no such endpoint")
	ErrNoResponse = errors.New("bus: endpoint returned no response")
)

type endpoint struct {
	name    string
	handler Handler
	surface bool

	// Ready gating. A gated endpoint queues inbound messages until it
	// signals readiness; the queue then flushes in FIFO order.
	gated   bool
	ready   bool
	pending []pendingDelivery
}

type pendingDelivery struct {
	msg      Message
	response chan result // nil for fire-and-forget sends
}

type result struct {
	msg *Message
	err error
}

// Bus routes tagged messages between named endpoints. Delivery is
// at-most-once per call: a send either reaches the endpoint's handler or
// fails (or queues, for a gated endpoint that is not yet ready).
type Bus struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{endpoints: make(map[string]*endpoint)}
}

// Option configures an endpoint registration.
type Option func(*endpoint)

// WithReadyGate registers the endpoint gated: inbound messages queue until
// SetReady. Used for the recorder host, which signals host-ready once its
// context is initialized.
func WithReadyGate() Option {
	return func(e *endpoint) { e.gated = true }
}

// WithSurface marks the endpoint as a presentation surface, making it a
// target of Broadcast.
func WithSurface() Option {
	return func(e *endpoint) { e.surface = true }
}

// Register attaches a named endpoint. Re-registering a name replaces the
// previous endpoint (a recreated context takes over its address).
func (b *Bus) Register(name string, h Handler, opts ...Option) {
	e := &endpoint{name: name, handler: h}
	for _, opt := range opts {
		opt(e)
	}
	b.mu.Lock()
	b.endpoints[name] = e
	b.mu.Unlock()
}

// Unregister detaches an endpoint. Pending queued messages are dropped;
// there is no destination for them anymore.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	delete(b.endpoints, name)
	b.mu.Unlock()
}

// Send delivers msg to the named endpoint, fire-and-forget. For a gated
// endpoint that has not signaled readiness the message queues instead of
// failing; queued messages flush in order on the next ready signal.
func (b *Bus) Send(ctx context.Context, to string, msg Message) error {
	b.mu.Lock()
	e, ok := b.endpoints[to]
	if !ok {
		b.mu.Unlock()
		return errors.Wrap(ErrNoEndpoint, to)
	}
	if e.gated && !e.ready {
		e.pending = append(e.pending, pendingDelivery{msg: msg})
		b.mu.Unlock()
		return nil
	}
	h := e.handler
	b.mu.Unlock()

	if _, err := h(ctx, msg); err != nil {
		return errors.Wrapf(err, "deliver %s to %s", msg.Kind, to)
	}
	return nil
}

// Request delivers msg and waits for the endpoint's correlated response.
// A request id is assigned when the message carries none. For a gated
// endpoint the request queues until readiness; the wait is bounded by ctx.
func (b *Bus) Request(ctx context.Context, to string, msg Message) (Message, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	b.mu.Lock()
	e, ok := b.endpoints[to]
	if !ok {
		b.mu.Unlock()
		return Message{}, errors.Wrap(ErrNoEndpoint, to)
	}
	if e.gated && !e.ready {
		respCh := make(chan result, 1)
		e.pending = append(e.pending, pendingDelivery{msg: msg, response: respCh})
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case r := <-respCh:
			return b.checkResponse(msg, r)
		}
	}
	h := e.handler
	b.mu.Unlock()

	resp, err := h(ctx, msg)
	return b.checkResponse(msg, result{msg: resp, err: err})
}

func (b *Bus) checkResponse(req Message, r result) (Message, error) {
	if r.err != nil {
		return Message{}, errors.Wrapf(r.err, "request %s", req.Kind)
	}
	if r.msg == nil {
		return Message{}, errors.Wrap(ErrNoResponse, req.Kind)
	}
	if r.msg.RequestID != req.RequestID {
		return Message{}, errors.Errorf("bus: response request id %q does not match %q", r.msg.RequestID, req.RequestID)
	}
	return *r.msg, nil
}

// SetReady marks a gated endpoint ready and flushes its queue in FIFO
// order. A message that fails to deliver during the flush is re-inserted at
// the front, preserving order for the next ready signal.
func (b *Bus) SetReady(ctx context.Context, name string) {
	b.mu.Lock()
	e, ok := b.endpoints[name]
	if !ok {
		b.mu.Unlock()
		return
	}
	e.ready = true
	queue := e.pending
	e.pending = nil
	h := e.handler
	b.mu.Unlock()

	for i, d := range queue {
		resp, err := h(ctx, d.msg)
		if err != nil {
			log.Printf("Bus: flush of %s to %s failed, requeueing %d message(s): %v",
				d.msg.Kind, name, len(queue)-i, err)
			b.mu.Lock()
			if cur, ok := b.endpoints[name]; ok {
				cur.ready = false
				cur.pending = append(queue[i:], cur.pending...)
			}
			b.mu.Unlock()
			return
		}
		if d.response != nil {
			d.response <- result{msg: resp}
		}
	}
}

// SetUnready closes the ready gate again, e.g. while the recorder host
// tears down and reacquires capture resources.
func (b *Bus) SetUnready(name string) {
	b.mu.Lock()
	if e, ok := b.endpoints[name]; ok && e.gated {
		e.ready = false
	}
	b.mu.Unlock()
}

// Broadcast delivers msg best-effort to every surface endpoint. A delivery
// failure to one surface does not affect the others and is not retried.
func (b *Bus) Broadcast(ctx context.Context, msg Message) {
	b.mu.Lock()
	var targets []*endpoint
	for _, e := range b.endpoints {
		if e.surface {
			targets = append(targets, e)
		}
	}
	b.mu.Unlock()

	for _, e := range targets {
		if _, err := e.handler(ctx, msg); err != nil {
			log.Printf("Bus: broadcast %s to surface %s failed: %v", msg.Kind, e.name, err)
		}
	}
}
