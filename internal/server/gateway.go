package server

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"screenreel/internal/bus"
	"screenreel/internal/session"
)

const gatewayRequestTimeout = 30 * time.Second

// serveGateway attaches one WebSocket client as a presentation surface on
// the message bus. Inbound frames must be recognized protocol messages;
// anything else is dropped at the boundary. Status broadcasts and request
// responses flow back out over the same connection.
func (s *FiberServer) serveGateway(conn *websocket.Conn) {
	name := "surface/" + uuid.NewString()
	out := make(chan bus.Message, 32)
	quit := make(chan struct{})

	s.bus.Register(name, func(_ context.Context, msg bus.Message) (*bus.Message, error) {
		select {
		case out <- msg:
		default:
			// A backed-up surface misses a broadcast rather than stalling
			// the bus.
		}
		return nil, nil
	}, bus.WithSurface())
	defer s.bus.Unregister(name)

	go func() {
		for {
			select {
			case <-quit:
				return
			case msg := <-out:
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("Gateway: write to %s failed: %v", name, err)
					return
				}
			}
		}
	}()
	defer close(quit)

	log.Printf("Gateway: surface %s attached", name)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		msg, ok := bus.Recognize(raw)
		if !ok {
			continue
		}

		s.dispatch(msg, out)
	}
	log.Printf("Gateway: surface %s detached", name)
}

// dispatch routes one surface message to the coordinator. Commands that
// expect an answer go as correlated requests; events are fire-and-forget.
func (s *FiberServer) dispatch(msg bus.Message, out chan<- bus.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), gatewayRequestTimeout)
	defer cancel()

	switch msg.Kind {
	case bus.KindAction, bus.KindHostReady:
		if err := s.bus.Send(ctx, session.EndpointCoordinator, msg); err != nil {
			log.Printf("Gateway: forward %s failed: %v", msg.Kind, err)
		}

	default:
		resp, err := s.bus.Request(ctx, session.EndpointCoordinator, msg)
		if err != nil {
			log.Printf("Gateway: request %s failed: %v", msg.Kind, err)
			return
		}
		select {
		case out <- resp:
		default:
			log.Printf("Gateway: dropping response %s, surface backed up", resp.Kind)
		}
	}
}
