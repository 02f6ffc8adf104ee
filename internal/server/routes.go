package server

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"screenreel/internal/session"
	"screenreel/internal/store"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Get("/", s.bannerHandler)
	s.App.Get("/health", s.healthHandler)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Token issuance (public, gated by the shared publish key)
	s.App.Post("/auth/token", s.issueTokenHandler)

	// Protected routes
	api := s.App.Group("/api", s.authMiddleware)

	api.Post("/session/start", s.startSessionHandler)
	api.Post("/session/stop", s.stopSessionHandler)
	api.Post("/session/pause", s.pauseSessionHandler)
	api.Post("/session/resume", s.resumeSessionHandler)
	api.Get("/session/status", s.sessionStatusHandler)
	api.Post("/session/refresh", s.refreshSessionHandler)
	api.Post("/session/actions", s.actionHandler)

	api.Get("/sessions", s.listSessionsHandler)
	api.Get("/sessions/:id", s.getSessionHandler)
	api.Get("/sessions/:id/archive", s.downloadArchiveHandler)

	// WebSocket gateway for presentation surfaces
	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.serveGateway))
}

func (s *FiberServer) bannerHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "screenreel",
	})
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	if s.db == nil {
		return c.JSON(fiber.Map{
			"message": "Database is not configured",
			"status":  "memory",
		})
	}
	return c.JSON(s.db.Health())
}

func (s *FiberServer) startSessionHandler(c *fiber.Ctx) error {
	var req session.StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	snap, err := s.coordinator.Start(c.Context(), req)
	if err != nil {
		log.Printf("Server: start session failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   err.Error(),
			"session": snap,
		})
	}
	return c.JSON(fiber.Map{"session": snap})
}

func (s *FiberServer) stopSessionHandler(c *fiber.Ctx) error {
	var req session.StopRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	snap, err := s.coordinator.Stop(c.Context(), req.Reason)
	if err != nil {
		log.Printf("Server: stop session failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   err.Error(),
			"session": snap,
		})
	}
	return c.JSON(fiber.Map{"session": snap})
}

func (s *FiberServer) pauseSessionHandler(c *fiber.Ctx) error {
	snap, err := s.coordinator.Pause(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "session": snap})
	}
	return c.JSON(fiber.Map{"session": snap})
}

func (s *FiberServer) resumeSessionHandler(c *fiber.Ctx) error {
	snap, err := s.coordinator.Resume(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "session": snap})
	}
	return c.JSON(fiber.Map{"session": snap})
}

func (s *FiberServer) sessionStatusHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"session": s.coordinator.Status()})
}

func (s *FiberServer) refreshSessionHandler(c *fiber.Ctx) error {
	snap, err := s.coordinator.Refresh(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "session": snap})
	}
	return c.JSON(fiber.Map{"session": snap})
}

// actionHandler accepts one observed action event. Events are forwarded
// fire-and-forget; an event arriving while no recording is active is
// dropped, so the answer is always accepted.
func (s *FiberServer) actionHandler(c *fiber.Ctx) error {
	var ev session.ActionEvent
	if err := c.BodyParser(&ev); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid action event"})
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	s.coordinator.HandleAction(c.Context(), ev)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": ev.ID})
}

func (s *FiberServer) listSessionsHandler(c *fiber.Ctx) error {
	sessions, err := s.store.SessionsByCreation(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return c.JSON(sessions)
}

func (s *FiberServer) getSessionHandler(c *fiber.Ctx) error {
	sess, err := s.store.GetSession(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"session": sess})
}

// downloadArchiveHandler serves a finished session's export archive.
func (s *FiberServer) downloadArchiveHandler(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	path := s.exporter.ArchivePath(sessionID)
	if _, err := os.Stat(path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "archive not found"})
	}
	return c.Download(path, sessionID+".zip")
}
