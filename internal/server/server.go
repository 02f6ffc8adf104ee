package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"screenreel/internal/bus"
	"screenreel/internal/config"
	"screenreel/internal/database"
	"screenreel/internal/export"
	"screenreel/internal/session"
	"screenreel/internal/store"
)

type FiberServer struct {
	*fiber.App
	cfg         *config.Config
	db          database.Service
	bus         *bus.Bus
	coordinator *session.Coordinator
	store       store.Store
	exporter    *export.Exporter
	jwtService  *JWTService
}

// New builds the HTTP surface over an already-wired recording core. db may
// be nil for embedded deployments running on the in-memory store.
func New(cfg *config.Config, db database.Service, b *bus.Bus, coordinator *session.Coordinator, st store.Store, exporter *export.Exporter) *FiberServer {
	app := fiber.New(fiber.Config{
		ServerHeader: "screenreel",
		AppName:      "screenreel",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	server := &FiberServer{
		App:         app,
		cfg:         cfg,
		db:          db,
		bus:         b,
		coordinator: coordinator,
		store:       st,
		exporter:    exporter,
		jwtService:  NewJWTService(cfg.JWT.SecretKey, cfg.JWT.Expiration),
	}
	server.applyMiddleware()

	return server
}

func (s *FiberServer) applyMiddleware() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(s.cfg.Security.CORSOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.App.Use(limiter.New(limiter.Config{
		Max:        s.cfg.Security.RateLimit,
		Expiration: s.cfg.Security.RateWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
}
