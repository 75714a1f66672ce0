package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /status, /metrics and /healthz for a running trainer.
type Server struct {
	app     *fiber.App
	metrics *Metrics
	logger  *slog.Logger
}

func NewServer(metrics *Metrics, logger *slog.Logger) (*Server, error) {
	if metrics == nil {
		return nil, errors.New("metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s := &Server{app: app, metrics: metrics, logger: logger}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(s.metrics.Snapshot())
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	return s, nil
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr in the background. Listen errors after startup are
// logged.
func (s *Server) Start(addr string) {
	go func() {
		if err := s.app.Listen(addr); err != nil {
			s.logger.Warn("status server stopped", "addr", addr, "err", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
