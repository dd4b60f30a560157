// Package web serves the SoulSmith HTTP API: session control, transcripts,
// metrics, a status websocket and Prometheus scraping.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/soulsmith/pkg/analytics"
	"github.com/teslashibe/soulsmith/pkg/conversation"
	"github.com/teslashibe/soulsmith/pkg/hub"
	"github.com/teslashibe/soulsmith/pkg/session"
	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// AppName is reported by /health.
const AppName = "SoulSmith"

// Sessions is the session controller as seen by the API.
// *session.Controller satisfies it.
type Sessions interface {
	Start(ctx context.Context, phase session.Phase) (session.Snapshot, error)
	RequestEnd(reason session.EndReason) error
	Transcript(phase session.Phase) (*transcript.Transcript, error)
	Metrics(ctx context.Context) (*analytics.Report, error)
	Reset(ctx context.Context) error
	Snapshot() session.Snapshot
}

// AgentGetter looks up agent definitions for the debug endpoint.
type AgentGetter interface {
	GetAgent(ctx context.Context, agentID string) (*conversation.GetAgentResponse, error)
}

// Config configures the Server.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// Hub, if set, serves /ws/status.
	Hub *hub.Hub

	// MetricsHandler, if set, serves /metrics.
	MetricsHandler http.Handler

	// Agents maps a label to an agent id for /api/debug/agents.
	Agents   map[string]string
	AgentAPI AgentGetter

	// AccessLog, if set, receives one line per request.
	AccessLog io.Writer

	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	app      *fiber.App
	cfg      Config
	sessions Sessions
	logger   *slog.Logger
}

// NewServer builds the routes. It does not listen.
func NewServer(sessions Sessions, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		logger:   cfg.Logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               AppName,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.AccessLog != nil {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency}\n",
			Output: cfg.AccessLog,
		}))
	}

	app.Get("/health", s.handleHealth)
	if cfg.MetricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.MetricsHandler))
	}

	api := app.Group("/api")
	api.Post("/session/start", s.handleStart)
	api.Post("/session/end", s.handleEnd)
	api.Get("/session/transcript", s.handleTranscript)
	api.Post("/session/reset", s.handleReset)
	api.Get("/session/status", s.handleStatus)
	api.Get("/metrics", s.handleMetrics)
	api.Get("/story/prompt", s.handleStoryPrompt)
	api.Get("/debug/agents", s.handleDebugAgents)

	if cfg.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/status", websocket.New(s.handleStatusWS))
	}

	s.app = app
	return s
}

// App returns the underlying fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Listen() error {
	s.logger.Info("listening", "addr", s.cfg.Addr)
	err := s.app.Listen(s.cfg.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
