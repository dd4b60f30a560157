package web

import (
	"errors"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/soulsmith/pkg/hub"
	"github.com/teslashibe/soulsmith/pkg/session"
	"github.com/teslashibe/soulsmith/pkg/story"
)

// StartRequest is the body of POST /api/session/start.
type StartRequest struct {
	Phase string `json:"phase"`
}

// AgentInfo is one entry of GET /api/debug/agents.
type AgentInfo struct {
	Label        string `json:"label"`
	AgentID      string `json:"agent_id"`
	Name         string `json:"name,omitempty"`
	FirstMessage string `json:"first_message,omitempty"`
	Language     string `json:"language,omitempty"`
	Error        string `json:"error,omitempty"`
}

// fail writes the error payload every endpoint shares.
func fail(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, session.ErrNoTranscript):
		return fiber.StatusNotFound
	case errors.Is(err, session.ErrNoAgent):
		return fiber.StatusServiceUnavailable
	}
	if kind, ok := session.KindOf(err); ok {
		switch kind {
		case session.KindTransport, session.KindExternalService:
			return fiber.StatusBadGateway
		case session.KindPermission:
			return fiber.StatusServiceUnavailable
		case session.KindMalformedTranscript:
			return fiber.StatusUnprocessableEntity
		}
	}
	return fiber.StatusInternalServerError
}

// handleError renders errors returned from handlers and fiber's own
// errors (404, 405) in the shared shape.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var status int
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	} else {
		status = statusFor(err)
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return fail(c, status, err)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "app": AppName})
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, err)
		}
	}
	if req.Phase == "" {
		req.Phase = c.Query("phase")
	}
	phase, err := session.ParsePhase(req.Phase)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}

	snap, err := s.sessions.Start(c.UserContext(), phase)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "session": snap})
}

func (s *Server) handleEnd(c *fiber.Ctx) error {
	if err := s.sessions.RequestEnd(session.EndUserRequested); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "session": s.sessions.Snapshot()})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	phase, err := session.ParsePhase(c.Query("phase"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	t, err := s.sessions.Transcript(phase)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"phase":           phase,
		"conversation_id": t.ConversationID(),
		"transcript":      t,
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	report, err := s.sessions.Metrics(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "metrics": report})
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	if err := s.sessions.Reset(c.UserContext()); err != nil {
		s.logger.Warn("reset cleanup failed", "error", err)
		return c.JSON(fiber.Map{"success": true, "warning": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "session": s.sessions.Snapshot()})
}

// handleStoryPrompt previews the prompt a dynamic story agent would get.
func (s *Server) handleStoryPrompt(c *fiber.Ctx) error {
	intro, err := s.sessions.Transcript(session.PhaseIntro)
	if err != nil {
		return err
	}
	prompt := story.BuildPrompt(intro)
	return c.JSON(fiber.Map{
		"success":        true,
		"prompt_preview": story.Preview(prompt, c.QueryInt("n", 200)),
		"first_message":  story.FirstMessage,
	})
}

func (s *Server) handleDebugAgents(c *fiber.Ctx) error {
	if s.cfg.AgentAPI == nil {
		return fail(c, fiber.StatusNotFound, errors.New("agent lookup not configured"))
	}

	labels := make([]string, 0, len(s.cfg.Agents))
	for label := range s.cfg.Agents {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	agents := make([]AgentInfo, 0, len(labels))
	for _, label := range labels {
		info := AgentInfo{Label: label, AgentID: s.cfg.Agents[label]}
		if info.AgentID == "" {
			info.Error = "not configured"
			agents = append(agents, info)
			continue
		}
		agent, err := s.cfg.AgentAPI.GetAgent(c.UserContext(), info.AgentID)
		if err != nil {
			info.Error = err.Error()
			agents = append(agents, info)
			continue
		}
		info.Name = agent.Name
		if cc := agent.ConversationConfig; cc != nil && cc.Agent != nil {
			info.FirstMessage = cc.Agent.FirstMessage
			info.Language = cc.Agent.Language
		}
		agents = append(agents, info)
	}
	return c.JSON(fiber.Map{"success": true, "agents": agents})
}

// handleStatusWS streams session snapshots until the client disconnects.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	client := hub.NewClient(s.cfg.Hub, conn)
	client.Run()
}
