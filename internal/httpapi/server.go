// Package httpapi provides the webhook ingress for devflow.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/trigger"
	"github.com/fyrsmithlabs/devflow/internal/workflow"
)

// Server accepts tracker webhook events and launches workflows as detached
// background tasks, acknowledging before the work starts.
type Server struct {
	echo       *echo.Echo
	classifier *trigger.Classifier
	seen       trigger.SeenStore
	launch     trigger.Launcher
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the webhook server.
func NewServer(classifier *trigger.Classifier, seen trigger.SeenStore, launch trigger.Launcher, logger *zap.Logger, cfg *Config) (*Server, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if launch == nil {
		return nil, fmt.Errorf("launcher cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8001}
	}
	if seen == nil {
		seen = trigger.NewMemorySeenStore()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:       e,
		classifier: classifier,
		seen:       seen,
		launch:     launch,
		logger:     logger,
		config:     cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/webhook", s.handleWebhook)
}

// webhookPayload is the consumed subset of the tracker's issue event.
type webhookPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	Comment *struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	} `json:"comment"`
}

// WebhookResponse is the acknowledgment body for POST /webhook.
type WebhookResponse struct {
	Status   string `json:"status"`
	RunID    string `json:"run_id,omitempty"`
	Workflow string `json:"workflow,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleWebhook classifies the event and acknowledges immediately; the
// pipeline runs as a detached background task.
func (s *Server) handleWebhook(c echo.Context) error {
	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		s.logger.Warn("invalid webhook payload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if payload.Issue.Number == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "issue number is required")
	}

	event := trigger.Event{
		IssueNumber: payload.Issue.Number,
		Body:        payload.Issue.Body,
	}
	if payload.Comment != nil {
		event.CommentID = payload.Comment.ID
		event.Body = payload.Comment.Body
	}

	handled, err := s.seen.Seen(event.IssueNumber, event.CommentID)
	if err != nil {
		// Treat the event as unseen; duplicate launches are preferable to
		// dropped ones.
		s.logger.Warn("reading seen store", zap.Int("issue", event.IssueNumber), zap.Error(err))
	}
	if handled {
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored", Reason: "already handled"})
	}

	dec := s.classifier.Classify(c.Request().Context(), event)
	if !dec.Actionable {
		s.logger.Debug("webhook event not actionable",
			zap.Int("issue", event.IssueNumber), zap.String("reason", dec.Reason))
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored", Reason: dec.Reason})
	}

	if err := s.seen.Mark(event.IssueNumber, event.CommentID); err != nil {
		s.logger.Error("updating seen store", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "recording event")
	}

	dec.RunID = workflow.EnsureRunID(dec.RunID)
	s.logger.Info("accepted webhook event",
		zap.Int("issue", event.IssueNumber),
		zap.String("workflow", string(dec.Workflow)),
		zap.String("run_id", dec.RunID),
	)

	// Detach from the request context; the run outlives the request.
	go s.launch(context.Background(), event.IssueNumber, dec)

	return c.JSON(http.StatusOK, WebhookResponse{
		Status:   "accepted",
		RunID:    dec.RunID,
		Workflow: string(dec.Workflow),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting webhook server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down webhook server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }
