// Package httpapi exposes the request API over HTTP: submit, inspect, and
// cancel requests, plus health and metrics endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/flow"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/request"
	"github.com/fyrsmithlabs/agentd/internal/resource"
)

// Server is the HTTP front end over the flow coordinator.
type Server struct {
	echo    *echo.Echo
	flow    *flow.Coordinator
	checker *resource.Checker
	cfg     config.ServerConfig
	log     *logging.Logger
}

// NewServer wires routes and middleware.
func NewServer(cfg config.ServerConfig, coordinator *flow.Coordinator, checker *resource.Checker, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, flow: coordinator, checker: checker, cfg: cfg, log: log}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/requests", s.handleSubmit)
	v1.GET("/requests/:id", s.handleGet)
	v1.POST("/requests/:id/cancel", s.handleCancel)
}

// SubmitRequest is the body of POST /v1/requests.
type SubmitRequest struct {
	Type           string `json:"type"`
	Payload        string `json:"payload"`
	ConversationID string `json:"conversation_id,omitempty"`
	Workspace      string `json:"workspace,omitempty"`
}

// SubmitResponse is the body returned for a processed request.
type SubmitResponse struct {
	ID         string          `json:"id"`
	State      request.State   `json:"state"`
	Output     string          `json:"output,omitempty"`
	StatePath  []request.State `json:"state_path"`
	Error      *ErrorBody      `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// ErrorBody is the structured error payload. Code is one of the stable
// fault kinds; clients branch on it, not on the message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleSubmit runs a request synchronously to a terminal state.
func (s *Server) handleSubmit(c echo.Context) error {
	var body SubmitRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorBody{
			Code:    string(fault.KindValidation),
			Message: "request body is not valid JSON",
		})
	}

	req := request.New(body.Type, body.Payload)
	req.ConversationID = body.ConversationID
	req.Workspace = body.Workspace

	started := time.Now()
	err := s.flow.Process(c.Request().Context(), req)

	resp := SubmitResponse{
		ID:         req.ID,
		State:      req.State,
		Output:     req.Output,
		StatePath:  req.StatePath,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if req.Failure != nil {
		resp.Error = &ErrorBody{Code: req.Failure.Code, Message: req.Failure.Cause}
	}

	return c.JSON(statusFor(req.State, err), resp)
}

// statusFor maps terminal outcomes onto HTTP status codes.
func statusFor(state request.State, err error) int {
	switch state {
	case request.StateCompleted:
		return http.StatusOK
	case request.StateCancelled:
		return 499 // client closed request, nginx convention
	}
	switch fault.KindOf(err) {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindResourceExhausted:
		return http.StatusTooManyRequests
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleGet returns a request's current snapshot.
func (s *Server) handleGet(c echo.Context) error {
	req, err := s.flow.Lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorBody{
			Code:    string(fault.KindValidation),
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, req)
}

// handleCancel requests cooperative cancellation.
func (s *Server) handleCancel(c echo.Context) error {
	id := c.Param("id")
	if !s.flow.Cancel(id) {
		return c.JSON(http.StatusNotFound, ErrorBody{
			Code:    string(fault.KindValidation),
			Message: fmt.Sprintf("no in-flight request %s", id),
		})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// HealthBody is the /healthz response.
type HealthBody struct {
	Status   string             `json:"status"`
	Resource *resource.Snapshot `json:"resource,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	body := HealthBody{Status: "ok"}
	if s.checker != nil {
		snap := s.checker.Snapshot()
		body.Resource = &snap
		if snap.Degraded {
			body.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, body)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains connections gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
