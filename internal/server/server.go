package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/config"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/registry"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/service"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Server wires HTTP handlers.
type Server struct {
	app       *fiber.App
	deviceSvc *service.DeviceService
	authSvc   *service.AuthService
	cfg       *config.Config
	logger    *slog.Logger
}

// New builds a server instance.
func New(cfg *config.Config, deviceSvc *service.DeviceService, authSvc *service.AuthService, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:           cfg.HTTP.ReadTimeout,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		AppName:               "locate-relay",
		DisableStartupMessage: true,
	})
	s := &Server{
		app:       app,
		deviceSvc: deviceSvc,
		authSvc:   authSvc,
		cfg:       cfg,
		logger:    logger.With("component", "http"),
	}
	s.registerRoutes()
	return s
}

// App exposes the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Use(s.requestID, s.accessLog)

	s.app.Get("/healthz", s.handleHealth)
	s.app.Post("/register", s.handleRegister)
	s.app.Post("/location", s.handleLocation)

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Get("/auth/profile", s.handleProfile)

	admin := s.app.Group("/admin", s.requireAuth)
	admin.Get("/summary", s.handleAdminSummary)
	admin.Get("/devices", s.handleAdminListDevices)
	admin.Delete("/devices/:user", s.handleAdminRemoveDevice)
	admin.Post("/devices/:user/ping", s.handleAdminPing)
	admin.Get("/devices/:user/locations", s.handleAdminLocations)

	s.serveFrontend()
}

func (s *Server) requestID(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Get(RequestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	c.Locals("request_id", id)
	c.Set(RequestIDHeader, id)
	return c.Next()
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	s.logger.Info("request",
		"request_id", c.Locals("request_id"),
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"elapsed", time.Since(start))
	return err
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(model.Success("ok", s.deviceSvc.Summary()))
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req service.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	if err := s.deviceSvc.Register(c.UserContext(), req); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("registered", nil))
}

func (s *Server) handleLocation(c *fiber.Ctx) error {
	var req service.LocationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	record, err := s.deviceSvc.ReportLocation(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("location stored", record))
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	if !s.authSvc.Enabled() {
		return c.JSON(model.Success("login not required", fiber.Map{
			"token":    "",
			"enabled":  false,
			"username": "guest",
		}))
	}
	token, err := s.authSvc.Authenticate(req.Username, req.Password)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("logged in", fiber.Map{
		"token":    token,
		"enabled":  true,
		"username": s.authSvc.Username(),
	}))
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	if !s.authSvc.Enabled() {
		return c.JSON(model.Success("ok", fiber.Map{
			"enabled":  false,
			"username": "guest",
		}))
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	return c.JSON(model.Success("ok", fiber.Map{
		"enabled":  true,
		"username": claims.Username,
	}))
}

func (s *Server) handleAdminSummary(c *fiber.Ctx) error {
	return c.JSON(model.Success("ok", s.deviceSvc.Summary()))
}

func (s *Server) handleAdminListDevices(c *fiber.Ctx) error {
	return c.JSON(model.Success("ok", s.deviceSvc.List(c.UserContext())))
}

func (s *Server) handleAdminRemoveDevice(c *fiber.Ctx) error {
	if err := s.deviceSvc.Remove(c.UserContext(), userParam(c)); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("removed", nil))
}

func (s *Server) handleAdminPing(c *fiber.Ctx) error {
	var req struct {
		Command string `json:"command"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
		}
	}
	result, err := s.deviceSvc.Ping(c.UserContext(), userParam(c), req.Command)
	if err != nil {
		return s.fail(c, err)
	}
	msg := "ping dispatched"
	if !result.Sent() {
		msg = "ping not delivered"
	}
	return c.JSON(model.Success(msg, result))
}

func (s *Server) handleAdminLocations(c *fiber.Ctx) error {
	records, err := s.deviceSvc.Locations(c.UserContext(), userParam(c))
	if err != nil {
		return s.fail(c, err)
	}
	if records == nil {
		records = []model.LocationRecord{}
	}
	return c.JSON(model.Success("ok", records))
}

// fail maps service errors onto HTTP status codes.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidArgument):
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed",
			"request_id", c.Locals("request_id"),
			"path", c.Path(),
			"err", err)
	}
	return c.Status(status).JSON(model.Error(err.Error()))
}

func (s *Server) serveFrontend() {
	dir := strings.TrimSpace(s.cfg.Frontend.Dir)
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	s.app.Static("/", dir, fiber.Static{
		Index:    "index.html",
		Compress: true,
	})
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	if !s.authSvc.Enabled() {
		return c.Next()
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

// userParam returns the decoded :user path segment.
func userParam(c *fiber.Ctx) string {
	return decodePathSegment(c.Params("user"))
}

func decodePathSegment(value string) string {
	if value == "" {
		return value
	}
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
