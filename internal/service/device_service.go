package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/registry"
)

// DefaultCommand is sent when a ping names no command.
const DefaultCommand = "locate"

// Pusher delivers a command to a single push token.
type Pusher interface {
	Send(ctx context.Context, token, command string) model.DispatchResult
	Transport() string
}

// DeviceService exposes registration, pinging and location reports.
type DeviceService struct {
	registry *registry.Registry
	pusher   Pusher
	validate *validator.Validate
	logger   *slog.Logger
}

// RegisterRequest describes the register payload.
type RegisterRequest struct {
	User  string `json:"user" validate:"required"`
	Token string `json:"token" validate:"required"`
}

// LocationRequest is a position report from a device. The device is named
// by user, by token, or both.
type LocationRequest struct {
	User      string  `json:"user" validate:"required_without=Token"`
	Token     string  `json:"token" validate:"required_without=User"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	Timestamp int64   `json:"timestamp" validate:"min=0"`
}

// NewDeviceService constructs DeviceService.
func NewDeviceService(reg *registry.Registry, pusher Pusher, logger *slog.Logger) *DeviceService {
	return &DeviceService{
		registry: reg,
		pusher:   pusher,
		validate: validator.New(),
		logger:   logger.With("component", "device_service"),
	}
}

// Register binds a push token to a user, replacing any previous token.
func (s *DeviceService) Register(ctx context.Context, req RegisterRequest) error {
	req.User = strings.TrimSpace(req.User)
	req.Token = strings.TrimSpace(req.Token)
	if err := s.check(req); err != nil {
		return err
	}
	if err := s.registry.Upsert(ctx, req.User, req.Token); err != nil {
		return err
	}
	s.logger.Info("device registered", "user", req.User, "token", maskValue(req.Token))
	return nil
}

// Remove deregisters a user. Unknown users are not an error.
func (s *DeviceService) Remove(ctx context.Context, user string) error {
	if err := s.registry.Remove(ctx, user); err != nil {
		return err
	}
	s.logger.Info("device removed", "user", strings.TrimSpace(user))
	return nil
}

// List returns masked device views in registration order.
func (s *DeviceService) List(ctx context.Context) []model.DeviceView {
	devices := s.registry.List(ctx)
	views := make([]model.DeviceView, 0, len(devices))
	for _, device := range devices {
		views = append(views, toView(device))
	}
	return views
}

// Ping pushes command to the device registered for user. The error is
// non-nil only when the user cannot be resolved; push failures are
// reported inside the result.
func (s *DeviceService) Ping(ctx context.Context, user, command string) (model.DispatchResult, error) {
	token, err := s.registry.Lookup(ctx, user)
	if err != nil {
		return model.DispatchResult{}, err
	}
	command = strings.TrimSpace(command)
	if command == "" {
		command = DefaultCommand
	}
	return s.pusher.Send(ctx, token, command), nil
}

// ReportLocation validates and stores a location report.
func (s *DeviceService) ReportLocation(ctx context.Context, req LocationRequest) (model.LocationRecord, error) {
	req.User = strings.TrimSpace(req.User)
	req.Token = strings.TrimSpace(req.Token)
	if err := s.check(req); err != nil {
		return model.LocationRecord{}, err
	}
	return s.registry.ReportLocation(ctx, model.LocationRecord{
		UserID:    req.User,
		Token:     req.Token,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Timestamp: req.Timestamp,
	})
}

// Locations returns the location history of user, oldest first.
func (s *DeviceService) Locations(ctx context.Context, user string) ([]model.LocationRecord, error) {
	if strings.TrimSpace(user) == "" {
		return nil, errors.Wrap(registry.ErrInvalidArgument, "user is required")
	}
	return s.registry.Locations(ctx, user)
}

// Summary reports liveness, the active transport and the device count.
func (s *DeviceService) Summary() model.StatusRes {
	return model.StatusRes{
		Status:    "ok",
		Transport: s.pusher.Transport(),
		Devices:   s.registry.Len(),
	}
}

// check runs struct validation and folds failures into
// registry.ErrInvalidArgument so callers see one error kind.
func (s *DeviceService) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate request")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return errors.Wrap(registry.ErrInvalidArgument, strings.Join(fields, "; "))
}

func toView(device model.DeviceRecord) model.DeviceView {
	return model.DeviceView{
		UserID: device.UserID,
		Token:  maskValue(device.Token),
	}
}

func maskValue(value string) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= 10 {
		return string(runes)
	}
	return string(runes[:10]) + "..."
}
