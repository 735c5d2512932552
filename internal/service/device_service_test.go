package service_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/registry"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/service"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/storage/bolt"
)

type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) Send(ctx context.Context, token, command string) model.DispatchResult {
	args := m.Called(ctx, token, command)
	return args.Get(0).(model.DispatchResult)
}

func (m *MockPusher) Transport() string {
	return "mock"
}

func newDeviceService(t *testing.T) (*service.DeviceService, *MockPusher) {
	t.Helper()
	store, err := bolt.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.Open(context.Background(), store, logger)
	require.NoError(t, err)

	pusher := new(MockPusher)
	return service.NewDeviceService(reg, pusher, logger), pusher
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newDeviceService(t)
	ctx := context.Background()

	err := svc.Register(ctx, service.RegisterRequest{User: "alice"})
	assert.ErrorIs(t, err, registry.ErrInvalidArgument)

	err = svc.Register(ctx, service.RegisterRequest{User: "  ", Token: "tok"})
	assert.ErrorIs(t, err, registry.ErrInvalidArgument)

	require.NoError(t, svc.Register(ctx, service.RegisterRequest{User: " alice ", Token: "tok_abcdefghijkl"}))
	assert.Equal(t, []model.DeviceView{{UserID: "alice", Token: "tok_abcdef..."}}, svc.List(ctx))
}

func TestPing_DefaultCommand(t *testing.T) {
	svc, pusher := newDeviceService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, service.RegisterRequest{User: "alice", Token: "tok_a"}))

	pusher.On("Send", mock.Anything, "tok_a", "locate").Return(model.Completed(200, "ok")).Once()
	pusher.On("Send", mock.Anything, "tok_a", "ring").Return(model.Failed("timeout")).Once()

	result, err := svc.Ping(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)

	result, err = svc.Ping(ctx, "alice", "ring")
	require.NoError(t, err)
	assert.Equal(t, "timeout", result.Error)

	pusher.AssertExpectations(t)
}

func TestPing_UnknownUser(t *testing.T) {
	svc, pusher := newDeviceService(t)

	_, err := svc.Ping(context.Background(), "ghost", "locate")

	assert.True(t, errors.Is(err, registry.ErrNotFound))
	pusher.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemove(t *testing.T) {
	svc, _ := newDeviceService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, service.RegisterRequest{User: "alice", Token: "tok_a"}))

	require.NoError(t, svc.Remove(ctx, "alice"))
	require.NoError(t, svc.Remove(ctx, "alice"))
	assert.Empty(t, svc.List(ctx))
}

func TestReportLocation(t *testing.T) {
	svc, _ := newDeviceService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, service.RegisterRequest{User: "alice", Token: "tok_a"}))

	byUser, err := svc.ReportLocation(ctx, service.LocationRequest{User: "alice", Latitude: 52.52, Longitude: 13.40, Timestamp: 1731100000})
	require.NoError(t, err)
	assert.Equal(t, "tok_a", byUser.Token)

	byToken, err := svc.ReportLocation(ctx, service.LocationRequest{Token: "tok_a", Latitude: -33.86, Longitude: 151.2})
	require.NoError(t, err)
	assert.Equal(t, "alice", byToken.UserID)
	assert.NotZero(t, byToken.Timestamp)

	history, err := svc.Locations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1731100000), history[0].Timestamp)
	assert.InDelta(t, -33.86, history[1].Latitude, 1e-9)
}

func TestReportLocation_Invalid(t *testing.T) {
	svc, _ := newDeviceService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, service.RegisterRequest{User: "alice", Token: "tok_a"}))

	cases := map[string]service.LocationRequest{
		"no identity":    {Latitude: 1, Longitude: 1},
		"latitude high":  {User: "alice", Latitude: 91},
		"longitude low":  {User: "alice", Longitude: -181},
		"negative stamp": {User: "alice", Timestamp: -1},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ReportLocation(ctx, req)
			assert.ErrorIs(t, err, registry.ErrInvalidArgument)
		})
	}

	_, err := svc.ReportLocation(ctx, service.LocationRequest{User: "bob"})
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = svc.Locations(ctx, " ")
	assert.ErrorIs(t, err, registry.ErrInvalidArgument)
}

func TestSummary(t *testing.T) {
	svc, _ := newDeviceService(t)
	require.NoError(t, svc.Register(context.Background(), service.RegisterRequest{User: "alice", Token: "tok_a"}))

	assert.Equal(t, model.StatusRes{Status: "ok", Transport: "mock", Devices: 1}, svc.Summary())
}
