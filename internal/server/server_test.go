package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/config"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/registry"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/server"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/service"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/storage/jsonfile"
)

// stubPusher records the last push and answers with result.
type stubPusher struct {
	mu      sync.Mutex
	result  model.DispatchResult
	token   string
	command string
}

func (p *stubPusher) Send(_ context.Context, token, command string) model.DispatchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token, p.command = token, command
	return p.result
}

func (p *stubPusher) Transport() string { return "stub" }

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type harness struct {
	srv    *server.Server
	pusher *stubPusher
}

func newHarness(t *testing.T, authEnabled bool) harness {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.Username = "operator"
	cfg.Auth.Password = "s3cret"
	cfg.Frontend.Dir = ""

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := jsonfile.New(filepath.Join(dir, "devices.json"), filepath.Join(dir, "locations.json"))
	require.NoError(t, err)
	reg, err := registry.Open(context.Background(), store, logger)
	require.NoError(t, err)

	pusher := &stubPusher{result: model.Completed(http.StatusOK, `{"success":1}`)}
	deviceSvc := service.NewDeviceService(reg, pusher, logger)
	authSvc := service.NewAuthService(cfg)
	return harness{srv: server.New(cfg, deviceSvc, authSvc, logger), pusher: pusher}
}

func (h harness) do(t *testing.T, method, path, body, bearer string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := h.srv.App().Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	var env envelope
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func (h harness) login(t *testing.T) string {
	t.Helper()
	resp, env := h.do(t, http.MethodPost, "/auth/login", `{"username":"operator","password":"s3cret"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, true)

	resp, env := h.do(t, http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.SuccessCode, env.Code)
	assert.JSONEq(t, `{"status":"ok","transport":"stub","devices":0}`, string(env.Data))
	assert.NotEmpty(t, resp.Header.Get(server.RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(server.RequestIDHeader, "req-123")

	resp, err := h.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "req-123", resp.Header.Get(server.RequestIDHeader))
}

func TestRegisterAndPing(t *testing.T) {
	h := newHarness(t, false)

	resp, env := h.do(t, http.MethodPost, "/register", `{"user":"alice","token":"tok_abcdefghijkl"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.SuccessCode, env.Code)

	resp, env = h.do(t, http.MethodPost, "/admin/devices/alice/ping", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ping dispatched", env.Msg)
	assert.JSONEq(t, `{"status_code":200,"response_text":"{\"success\":1}"}`, string(env.Data))
	assert.Equal(t, "tok_abcdefghijkl", h.pusher.token)
	assert.Equal(t, "locate", h.pusher.command)

	_, _ = h.do(t, http.MethodPost, "/admin/devices/alice/ping", `{"command":"ring"}`, "")
	assert.Equal(t, "ring", h.pusher.command)

	_, env = h.do(t, http.MethodGet, "/admin/devices", "", "")
	assert.JSONEq(t, `[{"user":"alice","token":"tok_abcdef..."}]`, string(env.Data))
}

func TestPing_FailedPushIsStillOK(t *testing.T) {
	h := newHarness(t, false)
	h.pusher.result = model.Failed("timeout")
	h.do(t, http.MethodPost, "/register", `{"user":"alice","token":"tok_a"}`, "")

	resp, env := h.do(t, http.MethodPost, "/admin/devices/alice/ping", "", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ping not delivered", env.Msg)
	assert.JSONEq(t, `{"error":"timeout"}`, string(env.Data))
}

func TestPing_UnknownUser(t *testing.T) {
	h := newHarness(t, false)

	resp, env := h.do(t, http.MethodPost, "/admin/devices/ghost/ping", "", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, model.ErrorCode, env.Code)
}

func TestRegister_BadRequests(t *testing.T) {
	h := newHarness(t, false)

	resp, _ := h.do(t, http.MethodPost, "/register", `{"user":"alice"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/register", `{"user":`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLocationFlow(t *testing.T) {
	h := newHarness(t, false)
	h.do(t, http.MethodPost, "/register", `{"user":"alice","token":"tok_a"}`, "")

	resp, _ := h.do(t, http.MethodPost, "/location", `{"token":"tok_a","latitude":52.5,"longitude":13.4,"timestamp":1731100000}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/location", `{"token":"tok_unknown","latitude":1,"longitude":1}`, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/location", `{"user":"alice","latitude":95,"longitude":1}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, env := h.do(t, http.MethodGet, "/admin/devices/alice/locations", "", "")
	var records []model.LocationRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].UserID)
	assert.Equal(t, int64(1731100000), records[0].Timestamp)

	_, env = h.do(t, http.MethodGet, "/admin/devices/bob/locations", "", "")
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestRemoveDevice(t *testing.T) {
	h := newHarness(t, false)
	h.do(t, http.MethodPost, "/register", `{"user":"alice","token":"tok_a"}`, "")

	resp, _ := h.do(t, http.MethodDelete, "/admin/devices/alice", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/admin/devices/alice", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/admin/devices/alice/ping", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRoutes_DecodeUserSegment(t *testing.T) {
	h := newHarness(t, false)
	resp, _ := h.do(t, http.MethodPost, "/register", `{"user":"alice smith","token":"tok_a"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h.do(t, http.MethodPost, "/location", `{"user":"alice smith","latitude":1,"longitude":2}`, "")

	resp, _ = h.do(t, http.MethodPost, "/admin/devices/alice%20smith/ping", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tok_a", h.pusher.token)

	_, env := h.do(t, http.MethodGet, "/admin/devices/alice%20smith/locations", "", "")
	var records []model.LocationRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	assert.Len(t, records, 1)

	resp, _ = h.do(t, http.MethodDelete, "/admin/devices/alice%20smith", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, env = h.do(t, http.MethodGet, "/admin/devices", "", "")
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestAdminRequiresLogin(t *testing.T) {
	h := newHarness(t, true)

	resp, _ := h.do(t, http.MethodGet, "/admin/summary", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/admin/summary", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/auth/login", `{"username":"operator","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := h.login(t)
	resp, env := h.do(t, http.MethodGet, "/admin/summary", "", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","transport":"stub","devices":0}`, string(env.Data))

	_, env = h.do(t, http.MethodGet, "/auth/profile", "", token)
	assert.JSONEq(t, `{"enabled":true,"username":"operator"}`, string(env.Data))
}
