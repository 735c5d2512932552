// Package dispatch sends commands to devices through a push backend.
//
// A Dispatcher wraps exactly one Transport, chosen at startup, and turns
// every outcome into a model.DispatchResult: either the backend's raw
// status and body, or an error string. Nothing is returned as a Go error
// and nothing panics past Send.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
)

// DefaultTimeout bounds a single Send, credential acquisition included.
const DefaultTimeout = 10 * time.Second

// Dispatcher builds payloads and hands them to the active Transport.
type Dispatcher struct {
	transport Transport
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Dispatcher. A non-positive timeout selects DefaultTimeout.
func New(transport Transport, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		transport: transport,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger.With("component", "dispatcher", "transport", transport.Name()),
	}
}

// Transport reports the name of the active transport.
func (d *Dispatcher) Transport() string {
	return d.transport.Name()
}

// Send pushes command to the device holding token.
//
// The caller's cancellation is not propagated; the call always runs to a
// result or to the dispatcher's own timeout.
func (d *Dispatcher) Send(ctx context.Context, token, command string) model.DispatchResult {
	token = strings.TrimSpace(token)
	command = strings.TrimSpace(command)
	if token == "" {
		return model.Failed("token is required")
	}
	if command == "" {
		return model.Failed("command is required")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	payload := Payload{Command: command, Timestamp: d.now().Unix()}
	start := time.Now()
	resp, err := d.deliver(ctx, token, payload)

	var result model.DispatchResult
	if err != nil {
		result = model.Failed(describe(ctx, err))
		d.logger.Warn("push failed",
			"token", maskToken(token),
			"command", command,
			"error", result.Error,
			"elapsed", time.Since(start))
		return result
	}
	result = model.Completed(resp.StatusCode, resp.Body)
	d.logger.Info("push sent",
		"token", maskToken(token),
		"command", command,
		"status", resp.StatusCode,
		"elapsed", time.Since(start))
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, token string, payload Payload) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("transport panic: %v", r)
		}
	}()
	resp, err = d.transport.Deliver(ctx, token, payload)
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	return resp, err
}

func describe(ctx context.Context, err error) string {
	var credErr *CredentialError
	if errors.As(err, &credErr) {
		return credErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return err.Error()
}

func maskToken(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}
