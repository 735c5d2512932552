package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

const maxResponseBytes = 1 << 20

// Payload is the vendor-neutral content of a push. Timestamp is set by the
// Dispatcher at send time, never by the caller.
type Payload struct {
	Command   string
	Timestamp int64
}

// Data renders the payload as the string map FCM data messages require.
func (p Payload) Data() map[string]string {
	return map[string]string{
		"command":   p.Command,
		"timestamp": strconv.FormatInt(p.Timestamp, 10),
	}
}

// Response is the raw outcome of a completed exchange with the push backend.
type Response struct {
	StatusCode int
	Body       string
}

// Transport delivers one push to the backend. Implementations return a
// Response for every completed exchange, whatever its status, and an error
// only when no exchange happened.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, token string, payload Payload) (*Response, error)
}

// CredentialError reports that no usable backend credential was available,
// so nothing was sent.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return "credential acquisition failed: " + e.Err.Error()
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

func parseEndpoint(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("endpoint is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.Errorf("endpoint must be an absolute url: %q", raw)
	}
	return parsed.String(), nil
}

// postJSON sends body to endpoint and returns the response verbatim.
func postJSON(ctx context.Context, client *http.Client, endpoint string, body any, decorate func(*http.Request)) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	text, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	return &Response{StatusCode: resp.StatusCode, Body: string(text)}, nil
}
