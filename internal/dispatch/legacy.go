package dispatch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LegacyEndpoint is the FCM legacy HTTP send API.
const LegacyEndpoint = "https://fcm.googleapis.com/fcm/send"

// LegacyTransport authenticates with a static server key.
type LegacyTransport struct {
	endpoint  string
	serverKey string
	http      *http.Client
}

var _ Transport = (*LegacyTransport)(nil)

type legacyRequest struct {
	To       string     `json:"to"`
	Priority string     `json:"priority"`
	Data     legacyData `json:"data"`
}

type legacyData struct {
	Command   string `json:"command"`
	Timestamp int64  `json:"timestamp"`
}

// NewLegacy builds a legacy transport. An empty endpoint selects
// LegacyEndpoint. A missing server key is reported per push, not here.
func NewLegacy(endpoint, serverKey string, timeout time.Duration) (*LegacyTransport, error) {
	if endpoint == "" {
		endpoint = LegacyEndpoint
	}
	parsed, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return &LegacyTransport{
		endpoint:  parsed,
		serverKey: strings.TrimSpace(serverKey),
		http:      &http.Client{Timeout: timeout},
	}, nil
}

func (t *LegacyTransport) Name() string { return "legacy" }

// Deliver posts a high priority data message to the legacy endpoint.
func (t *LegacyTransport) Deliver(ctx context.Context, token string, payload Payload) (*Response, error) {
	if t.serverKey == "" {
		return nil, &CredentialError{Err: errors.New("server key not configured")}
	}
	body := legacyRequest{
		To:       token,
		Priority: "high",
		Data: legacyData{
			Command:   payload.Command,
			Timestamp: payload.Timestamp,
		},
	}
	return postJSON(ctx, t.http, t.endpoint, body, func(req *http.Request) {
		req.Header.Set("Authorization", "key="+t.serverKey)
	})
}
