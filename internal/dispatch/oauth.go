package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// MessagingScope is the OAuth2 scope required by the FCM HTTP v1 API.
const MessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

const v1EndpointFormat = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

// OAuthTransport talks to the FCM HTTP v1 API with short-lived bearer
// tokens minted from a service account key.
type OAuthTransport struct {
	endpoint string
	tokens   oauth2.TokenSource
	http     *http.Client
}

var _ Transport = (*OAuthTransport)(nil)

type v1Request struct {
	Message v1Message `json:"message"`
}

type v1Message struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data"`
	Android v1Android         `json:"android"`
	APNS    v1APNS            `json:"apns"`
}

type v1Android struct {
	Priority string `json:"priority"`
}

type v1APNS struct {
	Headers map[string]string `json:"headers"`
}

// ServiceAccount is the subset of a service account key file read here.
type ServiceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
}

// ReadServiceAccount loads a service account key file and returns its
// identity fields alongside the raw JSON.
func ReadServiceAccount(path string) (*ServiceAccount, []byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, errors.New("credentials file is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read credentials file")
	}
	var account ServiceAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, nil, errors.Wrap(err, "decode credentials file")
	}
	return &account, raw, nil
}

// NewOAuth builds a transport from a service account key file. projectID
// overrides the project named in the file; endpoint overrides the v1 URL.
func NewOAuth(credentialsFile, projectID, endpoint string, timeout time.Duration) (*OAuthTransport, error) {
	account, raw, err := ReadServiceAccount(credentialsFile)
	if err != nil {
		return nil, err
	}
	jwtCfg, err := google.JWTConfigFromJSON(raw, MessagingScope)
	if err != nil {
		return nil, errors.Wrap(err, "parse service account")
	}
	if projectID == "" {
		projectID = account.ProjectID
	}
	client := &http.Client{Timeout: timeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	return NewOAuthWithTokenSource(projectID, endpoint, jwtCfg.TokenSource(tokenCtx), timeout)
}

// NewOAuthWithTokenSource builds a transport around an existing token
// source. An empty endpoint is derived from projectID.
func NewOAuthWithTokenSource(projectID, endpoint string, tokens oauth2.TokenSource, timeout time.Duration) (*OAuthTransport, error) {
	if endpoint == "" {
		if strings.TrimSpace(projectID) == "" {
			return nil, errors.New("project id is required")
		}
		endpoint = fmt.Sprintf(v1EndpointFormat, projectID)
	}
	parsed, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	return &OAuthTransport{
		endpoint: parsed,
		tokens:   tokens,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

func (t *OAuthTransport) Name() string { return "oauth" }

// Deliver mints (or reuses) a bearer token, then posts the message.
func (t *OAuthTransport) Deliver(ctx context.Context, token string, payload Payload) (*Response, error) {
	bearer, err := t.mintToken(ctx)
	if err != nil {
		return nil, err
	}
	body := v1Request{Message: v1Message{
		Token:   token,
		Data:    payload.Data(),
		Android: v1Android{Priority: "HIGH"},
		APNS:    v1APNS{Headers: map[string]string{"apns-priority": "10"}},
	}}
	return postJSON(ctx, t.http, t.endpoint, body, bearer.SetAuthHeader)
}

// mintToken fetches a bearer token from the token source, giving up once
// ctx is done. A token source failure is a CredentialError.
func (t *OAuthTransport) mintToken(ctx context.Context) (*oauth2.Token, error) {
	type minted struct {
		token *oauth2.Token
		err   error
	}
	ch := make(chan minted, 1)
	go func() {
		token, err := t.tokens.Token()
		ch <- minted{token: token, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-ch:
		if m.err != nil {
			return nil, &CredentialError{Err: m.err}
		}
		if !m.token.Valid() {
			return nil, &CredentialError{Err: errors.New("token source returned an invalid token")}
		}
		return m.token, nil
	}
}
