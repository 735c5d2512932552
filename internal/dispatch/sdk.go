package dispatch

import (
	"context"
	"io"
	"net/http"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// MessagingClient is the part of *messaging.Client used here.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// SDKTransport delegates authentication and delivery to the Firebase
// Admin SDK.
type SDKTransport struct {
	client MessagingClient
}

var _ Transport = (*SDKTransport)(nil)

// NewSDK initialises a Firebase app from a service account file.
func NewSDK(ctx context.Context, credentialsFile, projectID string) (*SDKTransport, error) {
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, errors.Wrap(err, "initialize firebase app")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get messaging client")
	}
	return NewSDKWithClient(client), nil
}

// NewSDKWithClient wraps an existing messaging client.
func NewSDKWithClient(client MessagingClient) *SDKTransport {
	return &SDKTransport{client: client}
}

func (t *SDKTransport) Name() string { return "sdk" }

// Deliver sends through the SDK. A successful send is reported as 200 with
// the message name as body; SDK errors carrying an HTTP response are
// reported with that response.
func (t *SDKTransport) Deliver(ctx context.Context, token string, payload Payload) (*Response, error) {
	msg := &messaging.Message{
		Token:   token,
		Data:    payload.Data(),
		Android: &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
	name, err := t.client.Send(ctx, msg)
	if err == nil {
		return &Response{StatusCode: http.StatusOK, Body: name}, nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return nil, &CredentialError{Err: err}
	}
	if resp := errorutils.HTTPResponse(err); resp != nil {
		text := err.Error()
		if resp.Body != nil {
			if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes)); readErr == nil && len(raw) > 0 {
				text = string(raw)
			}
		}
		return &Response{StatusCode: resp.StatusCode, Body: text}, nil
	}
	return nil, err
}
