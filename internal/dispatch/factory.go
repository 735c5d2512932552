package dispatch

import (
	"context"

	"github.com/pkg/errors"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/config"
)

// NewTransport builds the transport named by cfg.Push.Transport.
func NewTransport(ctx context.Context, cfg *config.Config) (Transport, error) {
	push := cfg.Push
	switch push.Transport {
	case config.TransportLegacy:
		t, err := NewLegacy(push.Endpoint, push.ServerKey, push.RequestTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "legacy transport")
		}
		return t, nil
	case config.TransportOAuth:
		t, err := NewOAuth(push.CredentialsFile, push.ProjectID, push.Endpoint, push.RequestTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "oauth transport")
		}
		return t, nil
	case config.TransportSDK:
		t, err := NewSDK(ctx, push.CredentialsFile, push.ProjectID)
		if err != nil {
			return nil, errors.Wrap(err, "sdk transport")
		}
		return t, nil
	default:
		return nil, errors.Errorf("unknown push transport %q", push.Transport)
	}
}
