package registry

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
)

// ReportLocation appends a location report to its user's history.
//
// The report identifies the device by UserID or, failing that, by Token.
// Either way the device must currently be registered. A zero Timestamp
// defaults to the time of receipt; ReceivedAt is always set here.
func (r *Registry) ReportLocation(ctx context.Context, report model.LocationRecord) (model.LocationRecord, error) {
	userID := strings.TrimSpace(report.UserID)
	token := strings.TrimSpace(report.Token)

	r.mu.RLock()
	switch {
	case userID != "":
		current, ok := r.tokens[userID]
		if !ok {
			r.mu.RUnlock()
			return model.LocationRecord{}, errors.Wrapf(ErrNotFound, "user %q", userID)
		}
		if token == "" {
			token = current
		}
	case token != "":
		for _, candidate := range r.order {
			if r.tokens[candidate] == token {
				userID = candidate
				break
			}
		}
		if userID == "" {
			r.mu.RUnlock()
			return model.LocationRecord{}, errors.Wrap(ErrNotFound, "token")
		}
	default:
		r.mu.RUnlock()
		return model.LocationRecord{}, errors.Wrap(ErrInvalidArgument, "user or token is required")
	}
	r.mu.RUnlock()

	now := r.now()
	record := model.LocationRecord{
		UserID:     userID,
		Token:      token,
		Latitude:   report.Latitude,
		Longitude:  report.Longitude,
		Timestamp:  report.Timestamp,
		ReceivedAt: now.UTC(),
	}
	if record.Timestamp == 0 {
		record.Timestamp = now.Unix()
	}
	if err := r.store.AppendLocation(ctx, record); err != nil {
		return model.LocationRecord{}, errors.Wrap(err, "append location")
	}
	r.logger.Debug("location stored", "user", userID)
	return record, nil
}

// Locations returns the stored history for userID, oldest first. History
// outlives deregistration, so unknown users simply have none.
func (r *Registry) Locations(ctx context.Context, userID string) ([]model.LocationRecord, error) {
	records, err := r.store.ListLocations(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, errors.Wrap(err, "list locations")
	}
	return records, nil
}
