// Package registry keeps the user to push token mapping and the location
// history reported by registered devices.
//
// All mutations are serialised behind a single lock that is held across
// the in-memory change and the durable write, so concurrent registrations
// never lose each other's updates.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/storage"
)

var (
	// ErrNotFound indicates the user (or token) is not registered.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates a required field was empty.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Registry is the single writer for the persisted device mapping.
type Registry struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	order  []string
	tokens map[string]string
}

// Open loads the persisted mapping. An unreadable or corrupt store is
// logged and treated as empty; the next write replaces it.
func Open(ctx context.Context, store storage.Store, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		store:  store,
		logger: logger.With("component", "registry"),
		now:    time.Now,
		tokens: make(map[string]string),
	}
	devices, err := store.LoadDevices(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("device store unreadable, starting empty", "err", err)
		return r, nil
	}
	for _, device := range devices {
		if _, seen := r.tokens[device.UserID]; !seen {
			r.order = append(r.order, device.UserID)
		}
		r.tokens[device.UserID] = device.Token
	}
	r.logger.Info("registry loaded", "devices", len(r.order))
	return r, nil
}

// Upsert registers token for userID, silently replacing any previous token.
func (r *Registry) Upsert(ctx context.Context, userID, token string) error {
	userID = strings.TrimSpace(userID)
	token = strings.TrimSpace(token)
	if userID == "" || token == "" {
		return errors.Wrap(ErrInvalidArgument, "user and token are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.tokens[userID]
	if existed && prev == token {
		return nil
	}
	r.tokens[userID] = token
	if !existed {
		r.order = append(r.order, userID)
	}
	if err := r.persist(ctx); err != nil {
		if existed {
			r.tokens[userID] = prev
		} else {
			delete(r.tokens, userID)
			r.order = r.order[:len(r.order)-1]
		}
		return err
	}
	r.logger.Info("device registered", "user", userID, "replaced", existed)
	return nil
}

// Remove deregisters userID. Removing an unknown user is a no-op.
func (r *Registry) Remove(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.tokens[userID]
	if !existed {
		return nil
	}
	idx := indexOf(r.order, userID)
	delete(r.tokens, userID)
	r.order = append(r.order[:idx:idx], r.order[idx+1:]...)
	if err := r.persist(ctx); err != nil {
		r.tokens[userID] = prev
		r.order = append(r.order[:idx], append([]string{userID}, r.order[idx:]...)...)
		return err
	}
	r.logger.Info("device removed", "user", userID)
	return nil
}

// List returns every registration in insertion order.
func (r *Registry) List(_ context.Context) []model.DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

// Lookup returns the current token for userID or ErrNotFound.
func (r *Registry) Lookup(_ context.Context, userID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[strings.TrimSpace(userID)]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "user %q", userID)
	}
	return token, nil
}

// LookupByToken returns the user currently holding token or ErrNotFound.
func (r *Registry) LookupByToken(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, userID := range r.order {
		if r.tokens[userID] == token {
			return userID, nil
		}
	}
	return "", errors.Wrap(ErrNotFound, "token")
}

// Len reports the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// persist must be called with mu held for writing.
func (r *Registry) persist(ctx context.Context) error {
	if err := r.store.SaveDevices(ctx, r.snapshot()); err != nil {
		return errors.Wrap(err, "persist devices")
	}
	return nil
}

func (r *Registry) snapshot() []model.DeviceRecord {
	devices := make([]model.DeviceRecord, 0, len(r.order))
	for _, userID := range r.order {
		devices = append(devices, model.DeviceRecord{UserID: userID, Token: r.tokens[userID]})
	}
	return devices
}

func indexOf(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}
