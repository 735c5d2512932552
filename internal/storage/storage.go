package storage

import (
	"context"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
)

// Store persists registry snapshots and location history.
type Store interface {
	// LoadDevices returns every device in insertion order.
	LoadDevices(ctx context.Context) ([]model.DeviceRecord, error)
	// SaveDevices replaces the persisted mapping with devices.
	SaveDevices(ctx context.Context, devices []model.DeviceRecord) error
	AppendLocation(ctx context.Context, record model.LocationRecord) error
	ListLocations(ctx context.Context, userID string) ([]model.LocationRecord, error)
	Close() error
}
