package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/storage"
)

var _ storage.Store = (*Store)(nil)

var (
	bucketDevices   = []byte("devices")
	bucketLocations = []byte("locations")
)

// Store is a BoltDB-backed Store implementation.
type Store struct {
	db *bolt.DB
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDevices); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketLocations)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &Store{db: db}, nil
}

// Close closes underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadDevices reads the devices bucket in key order, which is insertion order.
func (s *Store) LoadDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var devices []model.DeviceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDevices)
		return bkt.ForEach(func(k, v []byte) error {
			var device model.DeviceRecord
			if err := json.Unmarshal(v, &device); err != nil {
				return errors.Wrapf(storage.ErrCorrupt, "device %x: %v", k, err)
			}
			devices = append(devices, device)
			return nil
		})
	})
	return devices, err
}

// SaveDevices rewrites the devices bucket in a single transaction.
func (s *Store) SaveDevices(ctx context.Context, devices []model.DeviceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDevices) != nil {
			if err := tx.DeleteBucket(bucketDevices); err != nil {
				return err
			}
		}
		bkt, err := tx.CreateBucket(bucketDevices)
		if err != nil {
			return err
		}
		for i, device := range devices {
			payload, err := json.Marshal(device)
			if err != nil {
				return err
			}
			if err := bkt.Put(seqKey(uint64(i)), payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendLocation stores a location report under the user's history bucket.
func (s *Store) AppendLocation(ctx context.Context, record model.LocationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.Bucket(bucketLocations).CreateBucketIfNotExists([]byte(record.UserID))
		if err != nil {
			return err
		}
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		return bkt.Put(seqKey(id), payload)
	})
}

// ListLocations returns a user's history, oldest first.
func (s *Store) ListLocations(ctx context.Context, userID string) ([]model.LocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := []model.LocationRecord{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketLocations).Bucket([]byte(userID))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(_, v []byte) error {
			var record model.LocationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return errors.Wrapf(storage.ErrCorrupt, "location for %s: %v", userID, err)
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

func seqKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
