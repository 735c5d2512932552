// Package jsonfile persists the registry as plain JSON documents on disk.
//
// The device mapping is a single object of user to token whose key order
// is kept across reads and writes. Location history lives in a second
// document keyed by user. Every write replaces the target file through a
// temp file and an atomic rename.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/model"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is a file-backed Store implementation.
type Store struct {
	devicesPath   string
	locationsPath string
	logger        *slog.Logger

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report recoverable document damage.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New prepares the data directories for both documents. Files are created
// on first write.
func New(devicesPath, locationsPath string, opts ...Option) (*Store, error) {
	for _, p := range []string{devicesPath, locationsPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, errors.Wrap(err, "create data dir")
		}
	}
	s := &Store{devicesPath: devicesPath, locationsPath: locationsPath, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "jsonfile")
	return s, nil
}

// Close is a no-op; files are not held open between calls.
func (s *Store) Close() error {
	return nil
}

// LoadDevices decodes the device document preserving key order. A missing
// file is an empty registry.
func (s *Store) LoadDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.devicesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", s.devicesPath)
	}
	devices, err := decodeOrdered(raw)
	if err != nil {
		return nil, errors.Wrapf(storage.ErrCorrupt, "%s: %v", s.devicesPath, err)
	}
	return devices, nil
}

// SaveDevices writes the full mapping as one JSON object.
func (s *Store) SaveDevices(ctx context.Context, devices []model.DeviceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeOrdered(devices)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.devicesPath, payload)
}

// AppendLocation adds record to the end of its user's history.
func (s *Store) AppendLocation(ctx context.Context, record model.LocationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.readLocations()
	if err != nil {
		return err
	}
	history[record.UserID] = append(history[record.UserID], record)
	payload, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.locationsPath, payload)
}

// ListLocations returns a user's history, oldest first.
func (s *Store) ListLocations(ctx context.Context, userID string) ([]model.LocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.readLocations()
	if err != nil {
		return nil, err
	}
	records := history[userID]
	if records == nil {
		records = []model.LocationRecord{}
	}
	return records, nil
}

// readLocations loads the history document. A damaged document is logged
// and read as empty so the next append replaces it.
func (s *Store) readLocations() (map[string][]model.LocationRecord, error) {
	history := make(map[string][]model.LocationRecord)
	raw, err := os.ReadFile(s.locationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return history, nil
		}
		return nil, errors.Wrapf(err, "read %s", s.locationsPath)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return history, nil
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		s.logger.Warn("location history unreadable, starting empty",
			"path", s.locationsPath,
			"err", errors.Wrap(storage.ErrCorrupt, err.Error()))
		return make(map[string][]model.LocationRecord), nil
	}
	return history, nil
}

func decodeOrdered(raw []byte) ([]model.DeviceRecord, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected a JSON object")
	}
	var (
		devices []model.DeviceRecord
		index   = make(map[string]int)
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		user, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("unexpected key %v", tok)
		}
		var token string
		if err := dec.Decode(&token); err != nil {
			return nil, errors.Wrapf(err, "token for %q", user)
		}
		if i, seen := index[user]; seen {
			devices[i].Token = token
			continue
		}
		index[user] = len(devices)
		devices = append(devices, model.DeviceRecord{UserID: user, Token: token})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	return devices, nil
}

func encodeOrdered(devices []model.DeviceRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, device := range devices {
		key, err := json.Marshal(device.UserID)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(device.Token)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(value)
	}
	if len(devices) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrapf(err, "write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrapf(err, "sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrapf(err, "close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.Wrapf(err, "rename into %s", path)
	}
	return nil
}
