package storage

import "github.com/pkg/errors"

// ErrCorrupt indicates a persisted document could not be decoded.
var ErrCorrupt = errors.New("corrupt store")
