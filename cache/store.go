// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache persists the network tree cache and decides when it is
// worth writing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gohugoio/hashstructure"

	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

// ErrUnknownDriver is returned by Open for an unsupported store driver
var ErrUnknownDriver = errors.New("cache: unknown driver")

// Blob is the persisted content: the device list and the point cache
type Blob struct {
	DeviceList []*registry.Device `json:"deviceList"`
	PointList  model.Snapshot     `json:"pointList"`
}

// Empty reports whether the blob holds nothing
func (b Blob) Empty() bool {
	return len(b.DeviceList) == 0 && len(b.PointList) == 0
}

// ContentHash hashes the blob ignoring volatile timestamps
func ContentHash(b Blob) (uint64, error) {
	return hashstructure.Hash(b, nil)
}

// Store saves and loads the cache blob
type Store interface {
	Save(ctx context.Context, b Blob) error
	// Load returns an empty blob when nothing was stored or the stored
	// content cannot be parsed
	Load(ctx context.Context) (Blob, error)
	Close() error
}

// Open returns the store for driver ("file" or "sqlite") at path
func Open(driver, path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case "", "file":
		return NewFileStore(path, logger), nil
	case "sqlite":
		return NewSQLiteStore(path, logger)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}

func decodeBlob(data []byte, logger *slog.Logger, source string) Blob {
	var b Blob
	if len(data) == 0 {
		return b
	}
	if err := json.Unmarshal(data, &b); err != nil {
		logger.Warn("ignoring unreadable cache",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return Blob{}
	}
	return b
}

// FileStore keeps the blob in a JSON file
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore returns a store writing to path
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Save writes the blob through a temporary file and a rename
func (s *FileStore) Save(_ context.Context, b Blob) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// Load reads the file. A missing file gives an empty blob.
func (s *FileStore) Load(_ context.Context) (Blob, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Blob{}, nil
	}
	if err != nil {
		return Blob{}, fmt.Errorf("cache: %w", err)
	}
	return decodeBlob(data, s.logger, s.path), nil
}

// Close is a no-op
func (s *FileStore) Close() error { return nil }
