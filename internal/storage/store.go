// Copyright 2024 ViewFS Authors
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

// Package storage persists mount table links in a SQLite file so the CLI
// can add and remove mount points between runs.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"

	"viewfs/internal/common"
)

// ErrMountNotFound is returned when removing an unknown mount
var ErrMountNotFound = fmt.Errorf("mount not found: %w", os.ErrNotExist)

// MountStore is a SQLite-backed list of mount points plus free-form config
type MountStore struct {
	path  string
	db    *sql.DB
	bunDB *BunDB
}

// Create creates a new store file. It fails if the file exists.
func Create(path string, busyTimeout int) (*MountStore, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file already exists: %s", path)
	}

	db, err := openDB(path, busyTimeout)
	if err != nil {
		return nil, err
	}

	// execute statements individually for libsql compatibility
	if err := execStatements(db, storeSchema); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := execStatements(db, initStore, SchemaVersion, StoreType); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	log.Debugf("[Store] created %s", path)
	return &MountStore{path: path, db: db, bunDB: NewBunDB(db)}, nil
}

// Open opens an existing store file
func Open(path string, busyTimeout int) (*MountStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	db, err := openDB(path, busyTimeout)
	if err != nil {
		return nil, err
	}

	bunDB := NewBunDB(db)
	storeType, err := bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema info: %w", err)
	}
	if storeType != StoreType {
		db.Close()
		return nil, fmt.Errorf("not a mount table store (type=%s)", storeType)
	}

	return &MountStore{path: path, db: db, bunDB: bunDB}, nil
}

// OpenOrCreate opens path, creating the store if it does not exist
func OpenOrCreate(path string, busyTimeout int) (*MountStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Create(path, busyTimeout)
	}
	return Open(path, busyTimeout)
}

func openDB(path string, busyTimeout int) (*sql.DB, error) {
	timeout := GetBusyTimeout(busyTimeout)
	db, err := sql.Open("libsql", BuildDSN(path, timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := applyPragmas(db, timeout); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (s *MountStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the file path
func (s *MountStore) Path() string {
	return s.path
}

// BunDB returns the Bun database wrapper.
func (s *MountStore) BunDB() *BunDB {
	return s.bunDB
}

// AddMount stores a mount point, replacing an existing one with the same
// source. The source is normalized to an absolute clean path; "/" is the
// fallback link.
func (s *MountStore) AddMount(ctx context.Context, rec MountRecord) error {
	if len(rec.Targets) == 0 {
		return fmt.Errorf("mount %s: no targets", rec.Source)
	}
	if len(rec.Targets) == 1 && rec.Nfly != "" {
		return fmt.Errorf("mount %s: nfly settings need more than one target", rec.Source)
	}
	for _, t := range rec.Targets {
		u, err := url.Parse(t)
		if err != nil {
			return fmt.Errorf("mount %s: %w", rec.Source, err)
		}
		if u.Scheme == "" {
			return fmt.Errorf("mount %s: target %q has no scheme", rec.Source, t)
		}
	}
	source := common.CleanPath(rec.Source)
	if err := s.bunDB.ReplaceMount(ctx, source, rec.Targets, rec.Nfly); err != nil {
		return err
	}
	log.Infof("[Store] mount %s -> %v", source, rec.Targets)
	return nil
}

// RemoveMount removes a mount point by source path
func (s *MountStore) RemoveMount(ctx context.Context, source string) error {
	source = common.CleanPath(source)
	rows, err := s.bunDB.DeleteMount(ctx, source)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrMountNotFound, source)
	}
	log.Infof("[Store] unmount %s", source)
	return nil
}

// GetMount returns one mount point. Unknown sources return ErrMountNotFound.
func (s *MountStore) GetMount(ctx context.Context, source string) (*MountRecord, error) {
	source = common.CleanPath(source)
	m, err := s.bunDB.GetMount(ctx, source)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMountNotFound, source)
	}
	return m.ToMountRecord(), nil
}

// ListMounts returns every stored mount point sorted by source
func (s *MountStore) ListMounts(ctx context.Context) ([]MountRecord, error) {
	models, err := s.bunDB.ListMounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MountRecord, len(models))
	for i := range models {
		out[i] = *models[i].ToMountRecord()
	}
	return out, nil
}

// GetConfig gets a config value; missing keys return ""
func (s *MountStore) GetConfig(ctx context.Context, key string) (string, error) {
	return s.bunDB.GetConfigValue(ctx, key)
}

// SetConfig sets a config value
func (s *MountStore) SetConfig(ctx context.Context, key, value string) error {
	return s.bunDB.SetConfigValue(ctx, key, value)
}

// IsMountNotFound reports whether err came from an unknown mount
func IsMountNotFound(err error) bool {
	return errors.Is(err, ErrMountNotFound)
}
