// Package store provides the SQLite-backed configuration store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/veles-ai/veles/internal/config"
)

const (
	defaultBusyTimeout = 5 * time.Second
	openTimeout        = 5 * time.Second
)

// Options describes parameters for opening a configuration store.
type Options struct {
	InstanceName string // Logical instance name (defaults to config.DefaultInstance)
	ProfileName  string // Profile within instance (defaults to config.DefaultProfile)
	DBPath       string // Optional override for config.db path (primarily for tests)
	ReadOnly     bool   // Open database in read-only mode
}

// Store provides access to the configuration database.
type Store struct {
	db       *sql.DB
	instance string
	profile  string
	path     string
	readOnly bool
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open initialises the configuration store for the given instance/profile.
// A fresh database gets the schema and seeded defaults; reopening is cheap.
func Open(opts Options) (*Store, error) {
	if opts.InstanceName == "" {
		opts.InstanceName = config.DefaultInstance
	}
	if opts.ProfileName == "" {
		opts.ProfileName = config.DefaultProfile
	}

	path := opts.DBPath
	if path == "" {
		dirs, err := config.EnsureInstanceDirs(opts.InstanceName)
		if err != nil {
			return nil, fmt.Errorf("config: ensure instance directories: %w", err)
		}
		path = dirs.ConfigDB
	}

	dsn := path
	if opts.ReadOnly {
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite store: %w", err)
	}
	// Serialize writers through a single connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	setup := func() error {
		if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
			return err
		}
		if opts.ReadOnly {
			return nil
		}
		if err := applySchema(ctx, db); err != nil {
			return err
		}
		return seedDefaults(ctx, db, opts.InstanceName, opts.ProfileName)
	}
	if err := setup(); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		instance: opts.InstanceName,
		profile:  opts.ProfileName,
		path:     path,
		readOnly: opts.ReadOnly,
	}, nil
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InstanceName returns the logical instance associated with the store.
func (s *Store) InstanceName() string {
	return s.instance
}

// ProfileName returns the active profile associated with the store.
func (s *Store) ProfileName() string {
	return s.profile
}

// Path returns the filesystem path of the backing database.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("config: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
