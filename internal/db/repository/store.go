// Package repository implements the metastore persistence port using SQLite.
//
// A Store hands out Sessions, each bound to one SQL transaction. Every public
// operation of the core opens a session, performs its conditional reads and
// writes through it, and either commits or rolls back; nothing is ever
// persisted outside a session.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"metalake/internal/db/crypto"
	"metalake/internal/domain"
)

// Store is the entry point to metastore persistence. It owns the write and
// read connection pools and the optional encryptor for storage-integration
// configuration at rest.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	enc     *crypto.Encryptor
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEncryptor makes the store encrypt storage-integration configuration.
func WithEncryptor(enc *crypto.Encryptor) Option {
	return func(s *Store) { s.enc = enc }
}

// NewStore creates a Store over the given write/read pool pair.
func NewStore(writeDB, readDB *sql.DB, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		writeDB: writeDB,
		readDB:  readDB,
		logger:  logger.With("component", "metastore-repo"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session is a unit of work bound to a single transaction. Sessions are not
// safe for concurrent use.
type Session struct {
	tx       *sql.Tx
	readOnly bool
	enc      *crypto.Encryptor
	done     bool
}

// BeginRead opens a read-only session on the read pool.
func (s *Store) BeginRead(ctx context.Context) (*Session, error) {
	tx, err := s.readDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read transaction: %w", err)
	}
	return &Session{tx: tx, readOnly: true, enc: s.enc}, nil
}

// BeginReadWrite opens a read-write session on the single-writer pool.
func (s *Store) BeginReadWrite(ctx context.Context) (*Session, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read-write transaction: %w", err)
	}
	return &Session{tx: tx, enc: s.enc}, nil
}

// Commit commits the session's transaction.
func (s *Session) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Commit()
}

// Rollback aborts the session's transaction. Safe to call after Commit, so it
// can be deferred unconditionally.
func (s *Session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (s *Session) requireWritable() error {
	if s.readOnly {
		return domain.ErrValidation("write attempted in a read-only session")
	}
	return nil
}

// GenerateID allocates a new unique entity id within the current transaction.
func (s *Session) GenerateID(ctx context.Context) (int64, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	res, err := s.tx.ExecContext(ctx, `INSERT INTO id_generator DEFAULT VALUES`)
	if err != nil {
		return 0, fmt.Errorf("generate id: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

// DeleteAll removes every row from every metastore table. Used by purge.
func (s *Session) DeleteAll(ctx context.Context) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	for _, table := range []string{
		"entities_active",
		"entities_dropped",
		"grant_records",
		"policy_mapping_records",
		"principal_secrets",
		"storage_integrations",
	} {
		if _, err := s.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &domain.ConflictError{Message: "resource already exists"}
	}
	return err
}
