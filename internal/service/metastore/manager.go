// Package metastore implements the transactional core of the metadata
// catalog: entity lifecycle, grant and policy management, principal
// credentials, and task leasing. Every public operation runs in its own
// transaction and reports its outcome as a tagged status; errors are reserved
// for storage failures.
package metastore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"metalake/internal/db/repository"
	"metalake/internal/domain"
)

// CredentialVendor produces subscoped credentials from a catalog's storage
// configuration. Implementations talk to cloud credential services; the core
// only resolves the integration and delegates.
type CredentialVendor interface {
	ScopedCredentials(ctx context.Context, integ domain.StorageIntegration, allowListOperation bool, allowedReadLocations, allowedWriteLocations []string) (map[string]string, error)
}

// Manager is the transactional metastore core.
type Manager struct {
	store       *repository.Store
	logger      *slog.Logger
	clock       func() time.Time
	taskTimeout time.Duration
	vendor      CredentialVendor
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithTaskTimeout overrides the task lease timeout.
func WithTaskTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.taskTimeout = timeout }
}

// WithCredentialVendor attaches a credential vendor for subscoped credentials.
func WithCredentialVendor(vendor CredentialVendor) Option {
	return func(m *Manager) { m.vendor = vendor }
}

// NewManager creates a Manager over the given store.
func NewManager(store *repository.Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		logger:      logger.With("component", "metastore"),
		clock:       time.Now,
		taskTimeout: domain.DefaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) now() int64 { return m.clock().UnixMilli() }

// persistNewEntity finalizes and inserts a new entity: it allocates an id if
// none was set, stamps creation times, and starts both version counters at 1.
func (m *Manager) persistNewEntity(ctx context.Context, sess *repository.Session, e *domain.Entity) error {
	if e.ID == 0 && e.TypeCode != int(domain.TypeRoot) {
		id, err := sess.GenerateID(ctx)
		if err != nil {
			return err
		}
		e.ID = id
	}
	ts := m.now()
	e.CreateTimestamp = ts
	e.LastUpdateTimestamp = ts
	e.DropTimestamp = 0
	e.EntityVersion = 1
	e.GrantRecordsVersion = 1
	if e.Properties == "" {
		e.Properties = "{}"
	}
	if e.InternalProperties == "" {
		e.InternalProperties = "{}"
	}
	return sess.WriteEntity(ctx, *e, true, nil)
}

// persistEntityAfterChange writes a content mutation of an entity: the entity
// version is bumped past the original's and the write is conditional on the
// original still being current.
func (m *Manager) persistEntityAfterChange(ctx context.Context, sess *repository.Session, e domain.Entity, nameOrParentChanged bool, original domain.Entity) (domain.Entity, error) {
	e.EntityVersion = original.EntityVersion + 1
	e.LastUpdateTimestamp = m.now()
	if err := sess.WriteEntity(ctx, e, nameOrParentChanged, &original); err != nil {
		return domain.Entity{}, err
	}
	return e, nil
}

// bumpGrantRecordsVersion re-reads an entity and advances its grant-records
// version by one, leaving the entity version untouched. A grant record always
// points at live endpoints, so a vanished entity here is corruption and
// surfaces as an InvariantError.
func (m *Manager) bumpGrantRecordsVersion(ctx context.Context, sess *repository.Session, catalogID, id int64) (*domain.Entity, error) {
	e, err := sess.LookupEntity(ctx, catalogID, id, 0)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, domain.ErrInvariant("grant endpoint (%d, %d) not found", catalogID, id)
	}
	updated := e.WithGrantRecordsVersion(e.GrantRecordsVersion + 1)
	updated.LastUpdateTimestamp = m.now()
	if err := sess.WriteEntity(ctx, updated, false, e); err != nil {
		return nil, err
	}
	return &updated, nil
}

func isConflict(err error) bool {
	var conflict *domain.ConflictError
	return errors.As(err, &conflict)
}

func isNotFound(err error) bool {
	var notFound *domain.NotFoundError
	return errors.As(err, &notFound)
}
