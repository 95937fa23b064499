package domain

import (
	"strings"

	"github.com/google/uuid"
)

// EntityID is the globally unique (catalogId, id) pair naming an entity.
type EntityID struct {
	CatalogID int64
	ID        int64
}

// ChangeTracking carries the pair of version counters used for incremental
// refresh of cached entities.
type ChangeTracking struct {
	EntityVersion       int
	GrantRecordsVersion int
}

// EntityNameRecord is the by-name lookup projection: just enough identity to
// report a name collision without loading the full row.
type EntityNameRecord struct {
	CatalogID   int64
	ID          int64
	ParentID    int64
	TypeCode    int
	SubTypeCode int
	Name        string
}

// NewClientID generates a random client identifier for principal secrets.
func NewClientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewSecret generates a random principal secret.
func NewSecret() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
