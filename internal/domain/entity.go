package domain

// EntityType discriminates the kind of an entity. The set is closed: drop
// logic and grantee checks switch exhaustively over these values.
type EntityType int

// Entity type codes. Codes are persisted; never renumber.
const (
	TypeNull          EntityType = 0
	TypeRoot          EntityType = 1
	TypePrincipal     EntityType = 2
	TypePrincipalRole EntityType = 3
	TypeCatalog       EntityType = 4
	TypeCatalogRole   EntityType = 5
	TypeNamespace     EntityType = 6
	TypeTable         EntityType = 7
	TypeTask          EntityType = 8
	TypePolicy        EntityType = 9
)

// Entity subtype codes.
const (
	AnySubType   = -1
	NullSubType  = 0
	SubTypeTable = 2
	SubTypeView  = 3
)

// Well-known identities and names.
const (
	NullCatalogID = int64(0)
	RootEntityID  = int64(0)

	RootContainerName    = "root_container"
	RootPrincipalName    = "root"
	ServiceAdminRoleName = "service_admin"
	CatalogAdminRoleName = "catalog_admin"

	// Internal property keys.
	ClientIDProperty             = "client_id"
	RotationRequiredProperty     = "credential_rotation_required"
	StorageConfigInfoProperty    = "storage_config_info"
	StorageIntegrationIDProperty = "storage_integration_id"
)

func (t EntityType) String() string {
	switch t {
	case TypeRoot:
		return "root"
	case TypePrincipal:
		return "principal"
	case TypePrincipalRole:
		return "principal_role"
	case TypeCatalog:
		return "catalog"
	case TypeCatalogRole:
		return "catalog_role"
	case TypeNamespace:
		return "namespace"
	case TypeTable:
		return "table"
	case TypeTask:
		return "task"
	case TypePolicy:
		return "policy"
	default:
		return "null"
	}
}

// IsGrantee reports whether entities of this type can receive grants.
func (t EntityType) IsGrantee() bool {
	return t == TypePrincipal || t == TypePrincipalRole || t == TypeCatalogRole
}

// IsTopLevel reports whether entities of this type live directly under the
// root container.
func (t EntityType) IsTopLevel() bool {
	return t == TypeCatalog || t == TypePrincipal || t == TypePrincipalRole
}

// Entity is the universal node type: catalogs, namespaces, roles, principals,
// tasks and policies are all entities. Entities are value snapshots: fetched
// state is never mutated in place, changes go through Builder so the original
// snapshot can be handed to the store as the expected previous state.
type Entity struct {
	// CatalogID and ID form the globally unique identity.
	CatalogID int64
	ID        int64
	ParentID  int64

	TypeCode    int
	SubTypeCode int
	Name        string

	// EntityVersion is bumped on every content mutation (name, parent,
	// properties). GrantRecordsVersion is bumped whenever a grant record
	// referencing this entity is added or removed; the two counters are
	// independent.
	EntityVersion       int
	GrantRecordsVersion int

	// Properties and InternalProperties are JSON-serialized string maps.
	// Internal properties carry system bookkeeping invisible to the owner.
	Properties         string
	InternalProperties string

	CreateTimestamp     int64
	DropTimestamp       int64
	LastUpdateTimestamp int64
}

// NewEntity creates an entity snapshot with the mandatory identity fields.
func NewEntity(catalogID, id int64, typ EntityType, subTypeCode int, parentID int64, name string) Entity {
	return Entity{
		CatalogID:   catalogID,
		ID:          id,
		ParentID:    parentID,
		TypeCode:    int(typ),
		SubTypeCode: subTypeCode,
		Name:        name,
	}
}

// Type returns the typed kind of this entity.
func (e *Entity) Type() EntityType { return EntityType(e.TypeCode) }

// IsDropped reports whether the entity has been soft-deleted.
func (e *Entity) IsDropped() bool { return e.DropTimestamp != 0 }

// CannotBeDroppedOrRenamed marks protected system entities: the root
// container, the root principal and the service admin role.
func (e *Entity) CannotBeDroppedOrRenamed() bool {
	switch e.Type() {
	case TypeRoot:
		return true
	case TypePrincipal:
		return e.CatalogID == NullCatalogID && e.Name == RootPrincipalName
	case TypePrincipalRole:
		return e.CatalogID == NullCatalogID && e.Name == ServiceAdminRoleName
	default:
		return false
	}
}

// Core returns the identity projection used for path resolution.
func (e *Entity) Core() EntityCore {
	return EntityCore{
		CatalogID:     e.CatalogID,
		ID:            e.ID,
		ParentID:      e.ParentID,
		TypeCode:      e.TypeCode,
		Name:          e.Name,
		EntityVersion: e.EntityVersion,
	}
}

// EntityCore is the slice of an entity that callers carry around to name an
// ancestor chain: identity plus the version they observed.
type EntityCore struct {
	CatalogID     int64
	ID            int64
	ParentID      int64
	TypeCode      int
	Name          string
	EntityVersion int
}

// Type returns the typed kind of this entity core.
func (c EntityCore) Type() EntityType { return EntityType(c.TypeCode) }

// Builder returns a builder seeded with a copy of this entity.
func (e Entity) Builder() *EntityBuilder {
	return &EntityBuilder{e: e}
}

// EntityBuilder produces a new Entity value from an old one plus field
// updates. The source entity is never modified.
type EntityBuilder struct {
	e Entity
}

// Name sets the entity name.
func (b *EntityBuilder) Name(name string) *EntityBuilder {
	b.e.Name = name
	return b
}

// ParentID sets the containing entity id.
func (b *EntityBuilder) ParentID(id int64) *EntityBuilder {
	b.e.ParentID = id
	return b
}

// Properties sets the serialized user-visible properties.
func (b *EntityBuilder) Properties(props string) *EntityBuilder {
	b.e.Properties = props
	return b
}

// InternalProperties sets the serialized system bookkeeping properties.
func (b *EntityBuilder) InternalProperties(props string) *EntityBuilder {
	b.e.InternalProperties = props
	return b
}

// EntityVersion sets the optimistic-concurrency version.
func (b *EntityBuilder) EntityVersion(v int) *EntityBuilder {
	b.e.EntityVersion = v
	return b
}

// GrantRecordsVersion sets the grant-records version counter.
func (b *EntityBuilder) GrantRecordsVersion(v int) *EntityBuilder {
	b.e.GrantRecordsVersion = v
	return b
}

// DropTimestamp marks the entity dropped at the given time (unix millis).
func (b *EntityBuilder) DropTimestamp(ts int64) *EntityBuilder {
	b.e.DropTimestamp = ts
	return b
}

// LastUpdateTimestamp sets the last-update time (unix millis).
func (b *EntityBuilder) LastUpdateTimestamp(ts int64) *EntityBuilder {
	b.e.LastUpdateTimestamp = ts
	return b
}

// Build returns the assembled entity value.
func (b *EntityBuilder) Build() Entity { return b.e }

// WithGrantRecordsVersion returns a copy of the entity with only the
// grant-records version changed.
func (e Entity) WithGrantRecordsVersion(v int) Entity {
	return e.Builder().GrantRecordsVersion(v).Build()
}
