package domain

// Privilege identifies a grantable right. Codes are persisted; never renumber.
type Privilege int

const (
	PrivServiceManageAccess   Privilege = 1
	PrivCatalogManageAccess   Privilege = 2
	PrivCatalogManageMetadata Privilege = 3
	PrivCatalogRoleUsage      Privilege = 4
	PrivPrincipalRoleUsage    Privilege = 5

	PrivTableReadData  Privilege = 10
	PrivTableWriteData Privilege = 11
	PrivTableListAll   Privilege = 12

	PrivNamespaceReadProperties  Privilege = 20
	PrivNamespaceWriteProperties Privilege = 21
)

// Code returns the persisted integer code of the privilege.
func (p Privilege) Code() int { return int(p) }

func (p Privilege) String() string {
	switch p {
	case PrivServiceManageAccess:
		return "SERVICE_MANAGE_ACCESS"
	case PrivCatalogManageAccess:
		return "CATALOG_MANAGE_ACCESS"
	case PrivCatalogManageMetadata:
		return "CATALOG_MANAGE_METADATA"
	case PrivCatalogRoleUsage:
		return "CATALOG_ROLE_USAGE"
	case PrivPrincipalRoleUsage:
		return "PRINCIPAL_ROLE_USAGE"
	case PrivTableReadData:
		return "TABLE_READ_DATA"
	case PrivTableWriteData:
		return "TABLE_WRITE_DATA"
	case PrivTableListAll:
		return "TABLE_LIST_ALL"
	case PrivNamespaceReadProperties:
		return "NAMESPACE_READ_PROPERTIES"
	case PrivNamespaceWriteProperties:
		return "NAMESPACE_WRITE_PROPERTIES"
	default:
		return "UNKNOWN"
	}
}

// GrantRecord represents a privilege granted on a securable entity to a
// grantee entity. The five fields form the full identity of the record.
type GrantRecord struct {
	SecurableCatalogID int64
	SecurableID        int64
	GranteeCatalogID   int64
	GranteeID          int64
	PrivilegeCode      int
}

// NewGrantRecord creates a grant record between the given endpoints.
func NewGrantRecord(securable, grantee EntityCore, priv Privilege) GrantRecord {
	return GrantRecord{
		SecurableCatalogID: securable.CatalogID,
		SecurableID:        securable.ID,
		GranteeCatalogID:   grantee.CatalogID,
		GranteeID:          grantee.ID,
		PrivilegeCode:      priv.Code(),
	}
}

// SecurableEntityID returns the identity of the securable endpoint.
func (g GrantRecord) SecurableEntityID() EntityID {
	return EntityID{CatalogID: g.SecurableCatalogID, ID: g.SecurableID}
}

// GranteeEntityID returns the identity of the grantee endpoint.
func (g GrantRecord) GranteeEntityID() EntityID {
	return EntityID{CatalogID: g.GranteeCatalogID, ID: g.GranteeID}
}
