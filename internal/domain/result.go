package domain

// Status is the fixed enumeration of outcomes a core operation can produce.
// Statuses are normal results, not errors: callers branch on them.
type Status int

const (
	StatusSuccess Status = iota
	StatusEntityNotFound
	StatusEntityAlreadyExists
	StatusCatalogPathCannotBeResolved
	StatusEntityCannotBeResolved
	StatusTargetEntityConcurrentlyModified
	StatusEntityCannotBeRenamed
	StatusEntityUndroppable
	StatusNamespaceNotEmpty
	StatusCatalogNotEmpty
	StatusGrantNotFound
	StatusPolicyMappingNotFound
	StatusPolicyMappingOfSameTypeAlreadyExists
	StatusPolicyHasMappings
	StatusSubscopeCredsError
	StatusUnexpectedErrorSignaled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusEntityNotFound:
		return "ENTITY_NOT_FOUND"
	case StatusEntityAlreadyExists:
		return "ENTITY_ALREADY_EXISTS"
	case StatusCatalogPathCannotBeResolved:
		return "CATALOG_PATH_CANNOT_BE_RESOLVED"
	case StatusEntityCannotBeResolved:
		return "ENTITY_CANNOT_BE_RESOLVED"
	case StatusTargetEntityConcurrentlyModified:
		return "TARGET_ENTITY_CONCURRENTLY_MODIFIED"
	case StatusEntityCannotBeRenamed:
		return "ENTITY_CANNOT_BE_RENAMED"
	case StatusEntityUndroppable:
		return "ENTITY_UNDROPPABLE"
	case StatusNamespaceNotEmpty:
		return "NAMESPACE_NOT_EMPTY"
	case StatusCatalogNotEmpty:
		return "CATALOG_NOT_EMPTY"
	case StatusGrantNotFound:
		return "GRANT_NOT_FOUND"
	case StatusPolicyMappingNotFound:
		return "POLICY_MAPPING_NOT_FOUND"
	case StatusPolicyMappingOfSameTypeAlreadyExists:
		return "POLICY_MAPPING_OF_SAME_TYPE_ALREADY_EXISTS"
	case StatusPolicyHasMappings:
		return "POLICY_HAS_MAPPINGS"
	case StatusSubscopeCredsError:
		return "SUBSCOPE_CREDS_ERROR"
	case StatusUnexpectedErrorSignaled:
		return "UNEXPECTED_ERROR_SIGNALED"
	default:
		return "UNKNOWN"
	}
}

// BaseResult is the tagged status shared by every operation result.
type BaseResult struct {
	Status    Status
	ExtraInfo string
}

// IsSuccess reports whether the operation succeeded.
func (r BaseResult) IsSuccess() bool { return r.Status == StatusSuccess }

func failure(status Status, extraInfo string) BaseResult {
	return BaseResult{Status: status, ExtraInfo: extraInfo}
}

// EntityResult carries a single entity payload.
type EntityResult struct {
	BaseResult
	Entity *Entity
}

// EntityFailure creates a failed EntityResult.
func EntityFailure(status Status, extraInfo string) EntityResult {
	return EntityResult{BaseResult: failure(status, extraInfo)}
}

// EntitySuccess creates a successful EntityResult.
func EntitySuccess(e *Entity) EntityResult {
	return EntityResult{Entity: e}
}

// EntitiesResult carries a page of entities.
type EntitiesResult struct {
	BaseResult
	Entities      []Entity
	NextPageToken string
}

// EntitiesFailure creates a failed EntitiesResult.
func EntitiesFailure(status Status, extraInfo string) EntitiesResult {
	return EntitiesResult{BaseResult: failure(status, extraInfo)}
}

// DropEntityResult reports a drop, optionally carrying the id of the cleanup
// task scheduled in the same transaction.
type DropEntityResult struct {
	BaseResult
	CleanupTaskID int64
}

// DropFailure creates a failed DropEntityResult.
func DropFailure(status Status, extraInfo string) DropEntityResult {
	return DropEntityResult{BaseResult: failure(status, extraInfo)}
}

// CreatePrincipalResult carries the principal and its generated secrets.
type CreatePrincipalResult struct {
	BaseResult
	Principal *Entity
	Secrets   *PrincipalSecrets
}

// CreatePrincipalFailure creates a failed CreatePrincipalResult.
func CreatePrincipalFailure(status Status, extraInfo string) CreatePrincipalResult {
	return CreatePrincipalResult{BaseResult: failure(status, extraInfo)}
}

// CreateCatalogResult carries the catalog and its provisioned admin role.
type CreateCatalogResult struct {
	BaseResult
	Catalog   *Entity
	AdminRole *Entity
}

// CreateCatalogFailure creates a failed CreateCatalogResult.
func CreateCatalogFailure(status Status, extraInfo string) CreateCatalogResult {
	return CreateCatalogResult{BaseResult: failure(status, extraInfo)}
}

// PrivilegeResult carries the grant record affected by a grant or revoke.
type PrivilegeResult struct {
	BaseResult
	Grant *GrantRecord
}

// PrivilegeFailure creates a failed PrivilegeResult.
func PrivilegeFailure(status Status, extraInfo string) PrivilegeResult {
	return PrivilegeResult{BaseResult: failure(status, extraInfo)}
}

// LoadGrantsResult carries the grant records of an entity plus the distinct
// entities on the other side of each grant, and the grants version the
// records were read at.
type LoadGrantsResult struct {
	BaseResult
	GrantsVersion int
	Grants        []GrantRecord
	Entities      []Entity
}

// LoadGrantsFailure creates a failed LoadGrantsResult.
func LoadGrantsFailure(status Status, extraInfo string) LoadGrantsResult {
	return LoadGrantsResult{BaseResult: failure(status, extraInfo)}
}

// PolicyAttachmentResult carries the mapping record affected by an attach or
// detach. On a same-type conflict, ConflictingTypeCode names the type of the
// existing mapping.
type PolicyAttachmentResult struct {
	BaseResult
	Mapping             *PolicyMappingRecord
	ConflictingTypeCode int
}

// PolicyAttachmentFailure creates a failed PolicyAttachmentResult.
func PolicyAttachmentFailure(status Status, extraInfo string) PolicyAttachmentResult {
	return PolicyAttachmentResult{BaseResult: failure(status, extraInfo)}
}

// LoadPolicyMappingsResult carries mapping records plus the dereferenced
// policy entities they point to.
type LoadPolicyMappingsResult struct {
	BaseResult
	Mappings []PolicyMappingRecord
	Policies []Entity
}

// LoadPolicyMappingsFailure creates a failed LoadPolicyMappingsResult.
func LoadPolicyMappingsFailure(status Status, extraInfo string) LoadPolicyMappingsResult {
	return LoadPolicyMappingsResult{BaseResult: failure(status, extraInfo)}
}

// PrincipalSecretsResult carries principal secrets.
type PrincipalSecretsResult struct {
	BaseResult
	Secrets *PrincipalSecrets
}

// PrincipalSecretsFailure creates a failed PrincipalSecretsResult.
func PrincipalSecretsFailure(status Status, extraInfo string) PrincipalSecretsResult {
	return PrincipalSecretsResult{BaseResult: failure(status, extraInfo)}
}

// ChangeTrackingResult carries version pairs aligned with the requested ids;
// a nil element means the entity was purged.
type ChangeTrackingResult struct {
	BaseResult
	Versions []*ChangeTracking
}

// ResolvedEntityResult carries an entity together with its grant records for
// cache population. On incremental refresh, Entity and Grants are nil when
// the caller's cached versions are still current.
type ResolvedEntityResult struct {
	BaseResult
	Entity              *Entity
	GrantRecordsVersion int
	Grants              []GrantRecord
}

// ResolvedEntityFailure creates a failed ResolvedEntityResult.
func ResolvedEntityFailure(status Status, extraInfo string) ResolvedEntityResult {
	return ResolvedEntityResult{BaseResult: failure(status, extraInfo)}
}

// ScopedCredentialsResult carries subscoped storage credentials as an opaque
// property map produced by the credential vendor.
type ScopedCredentialsResult struct {
	BaseResult
	AccessConfig map[string]string
}

// ScopedCredentialsFailure creates a failed ScopedCredentialsResult.
func ScopedCredentialsFailure(status Status, extraInfo string) ScopedCredentialsResult {
	return ScopedCredentialsResult{BaseResult: failure(status, extraInfo)}
}
