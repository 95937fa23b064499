package domain

// PolicyTypeProperty is the internal property key holding a policy entity's
// type code.
const PolicyTypeProperty = "policy_type_code"

// PolicyType identifies the kind of a policy entity. Codes are persisted.
type PolicyType int

const (
	PolicyDataCompaction     PolicyType = 1
	PolicyMetadataCompaction PolicyType = 2
	PolicySnapshotExpiry     PolicyType = 3
	PolicyOrphanFileRemoval  PolicyType = 4
)

// Code returns the persisted integer code of the policy type.
func (t PolicyType) Code() int { return int(t) }

func (t PolicyType) String() string {
	switch t {
	case PolicyDataCompaction:
		return "data_compaction"
	case PolicyMetadataCompaction:
		return "metadata_compaction"
	case PolicySnapshotExpiry:
		return "snapshot_expiry"
	case PolicyOrphanFileRemoval:
		return "orphan_file_removal"
	default:
		return "unknown"
	}
}

// Inheritable reports whether the policy applies transitively to children of
// its target. Inheritable types allow at most one mapping per target.
func (t PolicyType) Inheritable() bool {
	switch t {
	case PolicyDataCompaction, PolicyMetadataCompaction, PolicySnapshotExpiry, PolicyOrphanFileRemoval:
		return true
	default:
		return false
	}
}

// KnownPolicyType reports whether code names a registered policy type.
func KnownPolicyType(code int) bool {
	switch PolicyType(code) {
	case PolicyDataCompaction, PolicyMetadataCompaction, PolicySnapshotExpiry, PolicyOrphanFileRemoval:
		return true
	default:
		return false
	}
}

// ValidPolicyTarget reports whether entities of the given type/subtype can
// have policies attached.
func ValidPolicyTarget(typ EntityType, subTypeCode int) bool {
	switch typ {
	case TypeCatalog, TypeNamespace:
		return true
	case TypeTable:
		return subTypeCode == SubTypeTable
	default:
		return false
	}
}

// PolicyMappingRecord attaches a policy entity to a target entity. At most
// one mapping may exist per (target, policyType) for inheritable types.
type PolicyMappingRecord struct {
	TargetCatalogID int64
	TargetID        int64
	PolicyTypeCode  int
	PolicyCatalogID int64
	PolicyID        int64

	// Parameters is a JSON-serialized string map of mapping-specific options.
	Parameters string
}

// PolicyEntityID returns the identity of the attached policy.
func (r PolicyMappingRecord) PolicyEntityID() EntityID {
	return EntityID{CatalogID: r.PolicyCatalogID, ID: r.PolicyID}
}
