package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDoesNotMutateSource(t *testing.T) {
	original := NewEntity(7, 42, TypeTable, SubTypeTable, 3, "orders")
	original.EntityVersion = 2
	original.Properties = `{"k":"v"}`

	updated := original.Builder().
		Name("orders_v2").
		EntityVersion(3).
		Properties(`{"k":"w"}`).
		Build()

	assert.Equal(t, "orders", original.Name)
	assert.Equal(t, 2, original.EntityVersion)
	assert.Equal(t, `{"k":"v"}`, original.Properties)

	assert.Equal(t, "orders_v2", updated.Name)
	assert.Equal(t, 3, updated.EntityVersion)
	assert.Equal(t, int64(42), updated.ID, "identity fields carry over")
}

func TestWithGrantRecordsVersion(t *testing.T) {
	e := NewEntity(0, 5, TypeCatalog, NullSubType, 0, "prod")
	e.EntityVersion = 4
	e.GrantRecordsVersion = 1

	bumped := e.WithGrantRecordsVersion(2)
	assert.Equal(t, 2, bumped.GrantRecordsVersion)
	assert.Equal(t, 4, bumped.EntityVersion, "entity version untouched")
	assert.Equal(t, 1, e.GrantRecordsVersion)
}

func TestCannotBeDroppedOrRenamed(t *testing.T) {
	root := NewEntity(0, 0, TypeRoot, NullSubType, 0, RootContainerName)
	assert.True(t, root.CannotBeDroppedOrRenamed())

	rootPrincipal := NewEntity(0, 1, TypePrincipal, NullSubType, 0, RootPrincipalName)
	assert.True(t, rootPrincipal.CannotBeDroppedOrRenamed())

	serviceAdmin := NewEntity(0, 2, TypePrincipalRole, NullSubType, 0, ServiceAdminRoleName)
	assert.True(t, serviceAdmin.CannotBeDroppedOrRenamed())

	// Same names outside the top level are ordinary entities.
	principal := NewEntity(0, 3, TypePrincipal, NullSubType, 0, "alice")
	assert.False(t, principal.CannotBeDroppedOrRenamed())
	table := NewEntity(9, 4, TypeTable, SubTypeTable, 5, RootPrincipalName)
	assert.False(t, table.CannotBeDroppedOrRenamed())
}

func TestEntityTypePredicates(t *testing.T) {
	assert.True(t, TypePrincipal.IsGrantee())
	assert.True(t, TypePrincipalRole.IsGrantee())
	assert.True(t, TypeCatalogRole.IsGrantee())
	assert.False(t, TypeCatalog.IsGrantee())
	assert.False(t, TypeTable.IsGrantee())

	assert.True(t, TypeCatalog.IsTopLevel())
	assert.True(t, TypePrincipal.IsTopLevel())
	assert.True(t, TypePrincipalRole.IsTopLevel())
	assert.False(t, TypeNamespace.IsTopLevel())
	assert.False(t, TypeRoot.IsTopLevel())
}

func TestCoreProjection(t *testing.T) {
	e := NewEntity(7, 42, TypeNamespace, NullSubType, 7, "sales")
	e.EntityVersion = 9
	e.GrantRecordsVersion = 3

	core := e.Core()
	assert.Equal(t, int64(7), core.CatalogID)
	assert.Equal(t, int64(42), core.ID)
	assert.Equal(t, "sales", core.Name)
	assert.Equal(t, 9, core.EntityVersion)
	assert.Equal(t, TypeNamespace, core.Type())
}

func TestSerializePropertiesRoundTrip(t *testing.T) {
	assert.Equal(t, "{}", SerializeProperties(nil))
	assert.Equal(t, "{}", SerializeProperties(map[string]string{}))

	props := map[string]string{"owner": "data-eng", "region": "eu"}
	got := DeserializeProperties(SerializeProperties(props))
	assert.Equal(t, props, got)
}

func TestDeserializePropertiesMalformed(t *testing.T) {
	assert.Empty(t, DeserializeProperties(""))
	assert.Empty(t, DeserializeProperties("not json"))
	assert.NotNil(t, DeserializeProperties("not json"))
}

func TestNewClientIDAndSecret(t *testing.T) {
	id := NewClientID()
	require.Len(t, id, 16)
	assert.NotEqual(t, id, NewClientID())

	secret := NewSecret()
	assert.Len(t, secret, 64)
	assert.NotEqual(t, secret, NewSecret())
}

func TestMatchesSecretHash(t *testing.T) {
	s := &PrincipalSecrets{MainSecretHash: "aaa", SecondarySecretHash: "bbb"}
	assert.True(t, s.MatchesSecretHash("aaa"))
	assert.True(t, s.MatchesSecretHash("bbb"))
	assert.False(t, s.MatchesSecretHash("ccc"))
	assert.False(t, s.MatchesSecretHash(""))
}

func TestValidPolicyTarget(t *testing.T) {
	assert.True(t, ValidPolicyTarget(TypeCatalog, NullSubType))
	assert.True(t, ValidPolicyTarget(TypeNamespace, NullSubType))
	assert.True(t, ValidPolicyTarget(TypeTable, SubTypeTable))
	assert.False(t, ValidPolicyTarget(TypeTable, SubTypeView))
	assert.False(t, ValidPolicyTarget(TypePrincipal, NullSubType))
}

func TestKnownPolicyType(t *testing.T) {
	assert.True(t, KnownPolicyType(PolicyDataCompaction.Code()))
	assert.True(t, KnownPolicyType(PolicySnapshotExpiry.Code()))
	assert.False(t, KnownPolicyType(0))
	assert.False(t, KnownPolicyType(99))
}
