package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metalake/internal/db"
	"metalake/internal/db/crypto"
	"metalake/internal/domain"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	writeDB, readDB := db.OpenTestSQLite(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(writeDB, readDB, logger, opts...)
}

func beginWrite(t *testing.T, store *Store) *Session {
	t.Helper()
	sess, err := store.BeginReadWrite(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Rollback() })
	return sess
}

func testEntity(catalogID, id, parentID int64, typ domain.EntityType, name string) domain.Entity {
	e := domain.NewEntity(catalogID, id, typ, domain.NullSubType, parentID, name)
	e.EntityVersion = 1
	e.GrantRecordsVersion = 1
	e.Properties = "{}"
	e.InternalProperties = "{}"
	e.CreateTimestamp = 1000
	e.LastUpdateTimestamp = 1000
	return e
}

func TestGenerateID(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	first, err := sess.GenerateID(ctx)
	require.NoError(t, err)
	second, err := sess.GenerateID(ctx)
	require.NoError(t, err)

	assert.Greater(t, first, int64(999), "low ids are reserved")
	assert.Greater(t, second, first)
}

func TestWriteEntityInsertAndLookup(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	e := testEntity(0, 1001, 0, domain.TypeCatalog, "sales")
	require.NoError(t, sess.WriteEntity(ctx, e, true, nil))

	got, err := sess.LookupEntity(ctx, 0, 1001, int(domain.TypeCatalog))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sales", got.Name)
	assert.Equal(t, 1, got.EntityVersion)

	byName, err := sess.LookupEntityByName(ctx, 0, 0, int(domain.TypeCatalog), "sales")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, int64(1001), byName.ID)

	missing, err := sess.LookupEntity(ctx, 0, 9999, int(domain.TypeCatalog))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWriteEntityNameCollision(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	require.NoError(t, sess.WriteEntity(ctx, testEntity(0, 1001, 0, domain.TypeCatalog, "sales"), true, nil))

	err := sess.WriteEntity(ctx, testEntity(0, 1002, 0, domain.TypeCatalog, "sales"), true, nil)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestWriteEntityStaleVersion(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	e := testEntity(0, 1001, 0, domain.TypeCatalog, "sales")
	require.NoError(t, sess.WriteEntity(ctx, e, true, nil))

	updated := e.Builder().EntityVersion(2).Properties(`{"a":"b"}`).Build()
	require.NoError(t, sess.WriteEntity(ctx, updated, false, &e))

	// A second writer still holding version 1 must lose.
	again := e.Builder().EntityVersion(2).Properties(`{"c":"d"}`).Build()
	err := sess.WriteEntity(ctx, again, false, &e)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	got, err := sess.LookupEntity(ctx, 0, 1001, int(domain.TypeCatalog))
	require.NoError(t, err)
	assert.Equal(t, 2, got.EntityVersion)
	assert.Equal(t, `{"a":"b"}`, got.Properties)
}

func TestWriteEntitiesBatch(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	batch := []domain.Entity{
		testEntity(7, 2001, 100, domain.TypeTable, "t1"),
		testEntity(7, 2002, 100, domain.TypeTable, "t2"),
	}
	require.NoError(t, sess.WriteEntities(ctx, batch, nil))

	// Mixed batch: update the first, insert a third.
	updated := batch[0].Builder().EntityVersion(2).Properties(`{"a":"b"}`).Build()
	third := testEntity(7, 2003, 100, domain.TypeTable, "t3")
	require.NoError(t, sess.WriteEntities(ctx,
		[]domain.Entity{updated, third},
		[]*domain.Entity{&batch[0], nil}))

	got, err := sess.LookupEntity(ctx, 7, 2001, int(domain.TypeTable))
	require.NoError(t, err)
	assert.Equal(t, 2, got.EntityVersion)
	all, _, err := sess.ListEntities(ctx, 7, 100, int(domain.TypeTable), nil, domain.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteEntityMovesToDropped(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	e := testEntity(0, 1001, 0, domain.TypeCatalog, "sales")
	require.NoError(t, sess.WriteEntity(ctx, e, true, nil))

	dropped := e.Builder().DropTimestamp(2000).Build()
	require.NoError(t, sess.DeleteEntity(ctx, dropped))

	got, err := sess.LookupEntity(ctx, 0, 1001, int(domain.TypeCatalog))
	require.NoError(t, err)
	assert.Nil(t, got, "dropped entity must not be visible in active lookups")

	// The name is free again for a new entity.
	require.NoError(t, sess.WriteEntity(ctx, testEntity(0, 1002, 0, domain.TypeCatalog, "sales"), true, nil))
}

func TestListEntitiesPagination(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		e := testEntity(7, 2000+i, 0, domain.TypeNamespace, "ns"+string(rune('a'+i)))
		require.NoError(t, sess.WriteEntity(ctx, e, true, nil))
	}

	page1, token, err := sess.ListEntities(ctx, 7, 0, int(domain.TypeNamespace), nil, domain.PageRequest{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, token)

	page2, token, err := sess.ListEntities(ctx, 7, 0, int(domain.TypeNamespace), nil, domain.PageRequest{MaxResults: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotEmpty(t, token)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)

	page3, token, err := sess.ListEntities(ctx, 7, 0, int(domain.TypeNamespace), nil, domain.PageRequest{MaxResults: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Empty(t, token, "short page ends the listing")
}

func TestListEntitiesFilter(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	table := testEntity(7, 2001, 100, domain.TypeTable, "t1")
	table.SubTypeCode = domain.SubTypeTable
	view := testEntity(7, 2002, 100, domain.TypeTable, "v1")
	view.SubTypeCode = domain.SubTypeView
	require.NoError(t, sess.WriteEntity(ctx, table, true, nil))
	require.NoError(t, sess.WriteEntity(ctx, view, true, nil))

	onlyViews := func(e *domain.Entity) bool { return e.SubTypeCode == domain.SubTypeView }
	got, _, err := sess.ListEntities(ctx, 7, 100, int(domain.TypeTable), onlyViews, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v1", got[0].Name)
}

func TestHasChildren(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	require.NoError(t, sess.WriteEntity(ctx, testEntity(7, 100, 0, domain.TypeNamespace, "ns"), true, nil))
	require.NoError(t, sess.WriteEntity(ctx, testEntity(7, 101, 100, domain.TypeTable, "t1"), true, nil))

	anyChild, err := sess.HasChildren(ctx, 7, 100, 0)
	require.NoError(t, err)
	assert.True(t, anyChild)

	tables, err := sess.HasChildren(ctx, 7, 100, int(domain.TypeTable))
	require.NoError(t, err)
	assert.True(t, tables)

	namespaces, err := sess.HasChildren(ctx, 7, 100, int(domain.TypeNamespace))
	require.NoError(t, err)
	assert.False(t, namespaces)
}

func TestGrantRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	g := domain.GrantRecord{
		SecurableCatalogID: 7, SecurableID: 100,
		GranteeCatalogID: 7, GranteeID: 200,
		PrivilegeCode: domain.PrivCatalogRoleUsage.Code(),
	}
	require.NoError(t, sess.WriteGrantRecord(ctx, g))

	var conflict *domain.ConflictError
	require.ErrorAs(t, sess.WriteGrantRecord(ctx, g), &conflict, "duplicate grant must conflict")

	onSecurable, err := sess.LoadGrantRecordsOnSecurable(ctx, 7, 100)
	require.NoError(t, err)
	require.Len(t, onSecurable, 1)
	assert.Equal(t, g, onSecurable[0])

	onGrantee, err := sess.LoadGrantRecordsOnGrantee(ctx, 7, 200)
	require.NoError(t, err)
	require.Len(t, onGrantee, 1)

	found, err := sess.LookupGrantRecord(ctx, g)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, g, *found)
	other := g
	other.PrivilegeCode = domain.PrivCatalogManageAccess.Code()
	missing, err := sess.LookupGrantRecord(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, sess.DeleteGrantRecord(ctx, g))
	var notFound *domain.NotFoundError
	require.ErrorAs(t, sess.DeleteGrantRecord(ctx, g), &notFound)
}

func TestDeleteAllEntityGrantRecords(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	asSecurable := domain.GrantRecord{SecurableCatalogID: 7, SecurableID: 100, GranteeCatalogID: 0, GranteeID: 300, PrivilegeCode: 1}
	asGrantee := domain.GrantRecord{SecurableCatalogID: 7, SecurableID: 400, GranteeCatalogID: 7, GranteeID: 100, PrivilegeCode: 4}
	unrelated := domain.GrantRecord{SecurableCatalogID: 7, SecurableID: 400, GranteeCatalogID: 0, GranteeID: 300, PrivilegeCode: 1}
	for _, g := range []domain.GrantRecord{asSecurable, asGrantee, unrelated} {
		require.NoError(t, sess.WriteGrantRecord(ctx, g))
	}

	require.NoError(t, sess.DeleteAllEntityGrantRecords(ctx, 7, 100))

	remaining, err := sess.LoadGrantRecordsOnSecurable(ctx, 7, 400)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, unrelated, remaining[0])
}

func TestPolicyMappingSameTypeConflict(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	first := domain.PolicyMappingRecord{
		TargetCatalogID: 7, TargetID: 100,
		PolicyTypeCode:  domain.PolicyDataCompaction.Code(),
		PolicyCatalogID: 7, PolicyID: 500, Parameters: "{}",
	}
	require.NoError(t, sess.CheckConditionsForWritePolicyMapping(ctx, first))
	require.NoError(t, sess.WritePolicyMappingRecord(ctx, first))

	// Same policy again: allowed, becomes a parameter update.
	update := first
	update.Parameters = `{"target_file_size":"128MB"}`
	require.NoError(t, sess.CheckConditionsForWritePolicyMapping(ctx, update))
	require.NoError(t, sess.WritePolicyMappingRecord(ctx, update))

	got, err := sess.LoadPoliciesOnTarget(ctx, 7, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, update.Parameters, got[0].Parameters)

	// A different policy of the same inheritable type must be rejected.
	other := first
	other.PolicyID = 501
	err = sess.CheckConditionsForWritePolicyMapping(ctx, other)
	var exists *PolicyMappingExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, first.PolicyID, exists.Existing.PolicyID)

	unknown := first
	unknown.PolicyTypeCode = 99
	var validation *domain.ValidationError
	require.ErrorAs(t, sess.CheckConditionsForWritePolicyMapping(ctx, unknown), &validation)
}

func TestLoadTargetsOnPolicy(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	for _, targetID := range []int64{100, 101} {
		rec := domain.PolicyMappingRecord{
			TargetCatalogID: 7, TargetID: targetID,
			PolicyTypeCode:  domain.PolicySnapshotExpiry.Code(),
			PolicyCatalogID: 7, PolicyID: 500, Parameters: "{}",
		}
		require.NoError(t, sess.WritePolicyMappingRecord(ctx, rec))
	}

	got, err := sess.LoadTargetsOnPolicy(ctx, 7, 500)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestPrincipalSecretsLifecycle(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	sec, err := sess.GeneratePrincipalSecrets(ctx, 42)
	require.NoError(t, err)
	require.NotEmpty(t, sec.ClientID)
	require.NotEmpty(t, sec.MainSecret)
	assert.Equal(t, HashSecret(sec.ClientID, sec.MainSecret), sec.MainSecretHash)

	loaded, err := sess.LoadPrincipalSecrets(ctx, sec.ClientID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Empty(t, loaded.MainSecret, "plaintext is never persisted")
	assert.True(t, loaded.MatchesSecretHash(sec.MainSecretHash))

	rotated, err := sess.RotatePrincipalSecrets(ctx, sec.ClientID, 42, false)
	require.NoError(t, err)
	assert.NotEqual(t, sec.MainSecretHash, rotated.MainSecretHash)
	assert.Equal(t, sec.MainSecretHash, rotated.SecondarySecretHash, "old secret survives one rotation")

	reset, err := sess.RotatePrincipalSecrets(ctx, sec.ClientID, 42, true)
	require.NoError(t, err)
	assert.Equal(t, reset.MainSecretHash, reset.SecondarySecretHash, "reset invalidates the old secret")
	assert.False(t, reset.MatchesSecretHash(rotated.MainSecretHash))

	require.NoError(t, sess.DeletePrincipalSecrets(ctx, sec.ClientID, 42))
	gone, err := sess.LoadPrincipalSecrets(ctx, sec.ClientID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStorageIntegrationEncryptedAtRest(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	enc, err := crypto.NewEncryptor(key)
	require.NoError(t, err)

	store := newTestStore(t, WithEncryptor(enc))
	sess := beginWrite(t, store)
	ctx := context.Background()

	config := `{"storageType":"S3","allowedLocations":["s3://bucket/path"]}`
	require.NoError(t, sess.WriteStorageIntegration(ctx, domain.StorageIntegration{
		CatalogID: 7, EntityID: 7, Config: config,
	}))

	// The raw row must not contain the plaintext.
	var raw string
	require.NoError(t, sess.tx.QueryRowContext(ctx,
		`SELECT config FROM storage_integrations WHERE catalog_id = 7 AND entity_id = 7`,
	).Scan(&raw))
	assert.NotEqual(t, config, raw)

	loaded, err := sess.LoadStorageIntegration(ctx, 7, 7)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, config, loaded.Config)

	require.NoError(t, sess.DeleteStorageIntegration(ctx, 7, 7))
	gone, err := sess.LoadStorageIntegration(ctx, 7, 7)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestReadOnlySessionRejectsWrites(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Rollback() })

	var validation *domain.ValidationError
	err = sess.WriteEntity(context.Background(), testEntity(0, 1001, 0, domain.TypeCatalog, "sales"), true, nil)
	require.ErrorAs(t, err, &validation)
}

func TestDeleteAllPurgesEverything(t *testing.T) {
	store := newTestStore(t)
	sess := beginWrite(t, store)
	ctx := context.Background()

	require.NoError(t, sess.WriteEntity(ctx, testEntity(0, 1001, 0, domain.TypeCatalog, "sales"), true, nil))
	_, err := sess.GeneratePrincipalSecrets(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, sess.DeleteAll(ctx))

	got, err := sess.LookupEntity(ctx, 0, 1001, int(domain.TypeCatalog))
	require.NoError(t, err)
	assert.Nil(t, got)
}
