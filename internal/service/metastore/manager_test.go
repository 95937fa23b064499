package metastore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metalake/internal/db"
	"metalake/internal/db/repository"
	"metalake/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	writeDB, readDB := db.OpenTestSQLite(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewStore(writeDB, readDB, logger)

	clk := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	opts = append([]Option{WithClock(func() time.Time { return clk.now })}, opts...)
	return NewManager(store, logger, opts...), clk
}

func bootstrappedManager(t *testing.T, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	m, clk := newTestManager(t, opts...)
	res, err := m.BootstrapService(context.Background())
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	return m, clk
}

func mustCreateCatalog(t *testing.T, m *Manager, name string) (catalog, adminRole domain.Entity) {
	t.Helper()
	c := domain.NewEntity(0, 0, domain.TypeCatalog, domain.NullSubType, 0, name)
	res, err := m.CreateCatalog(context.Background(), c, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	return *res.Catalog, *res.AdminRole
}

func mustCreateEntity(t *testing.T, m *Manager, path []domain.EntityCore, typ domain.EntityType, subType int, name string) domain.Entity {
	t.Helper()
	e := domain.NewEntity(0, 0, typ, subType, 0, name)
	res, err := m.CreateEntityIfNotExists(context.Background(), path, e)
	require.NoError(t, err)
	require.True(t, res.IsSuccess(), "create %s %q: %s", typ, name, res.Status)
	return *res.Entity
}

func TestBootstrapService(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.BootstrapService(ctx)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	require.NotNil(t, res.Principal)
	require.NotNil(t, res.Secrets)
	assert.Equal(t, domain.RootPrincipalName, res.Principal.Name)
	assert.NotEmpty(t, res.Secrets.MainSecret, "bootstrap must hand out the plaintext secret once")

	// The root principal holds usage on the service admin role.
	grants, err := m.LoadGrantsToGrantee(ctx, res.Principal.CatalogID, res.Principal.ID)
	require.NoError(t, err)
	require.True(t, grants.IsSuccess())
	require.Len(t, grants.Grants, 1)
	assert.Equal(t, domain.PrivPrincipalRoleUsage.Code(), grants.Grants[0].PrivilegeCode)
	require.Len(t, grants.Entities, 1)
	assert.Equal(t, domain.ServiceAdminRoleName, grants.Entities[0].Name)

	// The service admin role holds manage-access on the root container.
	adminID := grants.Entities[0].ID
	adminGrants, err := m.LoadGrantsToGrantee(ctx, 0, adminID)
	require.NoError(t, err)
	require.Len(t, adminGrants.Grants, 1)
	assert.Equal(t, domain.PrivServiceManageAccess.Code(), adminGrants.Grants[0].PrivilegeCode)

	again, err := m.BootstrapService(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntityAlreadyExists, again.Status)
}

func TestCreatePrincipal(t *testing.T) {
	m, _ := bootstrappedManager(t)
	ctx := context.Background()

	alice := domain.NewEntity(0, 0, domain.TypePrincipal, domain.NullSubType, 0, "alice")
	res, err := m.CreatePrincipal(ctx, alice)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	require.NotEmpty(t, res.Secrets.MainSecret)

	clientID := domain.DeserializeProperties(res.Principal.InternalProperties)[domain.ClientIDProperty]
	assert.Equal(t, res.Secrets.ClientID, clientID)

	// A different caller creating the same name fails.
	dup, err := m.CreatePrincipal(ctx, domain.NewEntity(0, 0, domain.TypePrincipal, domain.NullSubType, 0, "alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntityAlreadyExists, dup.Status)

	// A retry carrying the original client id gets the stored principal back.
	retry := alice
	retry.InternalProperties = domain.SerializeProperties(map[string]string{domain.ClientIDProperty: clientID})
	res2, err := m.CreatePrincipal(ctx, retry)
	require.NoError(t, err)
	require.True(t, res2.IsSuccess())
	assert.Equal(t, res.Principal.ID, res2.Principal.ID)
	assert.Empty(t, res2.Secrets.MainSecret, "plaintext is only returned on first creation")
	assert.Equal(t, res.Secrets.MainSecretHash, res2.Secrets.MainSecretHash)

	// A retry carrying the committed id needs no client id at all.
	byID := alice
	byID.ID = res.Principal.ID
	res3, err := m.CreatePrincipal(ctx, byID)
	require.NoError(t, err)
	require.True(t, res3.IsSuccess(), "same-identity re-submission is a retry, not a collision")
	assert.Equal(t, res.Principal.ID, res3.Principal.ID)
	assert.Equal(t, clientID, domain.DeserializeProperties(res3.Principal.InternalProperties)[domain.ClientIDProperty])
	assert.Equal(t, res.Secrets.MainSecretHash, res3.Secrets.MainSecretHash)
	assert.Empty(t, res3.Secrets.MainSecret)
}

func TestCreateCatalogProvisionsAdminRole(t *testing.T) {
	m, _ := bootstrappedManager(t)
	ctx := context.Background()

	catalog, adminRole := mustCreateCatalog(t, m, "sales")
	assert.Equal(t, domain.CatalogAdminRoleName, adminRole.Name)
	assert.Equal(t, catalog.ID, adminRole.CatalogID)
	assert.Equal(t, catalog.ID, adminRole.ParentID)

	grants, err := m.LoadGrantsToGrantee(ctx, adminRole.CatalogID, adminRole.ID)
	require.NoError(t, err)
	privs := map[int]bool{}
	for _, g := range grants.Grants {
		privs[g.PrivilegeCode] = true
	}
	assert.True(t, privs[domain.PrivCatalogManageAccess.Code()])
	assert.True(t, privs[domain.PrivCatalogManageMetadata.Code()])

	// With no principal roles named, usage of the admin role goes to
	// service_admin.
	onRole, err := m.LoadGrantsOnSecurable(ctx, adminRole.CatalogID, adminRole.ID)
	require.NoError(t, err)
	require.Len(t, onRole.Grants, 1)
	require.Len(t, onRole.Entities, 1)
	assert.Equal(t, domain.ServiceAdminRoleName, onRole.Entities[0].Name)
	assert.Equal(t, domain.PrivCatalogRoleUsage.Code(), onRole.Grants[0].PrivilegeCode)

	dup, err := m.CreateCatalog(ctx, domain.NewEntity(0, 0, domain.TypeCatalog, domain.NullSubType, 0, "sales"), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntityAlreadyExists, dup.Status)

	// A retry with the committed id is idempotent.
	retry, err := m.CreateCatalog(ctx, catalog, nil)
	require.NoError(t, err)
	require.True(t, retry.IsSuccess())
	assert.Equal(t, catalog.ID, retry.Catalog.ID)
	assert.Equal(t, adminRole.ID, retry.AdminRole.ID)
}

func TestCreateCatalogWithPrincipalRoles(t *testing.T) {
	m, _ := bootstrappedManager(t)
	ctx := context.Background()

	analyst := mustCreateEntity(t, m, nil, domain.TypePrincipalRole, domain.NullSubType, "analyst")

	c := domain.NewEntity(0, 0, domain.TypeCatalog, domain.NullSubType, 0, "sales")
	res, err := m.CreateCatalog(ctx, c, []domain.EntityCore{analyst.Core()})
	require.NoError(t, err)
	require.True(t, res.IsSuccess())

	onRole, err := m.LoadGrantsOnSecurable(ctx, res.AdminRole.CatalogID, res.AdminRole.ID)
	require.NoError(t, err)
	require.Len(t, onRole.Entities, 1)
	assert.Equal(t, "analyst", onRole.Entities[0].Name)

	// Naming a vanished principal role fails the whole creation.
	ghost := analyst.Core()
	ghost.ID = 123456
	res2, err := m.CreateCatalog(ctx, domain.NewEntity(0, 0, domain.TypeCatalog, domain.NullSubType, 0, "hr"), []domain.EntityCore{ghost})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntityCannotBeResolved, res2.Status)

	byName, err := m.ReadEntityByName(ctx, nil, domain.TypeCatalog, domain.AnySubType, "hr")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntityNotFound, byName.Status, "failed creation must leave nothing behind")
}

func TestRotatePrincipalSecrets(t *testing.T) {
	m, _ := bootstrappedManager(t)
	ctx := context.Background()

	res, err := m.CreatePrincipal(ctx, domain.NewEntity(0, 0, domain.TypePrincipal, domain.NullSubType, 0, "alice"))
	require.NoError(t, err)
	clientID := res.Secrets.ClientID
	principalID := res.Principal.ID

	rotated, err := m.RotatePrincipalSecrets(ctx, clientID, principalID, false)
	require.NoError(t, err)
	require.True(t, rotated.IsSuccess())
	assert.NotEqual(t, res.Secrets.MainSecretHash, rotated.Secrets.MainSecretHash)
	assert.Equal(t, res.Secrets.MainSecretHash, rotated.Secrets.SecondarySecretHash)

	// A reset plants the rotation-required marker on the principal.
	reset, err := m.RotatePrincipalSecrets(ctx, clientID, principalID, true)
	require.NoError(t, err)
	require.True(t, reset.IsSuccess())
	loaded, err := m.LoadEntity(ctx, 0, principalID, domain.TypePrincipal)
	require.NoError(t, err)
	props := domain.DeserializeProperties(loaded.Entity.InternalProperties)
	assert.Equal(t, "true", props[domain.RotationRequiredProperty])

	// The next plain rotation is forced into a reset and clears the marker.
	next, err := m.RotatePrincipalSecrets(ctx, clientID, principalID, false)
	require.NoError(t, err)
	assert.Equal(t, next.Secrets.MainSecretHash, next.Secrets.SecondarySecretHash)
	loaded, err = m.LoadEntity(ctx, 0, principalID, domain.TypePrincipal)
	require.NoError(t, err)
	props = domain.DeserializeProperties(loaded.Entity.InternalProperties)
	_, markerSet := props[domain.RotationRequiredProperty]
	assert.False(t, markerSet)

	missing, err := m.RotatePrincipalSecrets(ctx, "no-such-client", principalID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntityNotFound, missing.Status)
}

func TestLoadPrincipalSecrets(t *testing.T) {
	m, _ := bootstrappedManager(t)
	ctx := context.Background()

	res, err := m.CreatePrincipal(ctx, domain.NewEntity(0, 0, domain.TypePrincipal, domain.NullSubType, 0, "alice"))
	require.NoError(t, err)

	loaded, err := m.LoadPrincipalSecrets(ctx, res.Secrets.ClientID)
	require.NoError(t, err)
	require.True(t, loaded.IsSuccess())
	assert.True(t, loaded.Secrets.MatchesSecretHash(res.Secrets.MainSecretHash))

	missing, err := m.LoadPrincipalSecrets(ctx, "no-such-client")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntityNotFound, missing.Status)
}

type fakeVendor struct {
	lastConfig string
	err        error
}

func (v *fakeVendor) ScopedCredentials(_ context.Context, integ domain.StorageIntegration, _ bool, _, _ []string) (map[string]string, error) {
	v.lastConfig = integ.Config
	if v.err != nil {
		return nil, v.err
	}
	return map[string]string{"s3.access-key-id": "scoped"}, nil
}

func TestGetSubscopedCredsForEntity(t *testing.T) {
	vendor := &fakeVendor{}
	m, _ := bootstrappedManager(t, WithCredentialVendor(vendor))
	ctx := context.Background()

	storageConfig := `{"storageType":"S3","roleArn":"arn:aws:iam::123:role/x"}`
	c := domain.NewEntity(0, 0, domain.TypeCatalog, domain.NullSubType, 0, "sales")
	c.InternalProperties = domain.SerializeProperties(map[string]string{
		domain.StorageConfigInfoProperty: storageConfig,
	})
	created, err := m.CreateCatalog(ctx, c, nil)
	require.NoError(t, err)
	require.True(t, created.IsSuccess())
	catalog := *created.Catalog

	res, err := m.GetSubscopedCredsForEntity(ctx, 0, catalog.ID, true, []string{"s3://bucket/a"}, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.Equal(t, "scoped", res.AccessConfig["s3.access-key-id"])
	assert.Equal(t, storageConfig, vendor.lastConfig)

	// A namespace inside the catalog falls back to the catalog's integration.
	ns := mustCreateEntity(t, m, []domain.EntityCore{catalog.Core()}, domain.TypeNamespace, domain.NullSubType, "q1")
	res, err = m.GetSubscopedCredsForEntity(ctx, ns.CatalogID, ns.ID, false, []string{"s3://bucket/a/q1"}, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())

	vendor.err = fmt.Errorf("sts unavailable")
	res, err = m.GetSubscopedCredsForEntity(ctx, 0, catalog.ID, true, []string{"s3://bucket/a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubscopeCredsError, res.Status)

	_, err = m.GetSubscopedCredsForEntity(ctx, 0, catalog.ID, true, nil, nil)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestGetSubscopedCredsWithoutVendor(t *testing.T) {
	m, _ := bootstrappedManager(t)

	res, err := m.GetSubscopedCredsForEntity(context.Background(), 0, 1, true, []string{"s3://bucket"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubscopeCredsError, res.Status)
}

func TestPurge(t *testing.T) {
	m, _ := bootstrappedManager(t)
	ctx := context.Background()

	mustCreateCatalog(t, m, "sales")
	require.NoError(t, m.Purge(ctx))

	res, err := m.ReadEntityByName(ctx, nil, domain.TypeCatalog, domain.AnySubType, "sales")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntityNotFound, res.Status)
}
