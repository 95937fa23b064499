package metastore

import (
	"context"

	"metalake/internal/db/repository"
	"metalake/internal/domain"
)

// BootstrapService initializes an empty service: the root container, the root
// principal with generated credentials, and the service admin role wired up
// with its usage and manage-access grants. Bootstrapping twice reports
// ENTITY_ALREADY_EXISTS. The root principal's one-shot plaintext secret is
// returned.
func (m *Manager) BootstrapService(ctx context.Context) (domain.CreatePrincipalResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.CreatePrincipalResult{}, err
	}
	defer sess.Rollback()

	existing, err := sess.LookupEntityByName(ctx, domain.NullCatalogID, domain.RootEntityID, int(domain.TypeRoot), domain.RootContainerName)
	if err != nil {
		return domain.CreatePrincipalResult{}, err
	}
	if existing != nil {
		return domain.CreatePrincipalFailure(domain.StatusEntityAlreadyExists, "service already bootstrapped"), nil
	}

	root := domain.NewEntity(domain.NullCatalogID, domain.RootEntityID, domain.TypeRoot,
		domain.NullSubType, domain.RootEntityID, domain.RootContainerName)
	if err := m.persistNewEntity(ctx, sess, &root); err != nil {
		return domain.CreatePrincipalResult{}, err
	}

	principal := domain.NewEntity(domain.NullCatalogID, 0, domain.TypePrincipal,
		domain.NullSubType, domain.RootEntityID, domain.RootPrincipalName)
	res, err := m.createPrincipal(ctx, sess, principal)
	if err != nil || !res.IsSuccess() {
		return res, err
	}

	serviceAdmin := domain.NewEntity(domain.NullCatalogID, 0, domain.TypePrincipalRole,
		domain.NullSubType, domain.RootEntityID, domain.ServiceAdminRoleName)
	if err := m.persistNewEntity(ctx, sess, &serviceAdmin); err != nil {
		return domain.CreatePrincipalResult{}, err
	}

	if _, err := m.persistNewGrantRecord(ctx, sess, serviceAdmin.Core(), res.Principal.Core(), domain.PrivPrincipalRoleUsage); err != nil {
		return domain.CreatePrincipalResult{}, err
	}
	if _, err := m.persistNewGrantRecord(ctx, sess, root.Core(), serviceAdmin.Core(), domain.PrivServiceManageAccess); err != nil {
		return domain.CreatePrincipalResult{}, err
	}

	if err := sess.Commit(); err != nil {
		return domain.CreatePrincipalResult{}, err
	}
	m.logger.Info("service bootstrapped", "root_principal_id", res.Principal.ID)
	return res, nil
}

// CreatePrincipal creates a principal with freshly generated credentials.
// Re-submitting a principal that already committed (same id, or an input
// carrying the stored client id) is a retry and returns the stored principal
// with its stored credential hashes.
func (m *Manager) CreatePrincipal(ctx context.Context, principal domain.Entity) (domain.CreatePrincipalResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.CreatePrincipalResult{}, err
	}
	defer sess.Rollback()

	res, err := m.createPrincipal(ctx, sess, principal)
	if err != nil || !res.IsSuccess() {
		return res, err
	}
	return res, sess.Commit()
}

func (m *Manager) createPrincipal(ctx context.Context, sess *repository.Session, principal domain.Entity) (domain.CreatePrincipalResult, error) {
	principal.CatalogID = domain.NullCatalogID
	principal.ParentID = domain.RootEntityID
	principal.TypeCode = int(domain.TypePrincipal)

	// A committed principal with the same id means the creation already
	// happened; hand back the stored one with its stored credentials.
	if principal.ID != 0 {
		byID, err := sess.LookupEntity(ctx, domain.NullCatalogID, principal.ID, int(domain.TypePrincipal))
		if err != nil {
			return domain.CreatePrincipalResult{}, err
		}
		if byID != nil {
			return m.loadCommittedPrincipal(ctx, sess, byID)
		}
	}

	existing, err := sess.LookupEntityByName(ctx, domain.NullCatalogID, domain.RootEntityID, int(domain.TypePrincipal), principal.Name)
	if err != nil {
		return domain.CreatePrincipalResult{}, err
	}
	if existing != nil {
		existingClientID := domain.DeserializeProperties(existing.InternalProperties)[domain.ClientIDProperty]
		if existingClientID == "" {
			return domain.CreatePrincipalResult{}, domain.ErrInvariant("principal %q has no client id", existing.Name)
		}
		inputClientID := domain.DeserializeProperties(principal.InternalProperties)[domain.ClientIDProperty]
		if inputClientID != existingClientID {
			return domain.CreatePrincipalFailure(domain.StatusEntityAlreadyExists, existing.Name), nil
		}
		return m.loadCommittedPrincipal(ctx, sess, existing)
	}

	if principal.ID == 0 {
		id, err := sess.GenerateID(ctx)
		if err != nil {
			return domain.CreatePrincipalResult{}, err
		}
		principal.ID = id
	}
	secrets, err := sess.GeneratePrincipalSecrets(ctx, principal.ID)
	if err != nil {
		return domain.CreatePrincipalResult{}, err
	}

	props := domain.DeserializeProperties(principal.InternalProperties)
	props[domain.ClientIDProperty] = secrets.ClientID
	principal.InternalProperties = domain.SerializeProperties(props)

	if err := m.persistNewEntity(ctx, sess, &principal); err != nil {
		return domain.CreatePrincipalResult{}, err
	}
	return domain.CreatePrincipalResult{Principal: &principal, Secrets: secrets}, nil
}

// loadCommittedPrincipal resolves a retried creation: the principal row exists,
// so its client id and secrets must as well.
func (m *Manager) loadCommittedPrincipal(ctx context.Context, sess *repository.Session, existing *domain.Entity) (domain.CreatePrincipalResult, error) {
	clientID := domain.DeserializeProperties(existing.InternalProperties)[domain.ClientIDProperty]
	if clientID == "" {
		return domain.CreatePrincipalResult{}, domain.ErrInvariant("principal %q has no client id", existing.Name)
	}
	secrets, err := sess.LoadPrincipalSecrets(ctx, clientID)
	if err != nil {
		return domain.CreatePrincipalResult{}, err
	}
	if secrets == nil {
		return domain.CreatePrincipalResult{}, domain.ErrInvariant("principal %q has no stored secrets", existing.Name)
	}
	return domain.CreatePrincipalResult{Principal: existing, Secrets: secrets}, nil
}

// CreateCatalog creates a catalog with its bootstrap admin role and the
// manage-access and manage-metadata grants on it. Usage of the admin role
// goes to the given principal roles, or to the service admin role when none
// are named. A storage configuration carried in the catalog's internal
// properties is persisted as the catalog's storage integration. Recreating a
// catalog with the same id is an idempotent retry.
func (m *Manager) CreateCatalog(ctx context.Context, catalog domain.Entity, principalRoles []domain.EntityCore) (domain.CreateCatalogResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.CreateCatalogResult{}, err
	}
	defer sess.Rollback()

	catalog.CatalogID = domain.NullCatalogID
	catalog.ParentID = domain.RootEntityID
	catalog.TypeCode = int(domain.TypeCatalog)

	if catalog.ID != 0 {
		byID, err := sess.LookupEntity(ctx, domain.NullCatalogID, catalog.ID, int(domain.TypeCatalog))
		if err != nil {
			return domain.CreateCatalogResult{}, err
		}
		if byID != nil {
			adminRole, err := sess.LookupEntityByName(ctx, byID.ID, byID.ID, int(domain.TypeCatalogRole), domain.CatalogAdminRoleName)
			if err != nil {
				return domain.CreateCatalogResult{}, err
			}
			if adminRole == nil {
				return domain.CreateCatalogResult{}, domain.ErrInvariant("catalog %q has no admin role", byID.Name)
			}
			return domain.CreateCatalogResult{Catalog: byID, AdminRole: adminRole}, nil
		}
	}

	collision, err := sess.LookupEntityIDAndSubTypeByName(ctx, domain.NullCatalogID, domain.RootEntityID, int(domain.TypeCatalog), catalog.Name)
	if err != nil {
		return domain.CreateCatalogResult{}, err
	}
	if collision != nil {
		return domain.CreateCatalogFailure(domain.StatusEntityAlreadyExists, catalog.Name), nil
	}

	if catalog.ID == 0 {
		id, err := sess.GenerateID(ctx)
		if err != nil {
			return domain.CreateCatalogResult{}, err
		}
		catalog.ID = id
	}

	if storageConfig := domain.DeserializeProperties(catalog.InternalProperties)[domain.StorageConfigInfoProperty]; storageConfig != "" {
		err := sess.WriteStorageIntegration(ctx, domain.StorageIntegration{
			CatalogID: catalog.ID,
			EntityID:  catalog.ID,
			Config:    storageConfig,
		})
		if err != nil {
			return domain.CreateCatalogResult{}, err
		}
	}

	if err := m.persistNewEntity(ctx, sess, &catalog); err != nil {
		if isConflict(err) {
			return domain.CreateCatalogFailure(domain.StatusEntityAlreadyExists, catalog.Name), nil
		}
		return domain.CreateCatalogResult{}, err
	}

	adminRole := domain.NewEntity(catalog.ID, 0, domain.TypeCatalogRole,
		domain.NullSubType, catalog.ID, domain.CatalogAdminRoleName)
	if err := m.persistNewEntity(ctx, sess, &adminRole); err != nil {
		return domain.CreateCatalogResult{}, err
	}

	for _, priv := range []domain.Privilege{domain.PrivCatalogManageAccess, domain.PrivCatalogManageMetadata} {
		if _, err := m.persistNewGrantRecord(ctx, sess, catalog.Core(), adminRole.Core(), priv); err != nil {
			return domain.CreateCatalogResult{}, err
		}
	}

	if len(principalRoles) == 0 {
		serviceAdmin, err := sess.LookupEntityByName(ctx, domain.NullCatalogID, domain.RootEntityID, int(domain.TypePrincipalRole), domain.ServiceAdminRoleName)
		if err != nil {
			return domain.CreateCatalogResult{}, err
		}
		if serviceAdmin == nil {
			return domain.CreateCatalogResult{}, domain.ErrInvariant("service admin role not found; service not bootstrapped")
		}
		if _, err := m.persistNewGrantRecord(ctx, sess, adminRole.Core(), serviceAdmin.Core(), domain.PrivCatalogRoleUsage); err != nil {
			return domain.CreateCatalogResult{}, err
		}
	} else {
		for _, roleCore := range principalRoles {
			role, err := sess.LookupEntity(ctx, roleCore.CatalogID, roleCore.ID, int(domain.TypePrincipalRole))
			if err != nil {
				return domain.CreateCatalogResult{}, err
			}
			if role == nil {
				return domain.CreateCatalogFailure(domain.StatusEntityCannotBeResolved, roleCore.Name), nil
			}
			if _, err := m.persistNewGrantRecord(ctx, sess, adminRole.Core(), role.Core(), domain.PrivCatalogRoleUsage); err != nil {
				return domain.CreateCatalogResult{}, err
			}
		}
	}

	if err := sess.Commit(); err != nil {
		return domain.CreateCatalogResult{}, err
	}
	return domain.CreateCatalogResult{Catalog: &catalog, AdminRole: &adminRole}, nil
}

// RotatePrincipalSecrets rotates a principal's credentials. A pending
// rotation-required marker on the principal forces a full reset even when the
// caller asked for a plain rotation; requesting a reset plants the marker so
// the next rotation resets again, and a plain rotation clears it.
func (m *Manager) RotatePrincipalSecrets(ctx context.Context, clientID string, principalID int64, reset bool) (domain.PrincipalSecretsResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.PrincipalSecretsResult{}, err
	}
	defer sess.Rollback()

	principal, err := sess.LookupEntity(ctx, domain.NullCatalogID, principalID, int(domain.TypePrincipal))
	if err != nil {
		return domain.PrincipalSecretsResult{}, err
	}
	if principal == nil {
		return domain.PrincipalSecretsFailure(domain.StatusEntityNotFound, ""), nil
	}

	props := domain.DeserializeProperties(principal.InternalProperties)
	_, markerSet := props[domain.RotationRequiredProperty]
	doReset := reset || markerSet

	secrets, err := sess.RotatePrincipalSecrets(ctx, clientID, principalID, doReset)
	if err != nil {
		if isNotFound(err) {
			return domain.PrincipalSecretsFailure(domain.StatusEntityNotFound, clientID), nil
		}
		return domain.PrincipalSecretsResult{}, err
	}

	if reset != markerSet {
		if reset {
			props[domain.RotationRequiredProperty] = "true"
		} else {
			delete(props, domain.RotationRequiredProperty)
		}
		changed := principal.Builder().InternalProperties(domain.SerializeProperties(props)).Build()
		if _, err := m.persistEntityAfterChange(ctx, sess, changed, false, *principal); err != nil {
			return domain.PrincipalSecretsResult{}, err
		}
	}

	if err := sess.Commit(); err != nil {
		return domain.PrincipalSecretsResult{}, err
	}
	return domain.PrincipalSecretsResult{Secrets: secrets}, nil
}

// LoadPrincipalSecrets fetches the stored credential hashes for a client id.
func (m *Manager) LoadPrincipalSecrets(ctx context.Context, clientID string) (domain.PrincipalSecretsResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.PrincipalSecretsResult{}, err
	}
	defer sess.Rollback()

	secrets, err := sess.LoadPrincipalSecrets(ctx, clientID)
	if err != nil {
		return domain.PrincipalSecretsResult{}, err
	}
	if secrets == nil {
		return domain.PrincipalSecretsFailure(domain.StatusEntityNotFound, clientID), nil
	}
	return domain.PrincipalSecretsResult{Secrets: secrets}, nil
}

// GetSubscopedCredsForEntity vends subscoped storage credentials for an
// entity, resolving its storage integration (falling back to the containing
// catalog's) and delegating to the configured credential vendor.
func (m *Manager) GetSubscopedCredsForEntity(ctx context.Context, catalogID, entityID int64, allowListOperation bool, allowedReadLocations, allowedWriteLocations []string) (domain.ScopedCredentialsResult, error) {
	if len(allowedReadLocations) == 0 && len(allowedWriteLocations) == 0 {
		return domain.ScopedCredentialsResult{}, domain.ErrValidation("at least one allowed location is required")
	}
	if m.vendor == nil {
		return domain.ScopedCredentialsFailure(domain.StatusSubscopeCredsError, "no credential vendor configured"), nil
	}

	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.ScopedCredentialsResult{}, err
	}

	integ, status, err := m.resolveStorageIntegration(ctx, sess, catalogID, entityID)
	_ = sess.Rollback()
	if err != nil {
		return domain.ScopedCredentialsResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.ScopedCredentialsFailure(status, ""), nil
	}

	// The vendor call goes to an external service; the transaction is closed
	// before it.
	config, err := m.vendor.ScopedCredentials(ctx, *integ, allowListOperation, allowedReadLocations, allowedWriteLocations)
	if err != nil {
		return domain.ScopedCredentialsFailure(domain.StatusSubscopeCredsError, err.Error()), nil
	}
	return domain.ScopedCredentialsResult{AccessConfig: config}, nil
}

func (m *Manager) resolveStorageIntegration(ctx context.Context, sess *repository.Session, catalogID, entityID int64) (*domain.StorageIntegration, domain.Status, error) {
	e, err := sess.LookupEntity(ctx, catalogID, entityID, 0)
	if err != nil {
		return nil, 0, err
	}
	if e == nil {
		return nil, domain.StatusEntityNotFound, nil
	}
	// Integrations are keyed by the owning catalog. For a catalog entity that
	// is its own id; for anything inside a catalog it is the entity's
	// catalog id.
	integrationID := catalogID
	if e.Type() == domain.TypeCatalog {
		integrationID = e.ID
	}
	integ, err := sess.LoadStorageIntegration(ctx, integrationID, integrationID)
	if err != nil {
		return nil, 0, err
	}
	if integ == nil {
		return nil, domain.StatusSubscopeCredsError, nil
	}
	return integ, domain.StatusSuccess, nil
}

// Purge removes every record in the metastore. Irreversible; exists for
// decommissioning and tests.
func (m *Manager) Purge(ctx context.Context) error {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback()

	if err := sess.DeleteAll(ctx); err != nil {
		return err
	}
	if err := sess.Commit(); err != nil {
		return err
	}
	m.logger.Warn("metastore purged")
	return nil
}
