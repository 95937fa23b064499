package metastore

import (
	"context"

	"metalake/internal/db/repository"
	"metalake/internal/domain"
)

// persistNewGrantRecord writes a grant record and advances the grant-records
// version of both endpoints, so cached resolutions of either entity are
// invalidated.
func (m *Manager) persistNewGrantRecord(ctx context.Context, sess *repository.Session, securable, grantee domain.EntityCore, priv domain.Privilege) (*domain.GrantRecord, error) {
	if !grantee.Type().IsGrantee() {
		return nil, domain.ErrInvariant("entity type %s cannot receive grants", grantee.Type())
	}
	rec := domain.NewGrantRecord(securable, grantee, priv)
	if err := sess.WriteGrantRecord(ctx, rec); err != nil {
		if isConflict(err) {
			// The grant already exists; granting is idempotent.
			return &rec, nil
		}
		return nil, err
	}
	if _, err := m.bumpGrantRecordsVersion(ctx, sess, securable.CatalogID, securable.ID); err != nil {
		return nil, err
	}
	if _, err := m.bumpGrantRecordsVersion(ctx, sess, grantee.CatalogID, grantee.ID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// revokeGrantRecord deletes a grant record and advances the grant-records
// version of both endpoints. A missing record reports GRANT_NOT_FOUND through
// the returned status.
func (m *Manager) revokeGrantRecord(ctx context.Context, sess *repository.Session, securable, grantee domain.EntityCore, priv domain.Privilege) (domain.Status, error) {
	rec := domain.NewGrantRecord(securable, grantee, priv)
	if err := sess.DeleteGrantRecord(ctx, rec); err != nil {
		if isNotFound(err) {
			return domain.StatusGrantNotFound, nil
		}
		return 0, err
	}
	if _, err := m.bumpGrantRecordsVersion(ctx, sess, securable.CatalogID, securable.ID); err != nil {
		return 0, err
	}
	if _, err := m.bumpGrantRecordsVersion(ctx, sess, grantee.CatalogID, grantee.ID); err != nil {
		return 0, err
	}
	return domain.StatusSuccess, nil
}

// checkRoleGrantEndpoints validates the shape of a role-usage grant and
// confirms both endpoints are still active. A catalog must be supplied
// exactly when the role is a catalog role.
func (m *Manager) checkRoleGrantEndpoints(ctx context.Context, sess *repository.Session, catalog *domain.EntityCore, role, grantee domain.EntityCore) (domain.Privilege, domain.Status, error) {
	var priv domain.Privilege
	switch role.Type() {
	case domain.TypePrincipalRole:
		if catalog != nil {
			return 0, 0, domain.ErrValidation("principal role usage takes no catalog")
		}
		priv = domain.PrivPrincipalRoleUsage
	case domain.TypeCatalogRole:
		if catalog == nil {
			return 0, 0, domain.ErrValidation("catalog role usage requires the containing catalog")
		}
		priv = domain.PrivCatalogRoleUsage
	default:
		return 0, 0, domain.ErrValidation("entity type %s is not a role", role.Type())
	}

	if catalog != nil {
		c, err := sess.LookupEntity(ctx, catalog.CatalogID, catalog.ID, catalog.TypeCode)
		if err != nil {
			return 0, 0, err
		}
		if c == nil {
			return 0, domain.StatusEntityCannotBeResolved, nil
		}
	}
	r, err := sess.LookupEntity(ctx, role.CatalogID, role.ID, role.TypeCode)
	if err != nil {
		return 0, 0, err
	}
	g, err := sess.LookupEntity(ctx, grantee.CatalogID, grantee.ID, grantee.TypeCode)
	if err != nil {
		return 0, 0, err
	}
	if r == nil || g == nil {
		return 0, domain.StatusEntityCannotBeResolved, nil
	}
	return priv, domain.StatusSuccess, nil
}

// GrantUsageOnRoleToGrantee grants usage of a role: a principal role to a
// principal, or a catalog role (within its catalog) to a principal role.
func (m *Manager) GrantUsageOnRoleToGrantee(ctx context.Context, catalog *domain.EntityCore, role, grantee domain.EntityCore) (domain.PrivilegeResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	defer sess.Rollback()

	priv, status, err := m.checkRoleGrantEndpoints(ctx, sess, catalog, role, grantee)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.PrivilegeFailure(status, ""), nil
	}

	rec, err := m.persistNewGrantRecord(ctx, sess, role, grantee, priv)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	if err := sess.Commit(); err != nil {
		return domain.PrivilegeResult{}, err
	}
	return domain.PrivilegeResult{Grant: rec}, nil
}

// RevokeUsageOnRoleFromGrantee revokes usage of a role from a grantee.
func (m *Manager) RevokeUsageOnRoleFromGrantee(ctx context.Context, catalog *domain.EntityCore, role, grantee domain.EntityCore) (domain.PrivilegeResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	defer sess.Rollback()

	priv, status, err := m.checkRoleGrantEndpoints(ctx, sess, catalog, role, grantee)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.PrivilegeFailure(status, ""), nil
	}

	status, err = m.revokeGrantRecord(ctx, sess, role, grantee, priv)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.PrivilegeFailure(status, ""), nil
	}
	if err := sess.Commit(); err != nil {
		return domain.PrivilegeResult{}, err
	}
	rec := domain.NewGrantRecord(role, grantee, priv)
	return domain.PrivilegeResult{Grant: &rec}, nil
}

// checkSecurableGrantEndpoints confirms that the securable's path resolves
// and that both the securable and the grantee role are still active.
func (m *Manager) checkSecurableGrantEndpoints(ctx context.Context, sess *repository.Session, grantee domain.EntityCore, catalogPath []domain.EntityCore, securable domain.EntityCore) (domain.Status, error) {
	ok, err := resolvePath(ctx, sess, catalogPath)
	if err != nil {
		return 0, err
	}
	if !ok {
		return domain.StatusCatalogPathCannotBeResolved, nil
	}
	sec, err := sess.LookupEntity(ctx, securable.CatalogID, securable.ID, securable.TypeCode)
	if err != nil {
		return 0, err
	}
	g, err := sess.LookupEntity(ctx, grantee.CatalogID, grantee.ID, grantee.TypeCode)
	if err != nil {
		return 0, err
	}
	if sec == nil || g == nil {
		return domain.StatusEntityCannotBeResolved, nil
	}
	return domain.StatusSuccess, nil
}

// GrantPrivilegeOnSecurableToRole grants a privilege on a securable entity to
// a role grantee.
func (m *Manager) GrantPrivilegeOnSecurableToRole(ctx context.Context, grantee domain.EntityCore, catalogPath []domain.EntityCore, securable domain.EntityCore, priv domain.Privilege) (domain.PrivilegeResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	defer sess.Rollback()

	status, err := m.checkSecurableGrantEndpoints(ctx, sess, grantee, catalogPath, securable)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.PrivilegeFailure(status, ""), nil
	}

	rec, err := m.persistNewGrantRecord(ctx, sess, securable, grantee, priv)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	if err := sess.Commit(); err != nil {
		return domain.PrivilegeResult{}, err
	}
	return domain.PrivilegeResult{Grant: rec}, nil
}

// RevokePrivilegeOnSecurableFromRole revokes a privilege on a securable
// entity from a role grantee.
func (m *Manager) RevokePrivilegeOnSecurableFromRole(ctx context.Context, grantee domain.EntityCore, catalogPath []domain.EntityCore, securable domain.EntityCore, priv domain.Privilege) (domain.PrivilegeResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	defer sess.Rollback()

	status, err := m.checkSecurableGrantEndpoints(ctx, sess, grantee, catalogPath, securable)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.PrivilegeFailure(status, ""), nil
	}

	status, err = m.revokeGrantRecord(ctx, sess, securable, grantee, priv)
	if err != nil {
		return domain.PrivilegeResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.PrivilegeFailure(status, ""), nil
	}
	if err := sess.Commit(); err != nil {
		return domain.PrivilegeResult{}, err
	}
	rec := domain.NewGrantRecord(securable, grantee, priv)
	return domain.PrivilegeResult{Grant: &rec}, nil
}

// LoadGrantsOnSecurable returns all grants on a securable entity plus the
// distinct grantee entities, read at the securable's current grants version.
func (m *Manager) LoadGrantsOnSecurable(ctx context.Context, catalogID, id int64) (domain.LoadGrantsResult, error) {
	return m.loadGrants(ctx, catalogID, id, true)
}

// LoadGrantsToGrantee returns all grants to a grantee entity plus the
// distinct securable entities, read at the grantee's current grants version.
func (m *Manager) LoadGrantsToGrantee(ctx context.Context, catalogID, id int64) (domain.LoadGrantsResult, error) {
	return m.loadGrants(ctx, catalogID, id, false)
}

func (m *Manager) loadGrants(ctx context.Context, catalogID, id int64, onSecurable bool) (domain.LoadGrantsResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.LoadGrantsResult{}, err
	}
	defer sess.Rollback()

	versions, err := sess.LookupEntityVersions(ctx, []domain.EntityID{{CatalogID: catalogID, ID: id}})
	if err != nil {
		return domain.LoadGrantsResult{}, err
	}
	if versions[0] == nil {
		return domain.LoadGrantsFailure(domain.StatusEntityNotFound, ""), nil
	}

	var grants []domain.GrantRecord
	if onSecurable {
		grants, err = sess.LoadGrantRecordsOnSecurable(ctx, catalogID, id)
	} else {
		grants, err = sess.LoadGrantRecordsOnGrantee(ctx, catalogID, id)
	}
	if err != nil {
		return domain.LoadGrantsResult{}, err
	}

	seen := map[domain.EntityID]struct{}{}
	var otherIDs []domain.EntityID
	for _, g := range grants {
		var other domain.EntityID
		if onSecurable {
			other = g.GranteeEntityID()
		} else {
			other = g.SecurableEntityID()
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		otherIDs = append(otherIDs, other)
	}
	loaded, err := sess.LookupEntities(ctx, otherIDs)
	if err != nil {
		return domain.LoadGrantsResult{}, err
	}
	entities := make([]domain.Entity, 0, len(loaded))
	for _, e := range loaded {
		// Endpoints dropped since the records were written are skipped.
		if e != nil {
			entities = append(entities, *e)
		}
	}

	return domain.LoadGrantsResult{
		GrantsVersion: versions[0].GrantRecordsVersion,
		Grants:        grants,
		Entities:      entities,
	}, nil
}
