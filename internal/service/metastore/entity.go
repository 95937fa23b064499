package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"metalake/internal/db/repository"
	"metalake/internal/domain"
)

// CreateEntityIfNotExists creates an entity under the given ancestor path.
// Retries are idempotent: recreating an entity with the same id and name
// returns the stored one as success. A name collision with a different entity
// fails with ENTITY_ALREADY_EXISTS.
func (m *Manager) CreateEntityIfNotExists(ctx context.Context, catalogPath []domain.EntityCore, entity domain.Entity) (domain.EntityResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.EntityResult{}, err
	}
	defer sess.Rollback()

	res, err := m.createEntity(ctx, sess, catalogPath, entity)
	if err != nil || !res.IsSuccess() {
		return res, err
	}
	return res, sess.Commit()
}

// CreateEntitiesIfNotExist creates a batch of entities under the same path in
// one transaction. Already-existing identical entities are returned as-is;
// any name collision fails the whole batch.
func (m *Manager) CreateEntitiesIfNotExist(ctx context.Context, catalogPath []domain.EntityCore, entities []domain.Entity) (domain.EntitiesResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.EntitiesResult{}, err
	}
	defer sess.Rollback()

	created := make([]domain.Entity, 0, len(entities))
	for _, entity := range entities {
		res, err := m.createEntity(ctx, sess, catalogPath, entity)
		if err != nil {
			return domain.EntitiesResult{}, err
		}
		if !res.IsSuccess() {
			return domain.EntitiesFailure(res.Status, res.ExtraInfo), nil
		}
		created = append(created, *res.Entity)
	}
	if err := sess.Commit(); err != nil {
		return domain.EntitiesResult{}, err
	}
	return domain.EntitiesResult{Entities: created}, nil
}

func (m *Manager) createEntity(ctx context.Context, sess *repository.Session, catalogPath []domain.EntityCore, entity domain.Entity) (domain.EntityResult, error) {
	ok, err := resolvePath(ctx, sess, catalogPath)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if !ok {
		return domain.EntityFailure(domain.StatusCatalogPathCannotBeResolved, ""), nil
	}

	entity.CatalogID = catalogIDOrZero(catalogPath)
	entity.ParentID = pathParentID(catalogPath)

	if entity.ID != 0 {
		existing, err := sess.LookupEntity(ctx, entity.CatalogID, entity.ID, entity.TypeCode)
		if err != nil {
			return domain.EntityResult{}, err
		}
		if existing != nil {
			// The creation already committed; return the stored entity as-is.
			return domain.EntitySuccess(existing), nil
		}
	}

	collision, err := sess.LookupEntityIDAndSubTypeByName(ctx, entity.CatalogID, entity.ParentID, entity.TypeCode, entity.Name)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if collision != nil {
		return domain.EntityFailure(domain.StatusEntityAlreadyExists,
			fmt.Sprintf("subTypeCode=%d", collision.SubTypeCode)), nil
	}

	if err := m.persistNewEntity(ctx, sess, &entity); err != nil {
		if isConflict(err) {
			return domain.EntityFailure(domain.StatusEntityAlreadyExists, entity.Name), nil
		}
		return domain.EntityResult{}, err
	}
	return domain.EntitySuccess(&entity), nil
}

// UpdateEntityPropertiesIfNotChanged writes new properties for an entity,
// conditional on the caller-held entity version still being current.
func (m *Manager) UpdateEntityPropertiesIfNotChanged(ctx context.Context, catalogPath []domain.EntityCore, entity domain.Entity) (domain.EntityResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.EntityResult{}, err
	}
	defer sess.Rollback()

	res, err := m.updateEntityProperties(ctx, sess, catalogPath, entity)
	if err != nil || !res.IsSuccess() {
		return res, err
	}
	return res, sess.Commit()
}

// EntityWithPath pairs an entity with the ancestor path it lives under, for
// batched multi-path updates.
type EntityWithPath struct {
	CatalogPath []domain.EntityCore
	Entity      domain.Entity
}

// UpdateEntitiesPropertiesIfNotChanged applies a batch of conditional property
// updates in one transaction; any version mismatch fails the whole batch.
func (m *Manager) UpdateEntitiesPropertiesIfNotChanged(ctx context.Context, entities []EntityWithPath) (domain.EntitiesResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.EntitiesResult{}, err
	}
	defer sess.Rollback()

	updated := make([]domain.Entity, 0, len(entities))
	for _, ep := range entities {
		res, err := m.updateEntityProperties(ctx, sess, ep.CatalogPath, ep.Entity)
		if err != nil {
			return domain.EntitiesResult{}, err
		}
		if !res.IsSuccess() {
			return domain.EntitiesFailure(res.Status, res.ExtraInfo), nil
		}
		updated = append(updated, *res.Entity)
	}
	if err := sess.Commit(); err != nil {
		return domain.EntitiesResult{}, err
	}
	return domain.EntitiesResult{Entities: updated}, nil
}

func (m *Manager) updateEntityProperties(ctx context.Context, sess *repository.Session, catalogPath []domain.EntityCore, entity domain.Entity) (domain.EntityResult, error) {
	ok, err := resolvePath(ctx, sess, catalogPath)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if !ok {
		return domain.EntityFailure(domain.StatusCatalogPathCannotBeResolved, ""), nil
	}

	fresh, err := sess.LookupEntity(ctx, entity.CatalogID, entity.ID, entity.TypeCode)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if fresh == nil {
		return domain.EntityFailure(domain.StatusEntityNotFound, ""), nil
	}
	if fresh.EntityVersion != entity.EntityVersion {
		return domain.EntityFailure(domain.StatusTargetEntityConcurrentlyModified,
			fmt.Sprintf("expected version %d, found %d", entity.EntityVersion, fresh.EntityVersion)), nil
	}

	changed := fresh.Builder().
		Properties(entity.Properties).
		InternalProperties(entity.InternalProperties).
		Build()
	persisted, err := m.persistEntityAfterChange(ctx, sess, changed, false, *fresh)
	if err != nil {
		if isConflict(err) {
			return domain.EntityFailure(domain.StatusTargetEntityConcurrentlyModified, ""), nil
		}
		return domain.EntityResult{}, err
	}
	return domain.EntitySuccess(&persisted), nil
}

// RenameEntity renames an entity and optionally moves it to a new parent path
// within the same catalog. The operation is conditional on the caller-held
// entity version; protected system entities cannot be renamed.
func (m *Manager) RenameEntity(ctx context.Context, catalogPath []domain.EntityCore, entityToRename domain.EntityCore, newCatalogPath []domain.EntityCore, renamedEntity domain.Entity) (domain.EntityResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.EntityResult{}, err
	}
	defer sess.Rollback()

	ok, err := resolvePath(ctx, sess, catalogPath)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if ok && newCatalogPath != nil {
		ok, err = resolvePath(ctx, sess, newCatalogPath)
		if err != nil {
			return domain.EntityResult{}, err
		}
	}
	if !ok {
		return domain.EntityFailure(domain.StatusCatalogPathCannotBeResolved, ""), nil
	}

	fresh, err := sess.LookupEntity(ctx, entityToRename.CatalogID, entityToRename.ID, entityToRename.TypeCode)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if fresh == nil {
		return domain.EntityFailure(domain.StatusEntityNotFound, ""), nil
	}
	if fresh.CannotBeDroppedOrRenamed() {
		return domain.EntityFailure(domain.StatusEntityCannotBeRenamed, fresh.Name), nil
	}
	if fresh.EntityVersion != entityToRename.EntityVersion {
		return domain.EntityFailure(domain.StatusTargetEntityConcurrentlyModified, ""), nil
	}

	destPath := catalogPath
	if newCatalogPath != nil {
		destPath = newCatalogPath
	}
	if catalogIDOrZero(destPath) != fresh.CatalogID {
		return domain.EntityResult{}, domain.ErrValidation("rename cannot move an entity across catalogs")
	}
	destParent := pathParentID(destPath)

	collision, err := sess.LookupEntityIDAndSubTypeByName(ctx, fresh.CatalogID, destParent, fresh.TypeCode, renamedEntity.Name)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if collision != nil {
		return domain.EntityFailure(domain.StatusEntityAlreadyExists, renamedEntity.Name), nil
	}

	changed := fresh.Builder().
		Name(renamedEntity.Name).
		ParentID(destParent).
		Build()
	if renamedEntity.Properties != "" {
		changed = changed.Builder().Properties(renamedEntity.Properties).Build()
	}
	if renamedEntity.InternalProperties != "" {
		changed = changed.Builder().InternalProperties(renamedEntity.InternalProperties).Build()
	}
	persisted, err := m.persistEntityAfterChange(ctx, sess, changed, true, *fresh)
	if err != nil {
		if isConflict(err) {
			return domain.EntityFailure(domain.StatusEntityAlreadyExists, renamedEntity.Name), nil
		}
		return domain.EntityResult{}, err
	}
	if err := sess.Commit(); err != nil {
		return domain.EntityResult{}, err
	}
	return domain.EntitySuccess(&persisted), nil
}

// DropEntityIfExists drops an entity and all records attached to it. Dropping
// an already-absent entity reports ENTITY_NOT_FOUND; containers must be empty
// first. With cleanup set, a cleanup task holding the serialized entity is
// created in the same transaction and its id is returned.
func (m *Manager) DropEntityIfExists(ctx context.Context, catalogPath []domain.EntityCore, entityToDrop domain.EntityCore, cleanupProperties map[string]string, cleanup bool) (domain.DropEntityResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.DropEntityResult{}, err
	}
	defer sess.Rollback()

	ok, err := resolvePath(ctx, sess, catalogPath)
	if err != nil {
		return domain.DropEntityResult{}, err
	}
	if !ok {
		return domain.DropFailure(domain.StatusCatalogPathCannotBeResolved, ""), nil
	}

	fresh, err := sess.LookupEntity(ctx, entityToDrop.CatalogID, entityToDrop.ID, entityToDrop.TypeCode)
	if err != nil {
		return domain.DropEntityResult{}, err
	}
	if fresh == nil {
		return domain.DropFailure(domain.StatusEntityNotFound, ""), nil
	}
	if fresh.CannotBeDroppedOrRenamed() {
		return domain.DropFailure(domain.StatusEntityUndroppable, fresh.Name), nil
	}

	switch fresh.Type() {
	case domain.TypeNamespace:
		nonEmpty, err := sess.HasChildren(ctx, fresh.CatalogID, fresh.ID, 0)
		if err != nil {
			return domain.DropEntityResult{}, err
		}
		if nonEmpty {
			return domain.DropFailure(domain.StatusNamespaceNotEmpty, fresh.Name), nil
		}

	case domain.TypeCatalog:
		nonEmpty, err := sess.HasChildren(ctx, fresh.ID, fresh.ID, int(domain.TypeNamespace))
		if err != nil {
			return domain.DropEntityResult{}, err
		}
		if nonEmpty {
			return domain.DropFailure(domain.StatusNamespaceNotEmpty, fresh.Name), nil
		}
		// A catalog with only its bootstrap admin role is considered empty;
		// the role goes down with the catalog.
		roles, _, err := sess.ListEntities(ctx, fresh.ID, fresh.ID, int(domain.TypeCatalogRole), nil, domain.PageRequest{MaxResults: 2})
		if err != nil {
			return domain.DropEntityResult{}, err
		}
		if len(roles) > 1 {
			return domain.DropFailure(domain.StatusCatalogNotEmpty, fresh.Name), nil
		}
		if len(roles) == 1 {
			if err := m.dropEntityCascade(ctx, sess, &roles[0]); err != nil {
				return domain.DropEntityResult{}, err
			}
		}

	case domain.TypePolicy:
		mappings, err := sess.LoadTargetsOnPolicy(ctx, fresh.CatalogID, fresh.ID)
		if err != nil {
			return domain.DropEntityResult{}, err
		}
		if len(mappings) > 0 && !cleanup {
			return domain.DropFailure(domain.StatusPolicyHasMappings, fresh.Name), nil
		}
	}

	if err := m.dropEntityCascade(ctx, sess, fresh); err != nil {
		return domain.DropEntityResult{}, err
	}

	var taskID int64
	if cleanup && fresh.Type() != domain.TypePolicy {
		taskID, err = m.scheduleCleanupTask(ctx, sess, *fresh, cleanupProperties)
		if err != nil {
			return domain.DropEntityResult{}, err
		}
	}
	if err := sess.Commit(); err != nil {
		return domain.DropEntityResult{}, err
	}
	return domain.DropEntityResult{CleanupTaskID: taskID}, nil
}

// dropEntityCascade removes the entity and everything hanging off it: grant
// records on both sides (bumping the grants version of each surviving
// counterpart exactly once), policy mappings, principal secrets, and the
// storage integration of a catalog. The row itself moves to the dropped set.
func (m *Manager) dropEntityCascade(ctx context.Context, sess *repository.Session, e *domain.Entity) error {
	onSecurable, err := sess.LoadGrantRecordsOnSecurable(ctx, e.CatalogID, e.ID)
	if err != nil {
		return err
	}
	onGrantee, err := sess.LoadGrantRecordsOnGrantee(ctx, e.CatalogID, e.ID)
	if err != nil {
		return err
	}
	if err := sess.DeleteAllEntityGrantRecords(ctx, e.CatalogID, e.ID); err != nil {
		return err
	}

	self := domain.EntityID{CatalogID: e.CatalogID, ID: e.ID}
	counterparts := map[domain.EntityID]struct{}{}
	for _, g := range onSecurable {
		counterparts[g.GranteeEntityID()] = struct{}{}
	}
	for _, g := range onGrantee {
		counterparts[g.SecurableEntityID()] = struct{}{}
	}
	delete(counterparts, self)
	for id := range counterparts {
		if _, err := m.bumpGrantRecordsVersion(ctx, sess, id.CatalogID, id.ID); err != nil {
			return err
		}
	}

	if err := sess.DeleteAllEntityPolicyMappingRecords(ctx, e.CatalogID, e.ID); err != nil {
		return err
	}

	if e.Type() == domain.TypePrincipal {
		clientID := domain.DeserializeProperties(e.InternalProperties)[domain.ClientIDProperty]
		if clientID != "" {
			if err := sess.DeletePrincipalSecrets(ctx, clientID, e.ID); err != nil {
				return err
			}
		}
	}
	if e.Type() == domain.TypeCatalog {
		if err := sess.DeleteStorageIntegration(ctx, e.ID, e.ID); err != nil {
			return err
		}
	}

	ts := m.now()
	dropped := e.Builder().DropTimestamp(ts).LastUpdateTimestamp(ts).Build()
	return sess.DeleteEntity(ctx, dropped)
}

func (m *Manager) scheduleCleanupTask(ctx context.Context, sess *repository.Session, dropped domain.Entity, cleanupProperties map[string]string) (int64, error) {
	id, err := sess.GenerateID(ctx)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(dropped)
	if err != nil {
		return 0, err
	}

	props := map[string]string{}
	for k, v := range cleanupProperties {
		props[k] = v
	}
	props[domain.TaskTypeProperty] = strconv.Itoa(domain.TaskTypeEntityCleanup)
	props[domain.TaskDataProperty] = string(data)

	task := domain.NewEntity(domain.NullCatalogID, id, domain.TypeTask, domain.NullSubType,
		domain.RootEntityID, domain.TaskEntityCleanupNamePrefix+strconv.FormatInt(dropped.ID, 10))
	task.Properties = domain.SerializeProperties(props)
	if err := m.persistNewEntity(ctx, sess, &task); err != nil {
		return 0, err
	}
	return task.ID, nil
}

// ReadEntityByName resolves an entity by name under the given path. The
// subtype must match unless AnySubType is passed.
func (m *Manager) ReadEntityByName(ctx context.Context, catalogPath []domain.EntityCore, typ domain.EntityType, subTypeCode int, name string) (domain.EntityResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.EntityResult{}, err
	}
	defer sess.Rollback()

	ok, err := resolvePath(ctx, sess, catalogPath)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if !ok {
		return domain.EntityFailure(domain.StatusCatalogPathCannotBeResolved, ""), nil
	}

	e, err := sess.LookupEntityByName(ctx, catalogIDOrZero(catalogPath), pathParentID(catalogPath), int(typ), name)
	if err != nil {
		return domain.EntityResult{}, err
	}
	if e == nil || (subTypeCode != domain.AnySubType && e.SubTypeCode != subTypeCode) {
		return domain.EntityFailure(domain.StatusEntityNotFound, name), nil
	}
	return domain.EntitySuccess(e), nil
}

// ListEntities returns one page of entities of a kind under the given path,
// optionally narrowed to a subtype.
func (m *Manager) ListEntities(ctx context.Context, catalogPath []domain.EntityCore, typ domain.EntityType, subTypeCode int, page domain.PageRequest) (domain.EntitiesResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.EntitiesResult{}, err
	}
	defer sess.Rollback()

	ok, err := resolvePath(ctx, sess, catalogPath)
	if err != nil {
		return domain.EntitiesResult{}, err
	}
	if !ok {
		return domain.EntitiesFailure(domain.StatusCatalogPathCannotBeResolved, ""), nil
	}

	var filter func(*domain.Entity) bool
	if subTypeCode != domain.AnySubType {
		filter = func(e *domain.Entity) bool { return e.SubTypeCode == subTypeCode }
	}
	entities, token, err := sess.ListEntities(ctx, catalogIDOrZero(catalogPath), pathParentID(catalogPath), int(typ), filter, page)
	if err != nil {
		return domain.EntitiesResult{}, err
	}
	return domain.EntitiesResult{Entities: entities, NextPageToken: token}, nil
}

// LoadEntity fetches an entity by id.
func (m *Manager) LoadEntity(ctx context.Context, catalogID, id int64, typ domain.EntityType) (domain.EntityResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.EntityResult{}, err
	}
	defer sess.Rollback()

	e, err := sess.LookupEntity(ctx, catalogID, id, int(typ))
	if err != nil {
		return domain.EntityResult{}, err
	}
	if e == nil {
		return domain.EntityFailure(domain.StatusEntityNotFound, ""), nil
	}
	return domain.EntitySuccess(e), nil
}

// LoadEntitiesChangeTracking fetches the version counter pairs for a batch of
// entities, aligned with ids; purged entities yield nil slots.
func (m *Manager) LoadEntitiesChangeTracking(ctx context.Context, ids []domain.EntityID) (domain.ChangeTrackingResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.ChangeTrackingResult{}, err
	}
	defer sess.Rollback()

	versions, err := sess.LookupEntityVersions(ctx, ids)
	if err != nil {
		return domain.ChangeTrackingResult{}, err
	}
	return domain.ChangeTrackingResult{Versions: versions}, nil
}

// LoadResolvedEntityByID fetches an entity by id together with all grant
// records referencing it, for cache population.
func (m *Manager) LoadResolvedEntityByID(ctx context.Context, catalogID, id int64, typ domain.EntityType) (domain.ResolvedEntityResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	defer sess.Rollback()

	return m.loadResolvedEntity(ctx, sess, catalogID, id, typ)
}

func (m *Manager) loadResolvedEntity(ctx context.Context, sess *repository.Session, catalogID, id int64, typ domain.EntityType) (domain.ResolvedEntityResult, error) {
	e, err := sess.LookupEntity(ctx, catalogID, id, int(typ))
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	if e == nil {
		return domain.ResolvedEntityFailure(domain.StatusEntityNotFound, ""), nil
	}
	grants, err := m.loadAllGrants(ctx, sess, e)
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	return domain.ResolvedEntityResult{
		Entity:              e,
		GrantRecordsVersion: e.GrantRecordsVersion,
		Grants:              grants,
	}, nil
}

// loadAllGrants returns every grant record referencing the entity: grants on
// it as a securable, plus grants to it when it can be a grantee.
func (m *Manager) loadAllGrants(ctx context.Context, sess *repository.Session, e *domain.Entity) ([]domain.GrantRecord, error) {
	grants, err := sess.LoadGrantRecordsOnSecurable(ctx, e.CatalogID, e.ID)
	if err != nil {
		return nil, err
	}
	if e.Type().IsGrantee() {
		toGrantee, err := sess.LoadGrantRecordsOnGrantee(ctx, e.CatalogID, e.ID)
		if err != nil {
			return nil, err
		}
		grants = append(grants, toGrantee...)
	}
	return grants, nil
}

// LoadResolvedEntityByName resolves an entity by name together with its grant
// records. A missing root container is repaired on first access: services
// bootstrapped before the root container existed get one backfilled in a
// separate write transaction.
func (m *Manager) LoadResolvedEntityByName(ctx context.Context, catalogID, parentID int64, typ domain.EntityType, name string) (domain.ResolvedEntityResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}

	res, err := m.loadResolvedEntityByName(ctx, sess, catalogID, parentID, typ, name)
	_ = sess.Rollback()
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	if res.IsSuccess() || typ != domain.TypeRoot || name != domain.RootContainerName {
		return res, nil
	}

	if err := m.backfillRootContainer(ctx); err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	sess, err = m.store.BeginRead(ctx)
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	defer sess.Rollback()
	return m.loadResolvedEntityByName(ctx, sess, catalogID, parentID, typ, name)
}

func (m *Manager) loadResolvedEntityByName(ctx context.Context, sess *repository.Session, catalogID, parentID int64, typ domain.EntityType, name string) (domain.ResolvedEntityResult, error) {
	e, err := sess.LookupEntityByName(ctx, catalogID, parentID, int(typ), name)
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	if e == nil {
		return domain.ResolvedEntityFailure(domain.StatusEntityNotFound, name), nil
	}
	grants, err := m.loadAllGrants(ctx, sess, e)
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	return domain.ResolvedEntityResult{
		Entity:              e,
		GrantRecordsVersion: e.GrantRecordsVersion,
		Grants:              grants,
	}, nil
}

func (m *Manager) backfillRootContainer(ctx context.Context) error {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback()

	root := domain.NewEntity(domain.NullCatalogID, domain.RootEntityID, domain.TypeRoot,
		domain.NullSubType, domain.RootEntityID, domain.RootContainerName)
	if err := m.persistNewEntity(ctx, sess, &root); err != nil {
		// Lost the race to another repairing caller; theirs is as good as ours.
		if isConflict(err) {
			return nil
		}
		return err
	}
	m.logger.Info("backfilled missing root container")
	return sess.Commit()
}

// RefreshResolvedEntity reloads a cached entity incrementally: the entity
// payload comes back only if its version moved past entityVersion, and grant
// records only if the grants version moved past grantRecordsVersion.
func (m *Manager) RefreshResolvedEntity(ctx context.Context, entityVersion, grantRecordsVersion int, catalogID, id int64, typ domain.EntityType) (domain.ResolvedEntityResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	defer sess.Rollback()

	e, err := sess.LookupEntity(ctx, catalogID, id, int(typ))
	if err != nil {
		return domain.ResolvedEntityResult{}, err
	}
	if e == nil {
		return domain.ResolvedEntityFailure(domain.StatusEntityNotFound, ""), nil
	}

	res := domain.ResolvedEntityResult{GrantRecordsVersion: e.GrantRecordsVersion}
	if e.EntityVersion != entityVersion {
		res.Entity = e
	}
	if e.GrantRecordsVersion != grantRecordsVersion {
		grants, err := m.loadAllGrants(ctx, sess, e)
		if err != nil {
			return domain.ResolvedEntityResult{}, err
		}
		res.Grants = grants
	}
	return res, nil
}
