package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"metalake/internal/domain"
)

const entityColumns = `catalog_id, id, parent_id, type_code, sub_type_code, name,
	entity_version, grant_records_version, properties, internal_properties,
	create_timestamp, drop_timestamp, last_update_timestamp`

func scanEntity(row interface{ Scan(...any) error }) (*domain.Entity, error) {
	var e domain.Entity
	err := row.Scan(
		&e.CatalogID, &e.ID, &e.ParentID, &e.TypeCode, &e.SubTypeCode, &e.Name,
		&e.EntityVersion, &e.GrantRecordsVersion, &e.Properties, &e.InternalProperties,
		&e.CreateTimestamp, &e.DropTimestamp, &e.LastUpdateTimestamp,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// LookupEntity fetches an active entity by identity. The type code guards
// against id reuse across kinds; pass 0 to skip the check.
// Returns nil without error when the entity does not exist.
func (s *Session) LookupEntity(ctx context.Context, catalogID, id int64, typeCode int) (*domain.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities_active WHERE catalog_id = ? AND id = ?`
	args := []any{catalogID, id}
	if typeCode != int(domain.TypeNull) {
		query += ` AND type_code = ?`
		args = append(args, typeCode)
	}
	e, err := scanEntity(s.tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup entity (%d, %d): %w", catalogID, id, err)
	}
	return e, nil
}

// LookupEntities fetches a batch of active entities by identity. The result is
// aligned with ids: missing entities yield nil slots.
func (s *Session) LookupEntities(ctx context.Context, ids []domain.EntityID) ([]*domain.Entity, error) {
	out := make([]*domain.Entity, len(ids))
	for i, id := range ids {
		e, err := s.LookupEntity(ctx, id.CatalogID, id.ID, 0)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// LookupEntityVersions fetches the version counter pair for a batch of active
// entities. The result is aligned with ids: missing entities yield nil slots.
func (s *Session) LookupEntityVersions(ctx context.Context, ids []domain.EntityID) ([]*domain.ChangeTracking, error) {
	out := make([]*domain.ChangeTracking, len(ids))
	for i, id := range ids {
		var ct domain.ChangeTracking
		err := s.tx.QueryRowContext(ctx,
			`SELECT entity_version, grant_records_version FROM entities_active WHERE catalog_id = ? AND id = ?`,
			id.CatalogID, id.ID,
		).Scan(&ct.EntityVersion, &ct.GrantRecordsVersion)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup entity versions (%d, %d): %w", id.CatalogID, id.ID, err)
		}
		out[i] = &ct
	}
	return out, nil
}

// LookupEntityByName fetches an active entity by its sibling-unique name key.
// Returns nil without error when no such entity exists.
func (s *Session) LookupEntityByName(ctx context.Context, catalogID, parentID int64, typeCode int, name string) (*domain.Entity, error) {
	e, err := scanEntity(s.tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities_active
		 WHERE catalog_id = ? AND parent_id = ? AND type_code = ? AND name = ?`,
		catalogID, parentID, typeCode, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup entity by name %q: %w", name, err)
	}
	return e, nil
}

// LookupEntityIDAndSubTypeByName fetches the identity projection of an active
// entity by name, without loading the full row.
func (s *Session) LookupEntityIDAndSubTypeByName(ctx context.Context, catalogID, parentID int64, typeCode int, name string) (*domain.EntityNameRecord, error) {
	var rec domain.EntityNameRecord
	err := s.tx.QueryRowContext(ctx,
		`SELECT catalog_id, id, parent_id, type_code, sub_type_code, name FROM entities_active
		 WHERE catalog_id = ? AND parent_id = ? AND type_code = ? AND name = ?`,
		catalogID, parentID, typeCode, name,
	).Scan(&rec.CatalogID, &rec.ID, &rec.ParentID, &rec.TypeCode, &rec.SubTypeCode, &rec.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup entity id by name %q: %w", name, err)
	}
	return &rec, nil
}

// ListEntities returns one page of active entities under a parent, ordered by
// id. The optional filter is applied after the page is fetched, so a page may
// come back short without the listing being exhausted; the returned token is
// computed from the fetched count, not the filtered count.
func (s *Session) ListEntities(ctx context.Context, catalogID, parentID int64, typeCode int, filter func(*domain.Entity) bool, page domain.PageRequest) ([]domain.Entity, string, error) {
	offset := page.Offset()
	limit := page.Limit()

	rows, err := s.tx.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities_active
		 WHERE catalog_id = ? AND parent_id = ? AND type_code = ?
		 ORDER BY id LIMIT ? OFFSET ?`,
		catalogID, parentID, typeCode, limit, offset,
	)
	if err != nil {
		return nil, "", fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []domain.Entity
	fetched := 0
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, "", fmt.Errorf("list entities: %w", err)
		}
		fetched++
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list entities: %w", err)
	}
	return out, domain.NextPageToken(offset, fetched, limit), nil
}

// HasChildren reports whether any active entity lives under the given parent.
// A non-zero typeCode restricts the check to children of that kind.
func (s *Session) HasChildren(ctx context.Context, catalogID, parentID int64, typeCode int) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM entities_active WHERE catalog_id = ? AND parent_id = ?`
	args := []any{catalogID, parentID}
	if typeCode != int(domain.TypeNull) {
		query += ` AND type_code = ?`
		args = append(args, typeCode)
	}
	query += `)`

	var exists bool
	if err := s.tx.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check children of (%d, %d): %w", catalogID, parentID, err)
	}
	return exists, nil
}

// WriteEntity persists an entity snapshot.
//
// With original == nil the entity is inserted; a sibling name collision
// surfaces as a ConflictError. With original set, the row is updated only if
// its stored entity_version still equals original's; a zero-row update means
// someone else got there first and also surfaces as a ConflictError.
//
// nameOrParentChanged tells the store whether the by-name key moved, so
// unchanged writes can skip touching those columns.
func (s *Session) WriteEntity(ctx context.Context, e domain.Entity, nameOrParentChanged bool, original *domain.Entity) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	if original == nil {
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO entities_active (`+entityColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.CatalogID, e.ID, e.ParentID, e.TypeCode, e.SubTypeCode, e.Name,
			e.EntityVersion, e.GrantRecordsVersion, e.Properties, e.InternalProperties,
			e.CreateTimestamp, e.DropTimestamp, e.LastUpdateTimestamp,
		)
		if err != nil {
			return mapDBError(fmt.Errorf("insert entity %q: %w", e.Name, err))
		}
		return nil
	}

	set := `entity_version = ?, grant_records_version = ?, sub_type_code = ?,
		properties = ?, internal_properties = ?, last_update_timestamp = ?`
	args := []any{
		e.EntityVersion, e.GrantRecordsVersion, e.SubTypeCode,
		e.Properties, e.InternalProperties, e.LastUpdateTimestamp,
	}
	if nameOrParentChanged {
		set += `, name = ?, parent_id = ?`
		args = append(args, e.Name, e.ParentID)
	}
	args = append(args, e.CatalogID, e.ID, original.EntityVersion)

	res, err := s.tx.ExecContext(ctx,
		`UPDATE entities_active SET `+set+` WHERE catalog_id = ? AND id = ? AND entity_version = ?`,
		args...,
	)
	if err != nil {
		return mapDBError(fmt.Errorf("update entity %q: %w", e.Name, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entity %q: %w", e.Name, err)
	}
	if n == 0 {
		return domain.ErrConflict("entity %q was concurrently modified", e.Name)
	}
	return nil
}

// WriteEntities persists a batch of entity snapshots in order. Each element of
// originals pairs with the entity at the same index; a nil slot means insert.
func (s *Session) WriteEntities(ctx context.Context, entities []domain.Entity, originals []*domain.Entity) error {
	for i, e := range entities {
		var original *domain.Entity
		if originals != nil {
			original = originals[i]
		}
		if err := s.WriteEntity(ctx, e, true, original); err != nil {
			return err
		}
	}
	return nil
}

// DeleteEntity drops an entity: the row moves from the active table to the
// dropped table, keeping its identity and final state. The caller must have
// set DropTimestamp on e.
func (s *Session) DeleteEntity(ctx context.Context, e domain.Entity) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	if e.DropTimestamp == 0 {
		return domain.ErrValidation("drop timestamp not set on entity %q", e.Name)
	}
	res, err := s.tx.ExecContext(ctx,
		`DELETE FROM entities_active WHERE catalog_id = ? AND id = ?`,
		e.CatalogID, e.ID,
	)
	if err != nil {
		return fmt.Errorf("drop entity %q: %w", e.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("drop entity %q: %w", e.Name, err)
	}
	if n == 0 {
		return domain.ErrNotFound("entity %q not found", e.Name)
	}
	_, err = s.tx.ExecContext(ctx,
		`INSERT INTO entities_dropped (`+entityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CatalogID, e.ID, e.ParentID, e.TypeCode, e.SubTypeCode, e.Name,
		e.EntityVersion, e.GrantRecordsVersion, e.Properties, e.InternalProperties,
		e.CreateTimestamp, e.DropTimestamp, e.LastUpdateTimestamp,
	)
	if err != nil {
		return mapDBError(fmt.Errorf("record dropped entity %q: %w", e.Name, err))
	}
	return nil
}

// ListActiveTasks returns up to limit available task entities ordered by id,
// regardless of parent. Available means never leased, or leased with a start
// time before cutoff. Filtering happens in the query so tasks holding live
// leases do not crowd available ones out of the limit window.
func (s *Session) ListActiveTasks(ctx context.Context, cutoff int64, limit int) ([]domain.Entity, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities_active
		 WHERE type_code = ?
		   AND (json_extract(properties, '$.lastAttemptExecutorId') IS NULL
		        OR json_extract(properties, '$.lastAttemptExecutorId') = ''
		        OR CAST(json_extract(properties, '$.lastAttemptStartTime') AS INTEGER) < ?)
		 ORDER BY id LIMIT ?`,
		int(domain.TypeTask), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}
