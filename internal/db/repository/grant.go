package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"metalake/internal/domain"
)

const grantColumns = `securable_catalog_id, securable_id, grantee_catalog_id, grantee_id, privilege_code`

func scanGrantRecord(row interface{ Scan(...any) error }) (*domain.GrantRecord, error) {
	var g domain.GrantRecord
	err := row.Scan(&g.SecurableCatalogID, &g.SecurableID, &g.GranteeCatalogID, &g.GranteeID, &g.PrivilegeCode)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// WriteGrantRecord inserts a grant record. Writing a record that already
// exists surfaces as a ConflictError.
func (s *Session) WriteGrantRecord(ctx context.Context, g domain.GrantRecord) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO grant_records (`+grantColumns+`) VALUES (?, ?, ?, ?, ?)`,
		g.SecurableCatalogID, g.SecurableID, g.GranteeCatalogID, g.GranteeID, g.PrivilegeCode,
	)
	if err != nil {
		return mapDBError(fmt.Errorf("write grant record: %w", err))
	}
	return nil
}

// DeleteGrantRecord removes a grant record. Deleting a record that does not
// exist surfaces as a NotFoundError.
func (s *Session) DeleteGrantRecord(ctx context.Context, g domain.GrantRecord) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	res, err := s.tx.ExecContext(ctx,
		`DELETE FROM grant_records
		 WHERE securable_catalog_id = ? AND securable_id = ?
		   AND grantee_catalog_id = ? AND grantee_id = ? AND privilege_code = ?`,
		g.SecurableCatalogID, g.SecurableID, g.GranteeCatalogID, g.GranteeID, g.PrivilegeCode,
	)
	if err != nil {
		return fmt.Errorf("delete grant record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete grant record: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("grant record not found")
	}
	return nil
}

// LookupGrantRecord fetches one grant record by its full identity. Returns nil
// without error when it does not exist.
func (s *Session) LookupGrantRecord(ctx context.Context, g domain.GrantRecord) (*domain.GrantRecord, error) {
	rec, err := scanGrantRecord(s.tx.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM grant_records
		 WHERE securable_catalog_id = ? AND securable_id = ?
		   AND grantee_catalog_id = ? AND grantee_id = ? AND privilege_code = ?`,
		g.SecurableCatalogID, g.SecurableID, g.GranteeCatalogID, g.GranteeID, g.PrivilegeCode,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup grant record: %w", err)
	}
	return rec, nil
}

// LoadGrantRecordsOnSecurable returns all grants where the given entity is the
// securable.
func (s *Session) LoadGrantRecordsOnSecurable(ctx context.Context, catalogID, id int64) ([]domain.GrantRecord, error) {
	return s.loadGrantRecords(ctx,
		`SELECT `+grantColumns+` FROM grant_records
		 WHERE securable_catalog_id = ? AND securable_id = ?
		 ORDER BY grantee_catalog_id, grantee_id, privilege_code`,
		catalogID, id,
	)
}

// LoadGrantRecordsOnGrantee returns all grants where the given entity is the
// grantee.
func (s *Session) LoadGrantRecordsOnGrantee(ctx context.Context, catalogID, id int64) ([]domain.GrantRecord, error) {
	return s.loadGrantRecords(ctx,
		`SELECT `+grantColumns+` FROM grant_records
		 WHERE grantee_catalog_id = ? AND grantee_id = ?
		 ORDER BY securable_catalog_id, securable_id, privilege_code`,
		catalogID, id,
	)
}

func (s *Session) loadGrantRecords(ctx context.Context, query string, args ...any) ([]domain.GrantRecord, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load grant records: %w", err)
	}
	defer rows.Close()

	var out []domain.GrantRecord
	for rows.Next() {
		g, err := scanGrantRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("load grant records: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load grant records: %w", err)
	}
	return out, nil
}

// DeleteAllEntityGrantRecords removes every grant record referencing the
// entity, on either side.
func (s *Session) DeleteAllEntityGrantRecords(ctx context.Context, catalogID, id int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx,
		`DELETE FROM grant_records
		 WHERE (securable_catalog_id = ? AND securable_id = ?)
		    OR (grantee_catalog_id = ? AND grantee_id = ?)`,
		catalogID, id, catalogID, id,
	)
	if err != nil {
		return fmt.Errorf("delete grant records of (%d, %d): %w", catalogID, id, err)
	}
	return nil
}
