package repository

import (
	"context"
	"fmt"

	"metalake/internal/domain"
)

// PolicyMappingExistsError reports that an inheritable policy type is already
// mapped on the target by a different policy. The existing record is carried
// so callers can name the conflicting type.
type PolicyMappingExistsError struct {
	Existing domain.PolicyMappingRecord
}

func (e *PolicyMappingExistsError) Error() string {
	return fmt.Sprintf("policy mapping of type %d already exists on target (%d, %d)",
		e.Existing.PolicyTypeCode, e.Existing.TargetCatalogID, e.Existing.TargetID)
}

const policyMappingColumns = `target_catalog_id, target_id, policy_type_code, policy_catalog_id, policy_id, parameters`

func scanPolicyMapping(row interface{ Scan(...any) error }) (*domain.PolicyMappingRecord, error) {
	var r domain.PolicyMappingRecord
	err := row.Scan(&r.TargetCatalogID, &r.TargetID, &r.PolicyTypeCode, &r.PolicyCatalogID, &r.PolicyID, &r.Parameters)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SupportsPolicyMappings reports whether this store persists policy mappings.
// The SQLite store always does; the flag exists so the core can degrade
// gracefully over stores that don't.
func (s *Session) SupportsPolicyMappings() bool { return true }

// CheckConditionsForWritePolicyMapping validates that rec may be written.
// Unknown policy types fail with a ValidationError. For inheritable types, an
// existing mapping of the same type by a different policy fails with a
// PolicyMappingExistsError carrying the current record; re-attaching the same
// policy is allowed, the write becomes a parameter update.
func (s *Session) CheckConditionsForWritePolicyMapping(ctx context.Context, rec domain.PolicyMappingRecord) error {
	if !domain.KnownPolicyType(rec.PolicyTypeCode) {
		return domain.ErrValidation("unknown policy type code %d", rec.PolicyTypeCode)
	}
	if !domain.PolicyType(rec.PolicyTypeCode).Inheritable() {
		return nil
	}
	existing, err := s.loadPoliciesOnTargetByType(ctx, rec.TargetCatalogID, rec.TargetID, rec.PolicyTypeCode)
	if err != nil {
		return err
	}
	for _, m := range existing {
		if m.PolicyCatalogID != rec.PolicyCatalogID || m.PolicyID != rec.PolicyID {
			return &PolicyMappingExistsError{Existing: m}
		}
	}
	return nil
}

// WritePolicyMappingRecord persists a policy mapping, replacing the parameters
// of an identical existing mapping.
func (s *Session) WritePolicyMappingRecord(ctx context.Context, rec domain.PolicyMappingRecord) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO policy_mapping_records (`+policyMappingColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TargetCatalogID, rec.TargetID, rec.PolicyTypeCode, rec.PolicyCatalogID, rec.PolicyID, rec.Parameters,
	)
	if err != nil {
		return fmt.Errorf("write policy mapping: %w", err)
	}
	return nil
}

// DeletePolicyMappingRecord removes a policy mapping. Deleting a mapping that
// does not exist surfaces as a NotFoundError.
func (s *Session) DeletePolicyMappingRecord(ctx context.Context, rec domain.PolicyMappingRecord) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	res, err := s.tx.ExecContext(ctx,
		`DELETE FROM policy_mapping_records
		 WHERE target_catalog_id = ? AND target_id = ? AND policy_type_code = ?
		   AND policy_catalog_id = ? AND policy_id = ?`,
		rec.TargetCatalogID, rec.TargetID, rec.PolicyTypeCode, rec.PolicyCatalogID, rec.PolicyID,
	)
	if err != nil {
		return fmt.Errorf("delete policy mapping: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete policy mapping: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("policy mapping not found")
	}
	return nil
}

// LoadPoliciesOnTarget returns all policy mappings attached to the target.
func (s *Session) LoadPoliciesOnTarget(ctx context.Context, catalogID, id int64) ([]domain.PolicyMappingRecord, error) {
	return s.loadPolicyMappings(ctx,
		`SELECT `+policyMappingColumns+` FROM policy_mapping_records
		 WHERE target_catalog_id = ? AND target_id = ?
		 ORDER BY policy_type_code, policy_catalog_id, policy_id`,
		catalogID, id,
	)
}

// LoadPoliciesOnTargetByType returns the policy mappings of one type attached
// to the target.
func (s *Session) LoadPoliciesOnTargetByType(ctx context.Context, catalogID, id int64, policyTypeCode int) ([]domain.PolicyMappingRecord, error) {
	return s.loadPoliciesOnTargetByType(ctx, catalogID, id, policyTypeCode)
}

func (s *Session) loadPoliciesOnTargetByType(ctx context.Context, catalogID, id int64, policyTypeCode int) ([]domain.PolicyMappingRecord, error) {
	return s.loadPolicyMappings(ctx,
		`SELECT `+policyMappingColumns+` FROM policy_mapping_records
		 WHERE target_catalog_id = ? AND target_id = ? AND policy_type_code = ?
		 ORDER BY policy_catalog_id, policy_id`,
		catalogID, id, policyTypeCode,
	)
}

// LoadTargetsOnPolicy returns all mappings where the given policy is attached.
func (s *Session) LoadTargetsOnPolicy(ctx context.Context, policyCatalogID, policyID int64) ([]domain.PolicyMappingRecord, error) {
	return s.loadPolicyMappings(ctx,
		`SELECT `+policyMappingColumns+` FROM policy_mapping_records
		 WHERE policy_catalog_id = ? AND policy_id = ?
		 ORDER BY target_catalog_id, target_id, policy_type_code`,
		policyCatalogID, policyID,
	)
}

func (s *Session) loadPolicyMappings(ctx context.Context, query string, args ...any) ([]domain.PolicyMappingRecord, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load policy mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.PolicyMappingRecord
	for rows.Next() {
		r, err := scanPolicyMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("load policy mappings: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load policy mappings: %w", err)
	}
	return out, nil
}

// DeleteAllEntityPolicyMappingRecords removes every mapping referencing the
// entity, whether it is the target or the policy.
func (s *Session) DeleteAllEntityPolicyMappingRecords(ctx context.Context, catalogID, id int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx,
		`DELETE FROM policy_mapping_records
		 WHERE (target_catalog_id = ? AND target_id = ?)
		    OR (policy_catalog_id = ? AND policy_id = ?)`,
		catalogID, id, catalogID, id,
	)
	if err != nil {
		return fmt.Errorf("delete policy mappings of (%d, %d): %w", catalogID, id, err)
	}
	return nil
}
