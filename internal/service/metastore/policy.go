package metastore

import (
	"context"
	"errors"
	"strconv"

	"metalake/internal/db/repository"
	"metalake/internal/domain"
)

// resolvePolicyEndpoints resolves both the target and the policy of an
// attachment. It returns the active policy entity on success so the caller
// can read its type code.
func (m *Manager) resolvePolicyEndpoints(ctx context.Context, sess *repository.Session, targetPath []domain.EntityCore, target domain.EntityCore, policyPath []domain.EntityCore, policy domain.EntityCore) (*domain.Entity, domain.Status, error) {
	for _, path := range [][]domain.EntityCore{targetPath, policyPath} {
		ok, err := resolvePath(ctx, sess, path)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, domain.StatusCatalogPathCannotBeResolved, nil
		}
	}

	t, err := sess.LookupEntity(ctx, target.CatalogID, target.ID, target.TypeCode)
	if err != nil {
		return nil, 0, err
	}
	p, err := sess.LookupEntity(ctx, policy.CatalogID, policy.ID, int(domain.TypePolicy))
	if err != nil {
		return nil, 0, err
	}
	if t == nil || p == nil {
		return nil, domain.StatusEntityCannotBeResolved, nil
	}
	if !domain.ValidPolicyTarget(t.Type(), t.SubTypeCode) {
		return nil, 0, domain.ErrValidation("policies cannot be attached to %s entities", t.Type())
	}
	return p, domain.StatusSuccess, nil
}

func policyTypeCodeOf(policy *domain.Entity) (int, error) {
	raw := domain.DeserializeProperties(policy.InternalProperties)[domain.PolicyTypeProperty]
	code, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.ErrInvariant("policy %q has no valid type code", policy.Name)
	}
	return code, nil
}

// AttachPolicyToEntity attaches a policy to a target entity. For inheritable
// policy types at most one policy per type may be attached to a target;
// attaching a second reports the conflicting type. Re-attaching the same
// policy updates the mapping parameters.
func (m *Manager) AttachPolicyToEntity(ctx context.Context, targetPath []domain.EntityCore, target domain.EntityCore, policyPath []domain.EntityCore, policy domain.EntityCore, parameters map[string]string) (domain.PolicyAttachmentResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.PolicyAttachmentResult{}, err
	}
	defer sess.Rollback()

	if !sess.SupportsPolicyMappings() {
		return domain.PolicyAttachmentFailure(domain.StatusUnexpectedErrorSignaled, "store does not support policy mappings"), nil
	}

	p, status, err := m.resolvePolicyEndpoints(ctx, sess, targetPath, target, policyPath, policy)
	if err != nil {
		return domain.PolicyAttachmentResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.PolicyAttachmentFailure(status, ""), nil
	}
	typeCode, err := policyTypeCodeOf(p)
	if err != nil {
		return domain.PolicyAttachmentResult{}, err
	}

	rec := domain.PolicyMappingRecord{
		TargetCatalogID: target.CatalogID,
		TargetID:        target.ID,
		PolicyTypeCode:  typeCode,
		PolicyCatalogID: p.CatalogID,
		PolicyID:        p.ID,
		Parameters:      domain.SerializeProperties(parameters),
	}
	if err := sess.CheckConditionsForWritePolicyMapping(ctx, rec); err != nil {
		var exists *repository.PolicyMappingExistsError
		if errors.As(err, &exists) {
			res := domain.PolicyAttachmentFailure(domain.StatusPolicyMappingOfSameTypeAlreadyExists, "")
			res.ConflictingTypeCode = exists.Existing.PolicyTypeCode
			return res, nil
		}
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			return domain.PolicyAttachmentFailure(domain.StatusUnexpectedErrorSignaled, validation.Message), nil
		}
		return domain.PolicyAttachmentResult{}, err
	}
	if err := sess.WritePolicyMappingRecord(ctx, rec); err != nil {
		return domain.PolicyAttachmentResult{}, err
	}
	if err := sess.Commit(); err != nil {
		return domain.PolicyAttachmentResult{}, err
	}
	return domain.PolicyAttachmentResult{Mapping: &rec}, nil
}

// DetachPolicyFromEntity removes a policy attachment from a target entity.
func (m *Manager) DetachPolicyFromEntity(ctx context.Context, targetPath []domain.EntityCore, target domain.EntityCore, policyPath []domain.EntityCore, policy domain.EntityCore) (domain.PolicyAttachmentResult, error) {
	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.PolicyAttachmentResult{}, err
	}
	defer sess.Rollback()

	if !sess.SupportsPolicyMappings() {
		return domain.PolicyAttachmentFailure(domain.StatusUnexpectedErrorSignaled, "store does not support policy mappings"), nil
	}

	p, status, err := m.resolvePolicyEndpoints(ctx, sess, targetPath, target, policyPath, policy)
	if err != nil {
		return domain.PolicyAttachmentResult{}, err
	}
	if status != domain.StatusSuccess {
		return domain.PolicyAttachmentFailure(status, ""), nil
	}
	typeCode, err := policyTypeCodeOf(p)
	if err != nil {
		return domain.PolicyAttachmentResult{}, err
	}

	rec := domain.PolicyMappingRecord{
		TargetCatalogID: target.CatalogID,
		TargetID:        target.ID,
		PolicyTypeCode:  typeCode,
		PolicyCatalogID: p.CatalogID,
		PolicyID:        p.ID,
	}
	if err := sess.DeletePolicyMappingRecord(ctx, rec); err != nil {
		if isNotFound(err) {
			return domain.PolicyAttachmentFailure(domain.StatusPolicyMappingNotFound, ""), nil
		}
		return domain.PolicyAttachmentResult{}, err
	}
	if err := sess.Commit(); err != nil {
		return domain.PolicyAttachmentResult{}, err
	}
	return domain.PolicyAttachmentResult{Mapping: &rec}, nil
}

// LoadPoliciesOnEntity returns all policies attached to a target entity.
func (m *Manager) LoadPoliciesOnEntity(ctx context.Context, catalogID, id int64) (domain.LoadPolicyMappingsResult, error) {
	return m.loadPolicies(ctx, catalogID, id, domain.AnySubType)
}

// LoadPoliciesOnEntityByType returns the policies of one type attached to a
// target entity.
func (m *Manager) LoadPoliciesOnEntityByType(ctx context.Context, catalogID, id int64, policyType domain.PolicyType) (domain.LoadPolicyMappingsResult, error) {
	return m.loadPolicies(ctx, catalogID, id, policyType.Code())
}

func (m *Manager) loadPolicies(ctx context.Context, catalogID, id int64, policyTypeCode int) (domain.LoadPolicyMappingsResult, error) {
	sess, err := m.store.BeginRead(ctx)
	if err != nil {
		return domain.LoadPolicyMappingsResult{}, err
	}
	defer sess.Rollback()

	target, err := sess.LookupEntity(ctx, catalogID, id, 0)
	if err != nil {
		return domain.LoadPolicyMappingsResult{}, err
	}
	if target == nil {
		return domain.LoadPolicyMappingsFailure(domain.StatusEntityNotFound, ""), nil
	}

	var mappings []domain.PolicyMappingRecord
	if policyTypeCode == domain.AnySubType {
		mappings, err = sess.LoadPoliciesOnTarget(ctx, catalogID, id)
	} else {
		mappings, err = sess.LoadPoliciesOnTargetByType(ctx, catalogID, id, policyTypeCode)
	}
	if err != nil {
		return domain.LoadPolicyMappingsResult{}, err
	}

	ids := make([]domain.EntityID, len(mappings))
	for i, rec := range mappings {
		ids[i] = rec.PolicyEntityID()
	}
	loaded, err := sess.LookupEntities(ctx, ids)
	if err != nil {
		return domain.LoadPolicyMappingsResult{}, err
	}
	policies := make([]domain.Entity, 0, len(loaded))
	for _, p := range loaded {
		if p != nil {
			policies = append(policies, *p)
		}
	}

	return domain.LoadPolicyMappingsResult{Mappings: mappings, Policies: policies}, nil
}
