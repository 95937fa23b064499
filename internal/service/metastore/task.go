package metastore

import (
	"context"
	"strconv"

	"metalake/internal/domain"
)

// LoadTasks leases up to limit available tasks to the given executor. A task
// is available when it has never been attempted or its previous lease has
// aged past the task timeout. Leasing is all-or-nothing: every returned task
// has been stamped with the executor id, a fresh attempt start time and a
// bumped attempt count in one transaction. Losing a version race on any task
// aborts the whole batch with a RetryConflictError; callers retry.
func (m *Manager) LoadTasks(ctx context.Context, executorID string, limit int) (domain.EntitiesResult, error) {
	if executorID == "" {
		return domain.EntitiesResult{}, domain.ErrValidation("executor id is required")
	}
	if limit <= 0 {
		limit = domain.DefaultMaxResults
	}

	sess, err := m.store.BeginReadWrite(ctx)
	if err != nil {
		return domain.EntitiesResult{}, err
	}
	defer sess.Rollback()

	now := m.clock()
	cutoff := now.UnixMilli() - m.taskTimeout.Milliseconds()
	candidates, err := sess.ListActiveTasks(ctx, cutoff, limit)
	if err != nil {
		return domain.EntitiesResult{}, err
	}

	leased := make([]domain.Entity, 0, len(candidates))
	for _, task := range candidates {
		state := domain.ParseTaskState(&task)
		if !state.LeaseExpired(now, m.taskTimeout) {
			continue
		}

		attempt := 1
		if state != nil {
			attempt = state.AttemptCount + 1
		}
		props := domain.DeserializeProperties(task.Properties)
		props[domain.TaskLastAttemptExecutorID] = executorID
		props[domain.TaskLastAttemptStartTime] = strconv.FormatInt(now.UnixMilli(), 10)
		props[domain.TaskAttemptCountProperty] = strconv.Itoa(attempt)

		changed := task.Builder().Properties(domain.SerializeProperties(props)).Build()
		persisted, err := m.persistEntityAfterChange(ctx, sess, changed, false, task)
		if err != nil {
			if isConflict(err) {
				return domain.EntitiesResult{}, domain.ErrRetryConflict("lost lease race on task %d", task.ID)
			}
			return domain.EntitiesResult{}, err
		}
		leased = append(leased, persisted)
	}

	if err := sess.Commit(); err != nil {
		return domain.EntitiesResult{}, err
	}
	return domain.EntitiesResult{Entities: leased}, nil
}
