package domain

import (
	"strconv"
	"time"
)

// Task property keys. Task entities reuse the generic Entity shape; execution
// state is carried in the serialized properties map.
const (
	TaskTypeProperty            = "taskType"
	TaskDataProperty            = "data"
	TaskLastAttemptExecutorID   = "lastAttemptExecutorId"
	TaskLastAttemptStartTime    = "lastAttemptStartTime"
	TaskAttemptCountProperty    = "attemptCount"
	TaskEntityCleanupNamePrefix = "entityCleanup_"
)

// Task type codes.
const (
	TaskTypeEntityCleanup = 1
)

// DefaultTaskTimeout is the lease age after which a task is considered
// abandoned and may be reclaimed by another executor.
const DefaultTaskTimeout = 5 * time.Minute

// TaskExecutionState is the parsed lease state of a task entity.
type TaskExecutionState struct {
	ExecutorID           string
	LastAttemptStartTime int64
	AttemptCount         int
}

// ParseTaskState extracts the lease state from a task entity's properties.
// Returns nil when the entity has no parseable execution state.
func ParseTaskState(e *Entity) *TaskExecutionState {
	props := DeserializeProperties(e.Properties)
	if len(props) == 0 {
		return nil
	}
	state := &TaskExecutionState{ExecutorID: props[TaskLastAttemptExecutorID]}
	if v := props[TaskLastAttemptStartTime]; v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil
		}
		state.LastAttemptStartTime = ts
	}
	if v := props[TaskAttemptCountProperty]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		state.AttemptCount = n
	}
	return state
}

// LeaseExpired reports whether the task's lease is older than timeout at the
// given time. A task with no lease at all is available by definition.
func (s *TaskExecutionState) LeaseExpired(now time.Time, timeout time.Duration) bool {
	if s == nil || s.ExecutorID == "" {
		return true
	}
	return now.UnixMilli()-s.LastAttemptStartTime > timeout.Milliseconds()
}
