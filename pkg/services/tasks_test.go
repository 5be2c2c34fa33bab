package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasks_CreateHumanTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := f.cycles.Tasks()

	cycle := f.start(t)

	id, err := tasks.CreateHumanTask(ctx, alice, TaskDescriptor{
		CycleID:    cycle.ID,
		Type:       models.TaskTypeReview,
		Title:      "Review data lineage",
		AssignedTo: "bob",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := tasks.FetchTask(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskTypeReview, task.Type)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, "bob", task.AssignedTo)
	assert.Empty(t, task.Decisions)

	listed, err := tasks.ListCycleTasks(ctx, alice, cycle.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestTasks_CreateHumanTask_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := f.cycles.Tasks()

	cycle := f.start(t)

	_, err := tasks.CreateHumanTask(ctx, alice, TaskDescriptor{CycleID: cycle.ID, Type: "paperwork", Title: "x"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Contains(t, serviceErr.Message, "type must be one of")

	_, err = tasks.CreateHumanTask(ctx, alice, TaskDescriptor{CycleID: cycle.ID, Type: models.TaskTypeApproval})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = tasks.CreateHumanTask(ctx, mallory, TaskDescriptor{CycleID: cycle.ID, Type: models.TaskTypeApproval, Title: "Sign off"})
	assert.True(t, persistence.IsCycleNotFound(err))
}

func TestTasks_CompleteHumanTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := f.cycles.Tasks()

	cycle := f.start(t)

	_, err := tasks.CompleteHumanTask(ctx, bob, cycle.AttestationTaskID, "maybe", "")
	require.ErrorIs(t, err, ErrInvalidDecision)
	assert.True(t, IsValidationError(err))

	task, err := tasks.CompleteHumanTask(ctx, bob, cycle.AttestationTaskID, models.DecisionRejected, "numbers do not tie out")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)
	assert.False(t, task.IsApproved())

	task, err = tasks.CompleteHumanTask(ctx, bob, cycle.AttestationTaskID, models.DecisionApproved, "fixed")
	require.NoError(t, err)
	require.Len(t, task.Decisions, 2)
	assert.Equal(t, "bob", task.LastDecision().DecidedBy)
	assert.Equal(t, "fixed", task.LastDecision().Rationale)
	assert.True(t, task.IsApproved())

	var completed []events.TaskCompleted
	for _, event := range f.published.Events() {
		if e, ok := event.(events.TaskCompleted); ok {
			completed = append(completed, e)
		}
	}

	require.Len(t, completed, 2)
	assert.Equal(t, "approved", completed[1].Payload.Outcome)
	assert.Equal(t, cycle.ID, completed[1].CycleID)
}

func TestTasks_CompleteHumanTask_ConcurrentDecisionsAreAllRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := f.cycles.Tasks()

	cycle := f.start(t)

	const reviewers = 12

	var wg sync.WaitGroup

	for i := range reviewers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			reviewer := models.Scope{TenantID: "tenant-a", UserID: fmt.Sprintf("reviewer-%d", i), SessionID: "session"}
			_, err := tasks.CompleteHumanTask(ctx, reviewer, cycle.AttestationTaskID, models.DecisionApproved, "looks right")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	task, err := tasks.FetchTask(ctx, alice, cycle.AttestationTaskID)
	require.NoError(t, err)
	require.Len(t, task.Decisions, reviewers)

	deciders := make(map[string]bool, reviewers)
	for _, decision := range task.Decisions {
		deciders[decision.DecidedBy] = true
	}

	assert.Len(t, deciders, reviewers)
}
