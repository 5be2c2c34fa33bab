// Package persistence provides the storage abstraction for cycles and their collaborating records.
//
// Every read path is scoped by tenant. Personal data is additionally scoped by user and session
// context by session. Save operations are idempotent upserts; cycle saves are also guarded by a
// document revision.
package persistence

import (
	"context"

	"github.com/dukex/regcycle/pkg/models"
)

type Persistence interface {
	CycleRepository() CycleRepository
	TaskRepository() TaskRepository
	IssueRepository() IssueRepository
	ArtifactRepository() ArtifactRepository
	ReviewRepository() ReviewRepository
	PreferenceRepository() PreferenceRepository
	SessionRepository() SessionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type CycleRepository interface {
	// Save stores the cycle when the stored revision still equals cycle.Revision (zero for a new
	// cycle) and then increments cycle.Revision. Otherwise it fails with ErrRevisionConflict.
	Save(ctx context.Context, cycle *models.Cycle) error
	GetByID(ctx context.Context, tenantID, cycleID string) (*models.Cycle, error)
	List(ctx context.Context, tenantID string) ([]*models.Cycle, error)
}

type TaskRepository interface {
	Save(ctx context.Context, task *models.HumanTask) error
	GetByID(ctx context.Context, tenantID, taskID string) (*models.HumanTask, error)
	ListByCycle(ctx context.Context, tenantID, cycleID string) ([]*models.HumanTask, error)
}

type IssueRepository interface {
	SaveIssue(ctx context.Context, issue *models.Issue) error
	IssueByID(ctx context.Context, tenantID, issueID string) (*models.Issue, error)
	SaveControl(ctx context.Context, control *models.CompensatingControl) error
	ControlsByIssue(ctx context.Context, tenantID, issueID string) ([]*models.CompensatingControl, error)
}

type ArtifactRepository interface {
	Save(ctx context.Context, artifact *models.Artifact) error
	Get(ctx context.Context, tenantID, cycleID, artifactType string) (*models.Artifact, error)
}

type ReviewRepository interface {
	Save(ctx context.Context, review *models.ReconciliationReview) error
	GetByID(ctx context.Context, tenantID, reviewID string) (*models.ReconciliationReview, error)
}

type PreferenceRepository interface {
	Save(ctx context.Context, preference *models.Preference) error
	Get(ctx context.Context, tenantID, userID string) (*models.Preference, error)
}

type SessionRepository interface {
	Save(ctx context.Context, session *models.SessionContext) error
	Get(ctx context.Context, tenantID, sessionID string) (*models.SessionContext, error)
	Delete(ctx context.Context, tenantID, sessionID string) error
}
