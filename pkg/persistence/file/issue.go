package file

import (
	"context"
	"slices"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// IssueRepository stores issues and compensating controls under the tenant directory.
type IssueRepository struct {
	docs *documents
}

func (r *IssueRepository) SaveIssue(_ context.Context, issue *models.Issue) error {
	if err := r.docs.write(issue, issue.TenantID, "issues", issue.ID); err != nil {
		return persistence.NewEntityError("SaveIssue", "issue", issue.TenantID, issue.ID, err)
	}

	return nil
}

func (r *IssueRepository) IssueByID(_ context.Context, tenantID, issueID string) (*models.Issue, error) {
	var issue models.Issue

	found, err := r.docs.read(&issue, tenantID, "issues", issueID)
	if err != nil {
		return nil, persistence.NewEntityError("IssueByID", "issue", tenantID, issueID, err)
	}

	if !found || issue.TenantID != tenantID {
		return nil, persistence.NewEntityError("IssueByID", "issue", tenantID, issueID, persistence.ErrIssueNotFound)
	}

	return &issue, nil
}

func (r *IssueRepository) SaveControl(_ context.Context, control *models.CompensatingControl) error {
	if err := r.docs.write(control, control.TenantID, "controls", control.ID); err != nil {
		return persistence.NewEntityError("SaveControl", "control", control.TenantID, control.ID, err)
	}

	return nil
}

func (r *IssueRepository) ControlsByIssue(_ context.Context, tenantID, issueID string) ([]*models.CompensatingControl, error) {
	controls, err := readAll[models.CompensatingControl](r.docs, tenantID, "controls")
	if err != nil {
		return nil, persistence.NewEntityError("ControlsByIssue", "control", tenantID, issueID, err)
	}

	controls = slices.DeleteFunc(controls, func(c *models.CompensatingControl) bool {
		return c.TenantID != tenantID || c.IssueID != issueID
	})

	slices.SortStableFunc(controls, func(a, b *models.CompensatingControl) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return controls, nil
}
