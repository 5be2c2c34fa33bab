package postgresql

import (
	"context"
	"database/sql"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// IssueRepository handles issues and their compensating controls.
type IssueRepository struct {
	db *sql.DB
}

func (r *IssueRepository) SaveIssue(ctx context.Context, issue *models.Issue) error {
	document, err := marshalDocument(issue)
	if err != nil {
		return persistence.NewEntityError("SaveIssue", "issue", issue.TenantID, issue.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO issues (tenant_id, id, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, id) DO UPDATE SET document = EXCLUDED.document
	`, issue.TenantID, issue.ID, document)
	if err != nil {
		return persistence.NewEntityError("SaveIssue", "issue", issue.TenantID, issue.ID, err)
	}

	return nil
}

func (r *IssueRepository) IssueByID(ctx context.Context, tenantID, issueID string) (*models.Issue, error) {
	issue, found, err := getDocument[models.Issue](ctx, r.db,
		`SELECT document FROM issues WHERE tenant_id = $1 AND id = $2`, tenantID, issueID)
	if err != nil {
		return nil, persistence.NewEntityError("IssueByID", "issue", tenantID, issueID, err)
	}

	if !found {
		return nil, persistence.NewEntityError("IssueByID", "issue", tenantID, issueID, persistence.ErrIssueNotFound)
	}

	return issue, nil
}

func (r *IssueRepository) SaveControl(ctx context.Context, control *models.CompensatingControl) error {
	document, err := marshalDocument(control)
	if err != nil {
		return persistence.NewEntityError("SaveControl", "control", control.TenantID, control.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO compensating_controls (tenant_id, id, issue_id, document, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, id) DO UPDATE SET document = EXCLUDED.document
	`, control.TenantID, control.ID, control.IssueID, document, control.CreatedAt)
	if err != nil {
		return persistence.NewEntityError("SaveControl", "control", control.TenantID, control.ID, err)
	}

	return nil
}

func (r *IssueRepository) ControlsByIssue(ctx context.Context, tenantID, issueID string) ([]*models.CompensatingControl, error) {
	controls, err := listDocuments[models.CompensatingControl](ctx, r.db, `
		SELECT document FROM compensating_controls
		WHERE tenant_id = $1 AND issue_id = $2
		ORDER BY created_at, id
	`, tenantID, issueID)
	if err != nil {
		return nil, persistence.NewEntityError("ControlsByIssue", "control", tenantID, issueID, err)
	}

	return controls, nil
}
