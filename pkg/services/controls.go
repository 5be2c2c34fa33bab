package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/otelhelper"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// IssueRequest describes an issue to open.
type IssueRequest struct {
	CycleID  string `json:"cycle_id"`
	Title    string `json:"title"    validate:"required,min=3"`
	Severity string `json:"severity" validate:"required,oneof=low medium high critical"`
}

// ControlRequest describes a compensating control to add to an open issue.
type ControlRequest struct {
	IssueID     string    `json:"issue_id"    validate:"required"`
	Description string    `json:"description" validate:"required,min=10"`
	Owner       string    `json:"owner"       validate:"required"`
	ExpiresAt   time.Time `json:"expires_at"  validate:"required"`
}

// Controls manages issues and the compensating controls that reference them.
type Controls struct {
	persistence persistence.Persistence
	settings    settings
	logger      *slog.Logger
}

func NewControls(persistence persistence.Persistence, logger *slog.Logger, opts ...Option) *Controls {
	return &Controls{
		persistence: persistence,
		settings:    newSettings(opts),
		logger:      logger.With("module", "controls"),
	}
}

func (c *Controls) OpenIssue(ctx context.Context, scope models.Scope, req IssueRequest) (*models.Issue, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	req.Title = strings.TrimSpace(req.Title)
	if err := checkRequest("OpenIssue", req); err != nil {
		return nil, err
	}

	if req.CycleID != "" {
		if _, err := c.persistence.CycleRepository().GetByID(ctx, scope.TenantID, req.CycleID); err != nil {
			return nil, err
		}
	}

	issue := &models.Issue{
		ID:        uuid.New().String(),
		TenantID:  scope.TenantID,
		CycleID:   req.CycleID,
		Title:     req.Title,
		Severity:  req.Severity,
		Status:    models.IssueStatusOpen,
		CreatedAt: c.settings.clock.Now().UTC(),
	}

	if err := c.persistence.IssueRepository().SaveIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("failed to save issue: %w", err)
	}

	c.logger.InfoContext(ctx, "issue opened", "issue_id", issue.ID, "severity", issue.Severity)

	return issue, nil
}

func (c *Controls) FetchIssue(ctx context.Context, scope models.Scope, issueID string) (*models.Issue, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	return c.persistence.IssueRepository().IssueByID(ctx, scope.TenantID, issueID)
}

// CloseIssue closes an issue. Its controls stop being active.
func (c *Controls) CloseIssue(ctx context.Context, scope models.Scope, issueID string) (*models.Issue, error) {
	issue, err := c.FetchIssue(ctx, scope, issueID)
	if err != nil {
		return nil, err
	}

	if issue.Status == models.IssueStatusClosed {
		return issue, nil
	}

	now := c.settings.clock.Now().UTC()
	issue.Status = models.IssueStatusClosed
	issue.ClosedAt = &now

	if err := c.persistence.IssueRepository().SaveIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("failed to save issue: %w", err)
	}

	c.logger.InfoContext(ctx, "issue closed", "issue_id", issue.ID)

	return issue, nil
}

// AddCompensatingControl validates a control and links it to an open issue. Field violations are
// reported as a ControlValidationError before the issue is looked up; an unknown issue is reported as
// persistence.ErrIssueNotFound.
func (c *Controls) AddCompensatingControl(ctx context.Context, scope models.Scope, req ControlRequest) (control *models.CompensatingControl, err error) {
	ctx, span := c.settings.span(ctx, "controls.add",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.IssueIDKey, req.IssueID),
	)
	defer func() { endSpan(span, err) }()

	if err := checkScope(scope); err != nil {
		return nil, err
	}

	now := c.settings.clock.Now().UTC()

	req.Description = strings.TrimSpace(req.Description)
	req.Owner = strings.TrimSpace(req.Owner)

	var messages []string
	if err := validate.Struct(req); err != nil {
		messages = FieldMessages(err)
	}

	if !req.ExpiresAt.IsZero() && !req.ExpiresAt.After(now) {
		messages = append(messages, "expires_at must be in the future")
	}

	if len(messages) > 0 {
		return nil, &ControlValidationError{Messages: messages}
	}

	issue, err := c.persistence.IssueRepository().IssueByID(ctx, scope.TenantID, req.IssueID)
	if err != nil {
		return nil, err
	}

	if issue.Status != models.IssueStatusOpen {
		return nil, fmt.Errorf("%w: %s", ErrIssueClosed, issue.ID)
	}

	control = &models.CompensatingControl{
		ID:          uuid.New().String(),
		TenantID:    scope.TenantID,
		IssueID:     issue.ID,
		Description: req.Description,
		Owner:       req.Owner,
		ExpiresAt:   req.ExpiresAt.UTC(),
		CreatedBy:   scope.UserID,
		CreatedAt:   now,
	}

	if err := c.persistence.IssueRepository().SaveControl(ctx, control); err != nil {
		return nil, fmt.Errorf("failed to save compensating control: %w", err)
	}

	c.logger.InfoContext(ctx, "compensating control added", "control_id", control.ID, "issue_id", issue.ID, "expires_at", control.ExpiresAt)

	return control, nil
}

// ActiveControls returns the controls of an issue that have not expired. A closed issue has none.
func (c *Controls) ActiveControls(ctx context.Context, scope models.Scope, issueID string) ([]*models.CompensatingControl, error) {
	issue, err := c.FetchIssue(ctx, scope, issueID)
	if err != nil {
		return nil, err
	}

	controls, err := c.persistence.IssueRepository().ControlsByIssue(ctx, scope.TenantID, issueID)
	if err != nil {
		return nil, err
	}

	now := c.settings.clock.Now()
	active := make([]*models.CompensatingControl, 0, len(controls))

	for _, control := range controls {
		if control.IsActive(issue, now) {
			active = append(active, control)
		}
	}

	return active, nil
}
