package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/otelhelper"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/reconcile"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Reconciliation diffs regenerated artifacts against their stored version and applies the changes a
// reviewer approved.
type Reconciliation struct {
	persistence persistence.Persistence
	settings    settings
	logger      *slog.Logger
	artifacts   *keyedMutex
}

func NewReconciliation(persistence persistence.Persistence, logger *slog.Logger, opts ...Option) *Reconciliation {
	return &Reconciliation{
		persistence: persistence,
		settings:    newSettings(opts),
		logger:      logger.With("module", "reconciliation"),
		artifacts:   newKeyedMutex(),
	}
}

// storedArtifact returns the stored artifact or an empty version 0 artifact.
func (r *Reconciliation) storedArtifact(ctx context.Context, tenantID, cycleID, artifactType string) (*models.Artifact, error) {
	artifact, err := r.persistence.ArtifactRepository().Get(ctx, tenantID, cycleID, artifactType)
	if err == nil {
		return artifact, nil
	}

	if !persistence.IsArtifactNotFound(err) {
		return nil, err
	}

	return &models.Artifact{
		TenantID: tenantID,
		CycleID:  cycleID,
		Type:     artifactType,
		Items:    []models.ArtifactItem{},
	}, nil
}

func (r *Reconciliation) FetchArtifact(ctx context.Context, scope models.Scope, cycleID, artifactType string) (*models.Artifact, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	return r.persistence.ArtifactRepository().Get(ctx, scope.TenantID, cycleID, artifactType)
}

// ReconcileArtifact compares incoming items with the stored artifact and records the result as a
// pending review. Nothing is applied until ApplyReview.
func (r *Reconciliation) ReconcileArtifact(
	ctx context.Context,
	scope models.Scope,
	cycleID, artifactType string,
	incoming []models.ArtifactItem,
) (review *models.ReconciliationReview, err error) {
	ctx, span := r.settings.span(ctx, "reconciliation.reconcile",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.CycleIDKey, cycleID),
		attribute.String(otelhelper.ArtifactTypeKey, artifactType),
	)
	defer func() { endSpan(span, err) }()

	if err := checkScope(scope); err != nil {
		return nil, err
	}

	if strings.TrimSpace(artifactType) == "" {
		return nil, NewValidationError("ReconcileArtifact", "artifact_type_required", "artifact type is required", ErrInvalidRequest)
	}

	if _, err := r.persistence.CycleRepository().GetByID(ctx, scope.TenantID, cycleID); err != nil {
		return nil, err
	}

	existing, err := r.storedArtifact(ctx, scope.TenantID, cycleID, artifactType)
	if err != nil {
		return nil, err
	}

	result := reconcile.Reconcile(existing.Items, incoming)
	if err := reconcile.Validate(result); err != nil {
		return nil, err
	}

	review = &models.ReconciliationReview{
		ID:           uuid.New().String(),
		TenantID:     scope.TenantID,
		CycleID:      cycleID,
		ArtifactType: artifactType,
		BaseVersion:  existing.Version,
		Result:       *result,
		Decisions:    map[string]bool{},
		Status:       models.ReviewStatusPending,
		CreatedBy:    scope.UserID,
		CreatedAt:    r.settings.clock.Now().UTC(),
	}

	if err := r.persistence.ReviewRepository().Save(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}

	r.logger.InfoContext(ctx, "artifact reconciled",
		"review_id", review.ID,
		"artifact_type", artifactType,
		"matched", result.Matched,
		"added", result.Added,
		"removed", result.Removed,
		"modified", result.Modified,
	)

	return review, nil
}

func (r *Reconciliation) FetchReview(ctx context.Context, scope models.Scope, reviewID string) (*models.ReconciliationReview, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	return r.persistence.ReviewRepository().GetByID(ctx, scope.TenantID, reviewID)
}

// DecideChange approves or rejects one added, removed or modified item of a pending review.
func (r *Reconciliation) DecideChange(ctx context.Context, scope models.Scope, reviewID, key string, approve bool) (*models.ReconciliationReview, error) {
	review, err := r.FetchReview(ctx, scope, reviewID)
	if err != nil {
		return nil, err
	}

	unlock := r.artifacts.lock(artifactKey(review))
	defer unlock()

	// reload under the artifact mutex so concurrent decisions are not lost
	review, err = r.persistence.ReviewRepository().GetByID(ctx, scope.TenantID, reviewID)
	if err != nil {
		return nil, err
	}

	if review.Status != models.ReviewStatusPending {
		return nil, fmt.Errorf("%w: %s", ErrReviewApplied, reviewID)
	}

	if !reviewable(review, key) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChange, key)
	}

	if review.Decisions == nil {
		review.Decisions = map[string]bool{}
	}

	review.Decisions[key] = approve

	if err := r.persistence.ReviewRepository().Save(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}

	return review, nil
}

func reviewable(review *models.ReconciliationReview, key string) bool {
	for _, item := range review.Result.Items {
		if item.Key == key {
			return item.Status != models.ReconciliationMatched
		}
	}

	return false
}

func artifactKey(review *models.ReconciliationReview) string {
	return strings.Join([]string{review.TenantID, review.CycleID, review.ArtifactType}, "/")
}

// ApplyReview stores the reviewed artifact as the next version. Approved changes take the incoming
// item; rejected and undecided changes keep the stored one. The review is refused with ErrStaleReview
// when the artifact changed after the review was created.
func (r *Reconciliation) ApplyReview(ctx context.Context, scope models.Scope, reviewID string) (artifact *models.Artifact, err error) {
	ctx, span := r.settings.span(ctx, "reconciliation.apply",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.ReviewIDKey, reviewID),
	)
	defer func() { endSpan(span, err) }()

	review, err := r.FetchReview(ctx, scope, reviewID)
	if err != nil {
		return nil, err
	}

	unlock := r.artifacts.lock(artifactKey(review))
	defer unlock()

	review, err = r.persistence.ReviewRepository().GetByID(ctx, scope.TenantID, reviewID)
	if err != nil {
		return nil, err
	}

	if review.Status != models.ReviewStatusPending {
		return nil, fmt.Errorf("%w: %s", ErrReviewApplied, reviewID)
	}

	current, err := r.storedArtifact(ctx, review.TenantID, review.CycleID, review.ArtifactType)
	if err != nil {
		return nil, err
	}

	if current.Version != review.BaseVersion {
		return nil, fmt.Errorf("%w: review %s is based on version %d, stored version is %d",
			ErrStaleReview, reviewID, review.BaseVersion, current.Version)
	}

	items, applied, rejected := reviewedItems(review)
	now := r.settings.clock.Now().UTC()

	artifact = &models.Artifact{
		TenantID:  review.TenantID,
		CycleID:   review.CycleID,
		Type:      review.ArtifactType,
		Items:     items,
		Version:   current.Version + 1,
		UpdatedAt: now,
	}

	if err := r.persistence.ArtifactRepository().Save(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to save artifact: %w", err)
	}

	review.Status = models.ReviewStatusApplied
	review.AppliedAt = &now

	if err := r.persistence.ReviewRepository().Save(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}

	r.logger.InfoContext(ctx, "reconciliation applied",
		"review_id", reviewID, "artifact_type", artifact.Type, "version", artifact.Version,
		"applied", applied, "rejected", rejected)

	r.settings.publish(ctx, r.logger, events.ReconciliationApplied{
		BaseEvent: events.NewBaseEvent(events.ReconciliationAppliedEvent, review.TenantID, review.CycleID, now),
		Payload: events.ReconciliationPayload{
			ReviewID:     review.ID,
			ArtifactType: artifact.Type,
			Version:      artifact.Version,
			Applied:      applied,
			Rejected:     rejected,
			ActorID:      scope.UserID,
		},
	})

	return artifact, nil
}

// reviewedItems builds the item list of the next artifact version in reconciliation order.
func reviewedItems(review *models.ReconciliationReview) ([]models.ArtifactItem, int, int) {
	items := make([]models.ArtifactItem, 0, len(review.Result.Items))
	applied, rejected := 0, 0

	keep := func(item *models.ArtifactItem) {
		if item != nil {
			items = append(items, *item)
		}
	}

	for _, item := range review.Result.Items {
		if item.Status == models.ReconciliationMatched {
			keep(item.NewValue)

			continue
		}

		if !review.Decisions[item.Key] {
			rejected++

			keep(item.ExistingValue)

			continue
		}

		applied++

		keep(item.NewValue)
	}

	return items, applied, rejected
}
