package file

import (
	"context"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// ArtifactRepository keeps the current version of each artifact as
// tenants/<tenant>/artifacts/<cycle>/<type>.json. Reviews live next to them under reviews/.
type ArtifactRepository struct {
	docs *documents
}

func (r *ArtifactRepository) Save(_ context.Context, artifact *models.Artifact) error {
	if err := r.docs.write(artifact, artifact.TenantID, "artifacts", artifact.CycleID, artifact.Type); err != nil {
		return persistence.NewEntityError("Save", "artifact", artifact.TenantID, artifact.CycleID+"/"+artifact.Type, err)
	}

	return nil
}

func (r *ArtifactRepository) Get(_ context.Context, tenantID, cycleID, artifactType string) (*models.Artifact, error) {
	var artifact models.Artifact

	found, err := r.docs.read(&artifact, tenantID, "artifacts", cycleID, artifactType)
	if err != nil {
		return nil, persistence.NewEntityError("Get", "artifact", tenantID, cycleID+"/"+artifactType, err)
	}

	if !found || artifact.TenantID != tenantID {
		return nil, persistence.NewEntityError("Get", "artifact", tenantID, cycleID+"/"+artifactType, persistence.ErrArtifactNotFound)
	}

	return &artifact, nil
}

type ReviewRepository struct {
	docs *documents
}

func (r *ReviewRepository) Save(_ context.Context, review *models.ReconciliationReview) error {
	if err := r.docs.write(review, review.TenantID, "reviews", review.ID); err != nil {
		return persistence.NewEntityError("Save", "review", review.TenantID, review.ID, err)
	}

	return nil
}

func (r *ReviewRepository) GetByID(_ context.Context, tenantID, reviewID string) (*models.ReconciliationReview, error) {
	var review models.ReconciliationReview

	found, err := r.docs.read(&review, tenantID, "reviews", reviewID)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "review", tenantID, reviewID, err)
	}

	if !found || review.TenantID != tenantID {
		return nil, persistence.NewEntityError("GetByID", "review", tenantID, reviewID, persistence.ErrReviewNotFound)
	}

	return &review, nil
}
