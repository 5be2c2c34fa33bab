package postgresql

import (
	"context"
	"database/sql"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// ArtifactRepository keeps the current version of each artifact of a cycle.
type ArtifactRepository struct {
	db *sql.DB
}

func (r *ArtifactRepository) Save(ctx context.Context, artifact *models.Artifact) error {
	id := artifact.CycleID + "/" + artifact.Type

	document, err := marshalDocument(artifact)
	if err != nil {
		return persistence.NewEntityError("Save", "artifact", artifact.TenantID, id, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO artifacts (tenant_id, cycle_id, type, version, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, cycle_id, type) DO UPDATE SET
			version = EXCLUDED.version,
			document = EXCLUDED.document
	`, artifact.TenantID, artifact.CycleID, artifact.Type, artifact.Version, document)
	if err != nil {
		return persistence.NewEntityError("Save", "artifact", artifact.TenantID, id, err)
	}

	return nil
}

func (r *ArtifactRepository) Get(ctx context.Context, tenantID, cycleID, artifactType string) (*models.Artifact, error) {
	id := cycleID + "/" + artifactType

	artifact, found, err := getDocument[models.Artifact](ctx, r.db,
		`SELECT document FROM artifacts WHERE tenant_id = $1 AND cycle_id = $2 AND type = $3`,
		tenantID, cycleID, artifactType)
	if err != nil {
		return nil, persistence.NewEntityError("Get", "artifact", tenantID, id, err)
	}

	if !found {
		return nil, persistence.NewEntityError("Get", "artifact", tenantID, id, persistence.ErrArtifactNotFound)
	}

	return artifact, nil
}

// ReviewRepository handles reconciliation reviews.
type ReviewRepository struct {
	db *sql.DB
}

func (r *ReviewRepository) Save(ctx context.Context, review *models.ReconciliationReview) error {
	document, err := marshalDocument(review)
	if err != nil {
		return persistence.NewEntityError("Save", "review", review.TenantID, review.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_reviews (tenant_id, id, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, id) DO UPDATE SET document = EXCLUDED.document
	`, review.TenantID, review.ID, document)
	if err != nil {
		return persistence.NewEntityError("Save", "review", review.TenantID, review.ID, err)
	}

	return nil
}

func (r *ReviewRepository) GetByID(ctx context.Context, tenantID, reviewID string) (*models.ReconciliationReview, error) {
	review, found, err := getDocument[models.ReconciliationReview](ctx, r.db,
		`SELECT document FROM reconciliation_reviews WHERE tenant_id = $1 AND id = $2`, tenantID, reviewID)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "review", tenantID, reviewID, err)
	}

	if !found {
		return nil, persistence.NewEntityError("GetByID", "review", tenantID, reviewID, persistence.ErrReviewNotFound)
	}

	return review, nil
}
