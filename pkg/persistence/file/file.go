// Package file provides file-based persistence of cycles and their collaborating records.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/regcycle/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	docs *documents
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root: cleanRoot,
		docs: &documents{root: cleanRoot},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) CycleRepository() persistence.CycleRepository {
	return &CycleRepository{docs: fp.docs}
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return &TaskRepository{docs: fp.docs}
}

func (fp *Persistence) IssueRepository() persistence.IssueRepository {
	return &IssueRepository{docs: fp.docs}
}

func (fp *Persistence) ArtifactRepository() persistence.ArtifactRepository {
	return &ArtifactRepository{docs: fp.docs}
}

func (fp *Persistence) ReviewRepository() persistence.ReviewRepository {
	return &ReviewRepository{docs: fp.docs}
}

func (fp *Persistence) PreferenceRepository() persistence.PreferenceRepository {
	return &PreferenceRepository{docs: fp.docs}
}

func (fp *Persistence) SessionRepository() persistence.SessionRepository {
	return &SessionRepository{docs: fp.docs}
}
