// Package config holds the cycle template: which phases and steps a new cycle gets and how each step
// is validated.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/validation"
	"gopkg.in/yaml.v3"
)

var ErrInvalidTemplate = errors.New("invalid cycle template")

type Template struct {
	Phases []PhaseTemplate `yaml:"phases"`
}

type PhaseTemplate struct {
	ID    models.PhaseID `yaml:"id"`
	Name  string         `yaml:"name"`
	Steps []StepTemplate `yaml:"steps"`
}

type StepTemplate struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Required       bool           `yaml:"required"`
	RequiredFields []string       `yaml:"required_fields"`
	Schema         map[string]any `yaml:"schema"`
}

// LoadTemplate reads a YAML template from path. An empty path yields the default template.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return DefaultTemplate(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cycle template %s: %w", path, err)
	}

	return ParseTemplate(data)
}

func ParseTemplate(data []byte) (*Template, error) {
	var template Template
	if err := yaml.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	if err := template.Validate(); err != nil {
		return nil, err
	}

	return &template, nil
}

// Validate checks that the template lists every phase once in order, that step ids are unique within
// the cycle, and that every schema compiles.
func (t *Template) Validate() error {
	if len(t.Phases) != len(models.PhaseOrder) {
		return fmt.Errorf("%w: expected %d phases, got %d", ErrInvalidTemplate, len(models.PhaseOrder), len(t.Phases))
	}

	seen := make(map[string]bool)

	for i, phase := range t.Phases {
		if phase.ID != models.PhaseOrder[i] {
			return fmt.Errorf("%w: phase %d must be %q, got %q", ErrInvalidTemplate, i, models.PhaseOrder[i], phase.ID)
		}

		for _, step := range phase.Steps {
			if step.ID == "" {
				return fmt.Errorf("%w: phase %q has a step without id", ErrInvalidTemplate, phase.ID)
			}

			if seen[step.ID] {
				return fmt.Errorf("%w: duplicate step id %q", ErrInvalidTemplate, step.ID)
			}

			seen[step.ID] = true

			if len(step.Schema) > 0 {
				if err := validation.CompileSchema(step.Schema); err != nil {
					return fmt.Errorf("%w: step %q schema: %w", ErrInvalidTemplate, step.ID, err)
				}
			}
		}
	}

	return nil
}

// Build creates the phases of a new cycle. Every phase and step starts pending.
func (t *Template) Build() []*models.Phase {
	phases := make([]*models.Phase, 0, len(t.Phases))

	for _, pt := range t.Phases {
		phase := &models.Phase{
			ID:     pt.ID,
			Name:   pt.Name,
			Status: models.PhaseStatusPending,
			Steps:  make([]*models.Step, 0, len(pt.Steps)),
		}

		for _, st := range pt.Steps {
			name := st.Name
			if name == "" {
				name = st.ID
			}

			phase.Steps = append(phase.Steps, &models.Step{
				ID:               st.ID,
				Name:             name,
				Status:           models.StepStatusPending,
				IsRequired:       st.Required,
				RequiredFields:   append([]string(nil), st.RequiredFields...),
				Schema:           st.Schema,
				ValidationErrors: []string{},
				Data:             map[string]any{},
			})
		}

		phases = append(phases, phase)
	}

	return phases
}

// DefaultTemplate is the built-in regulatory reporting template.
func DefaultTemplate() *Template {
	return &Template{
		Phases: []PhaseTemplate{
			{
				ID:   models.PhaseScoping,
				Name: "Scoping",
				Steps: []StepTemplate{
					{ID: "define-scope", Name: "Define reporting scope", Required: true, RequiredFields: []string{"entities", "frameworks"}},
					{ID: "identify-owners", Name: "Identify data owners", Required: true, RequiredFields: []string{"owners"}},
				},
			},
			{
				ID:   models.PhaseDataCollection,
				Name: "Data collection",
				Steps: []StepTemplate{
					{ID: "collect-data-elements", Name: "Collect data elements", Required: true, RequiredFields: []string{"source"}},
					{ID: "upload-evidence", Name: "Upload supporting evidence", Required: false},
				},
			},
			{
				ID:   models.PhaseValidation,
				Name: "Validation",
				Steps: []StepTemplate{
					{
						ID:             "set-materiality",
						Name:           "Set materiality threshold",
						Required:       true,
						RequiredFields: []string{"threshold"},
						Schema: map[string]any{
							"type": "object",
							"properties": map[string]any{
								"threshold": map[string]any{"type": "number", "minimum": 0},
							},
						},
					},
					{ID: "run-quality-checks", Name: "Run data quality checks", Required: true, RequiredFields: []string{"checks_passed"}},
				},
			},
			{
				ID:   models.PhaseReview,
				Name: "Review",
				Steps: []StepTemplate{
					{ID: "review-findings", Name: "Review findings", Required: true, RequiredFields: []string{"summary"}},
					{ID: "document-controls", Name: "Document compensating controls", Required: false},
				},
			},
			{
				ID:   models.PhaseAttestation,
				Name: "Attestation",
				Steps: []StepTemplate{
					{ID: "prepare-attestation", Name: "Prepare attestation package", Required: true, RequiredFields: []string{"statement"}},
				},
			},
			{
				ID:   models.PhaseSubmission,
				Name: "Submission",
				Steps: []StepTemplate{
					{ID: "final-package", Name: "Assemble submission package", Required: true, RequiredFields: []string{"package_reference"}},
				},
			},
		},
	}
}
