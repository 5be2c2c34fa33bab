package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplate(t *testing.T) {
	template := DefaultTemplate()
	require.NoError(t, template.Validate())

	phases := template.Build()
	require.Len(t, phases, len(models.PhaseOrder))

	for i, phase := range phases {
		assert.Equal(t, models.PhaseOrder[i], phase.ID)
		assert.Equal(t, models.PhaseStatusPending, phase.Status)

		for _, step := range phase.Steps {
			assert.Equal(t, models.StepStatusPending, step.Status)
			assert.Zero(t, step.Version)
			assert.Empty(t, step.ValidationErrors)
		}
	}
}

const customTemplate = `
phases:
  - id: scoping
    name: Scoping
    steps:
      - id: scope
        required: true
        required_fields: [entities]
  - id: data_collection
    steps:
      - id: collect
        name: Collect
        schema:
          type: object
          properties:
            rows:
              type: integer
              minimum: 1
  - id: validation
  - id: review
  - id: attestation
  - id: submission
`

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.yaml")
	require.NoError(t, os.WriteFile(path, []byte(customTemplate), 0o600))

	template, err := LoadTemplate(path)
	require.NoError(t, err)

	phases := template.Build()
	require.Len(t, phases, 6)
	require.Len(t, phases[0].Steps, 1)

	scope := phases[0].Steps[0]
	assert.Equal(t, "scope", scope.ID)
	assert.Equal(t, "scope", scope.Name)
	assert.True(t, scope.IsRequired)
	assert.Equal(t, []string{"entities"}, scope.RequiredFields)

	collect := phases[1].Steps[0]
	assert.False(t, collect.IsRequired)
	assert.Equal(t, "object", collect.Schema["type"])
	assert.Empty(t, phases[2].Steps)
}

func TestLoadTemplate_EmptyPathUsesDefault(t *testing.T) {
	template, err := LoadTemplate("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplate(), template)
}

func TestParseTemplate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "phases: [\n"},
		{"missing phases", "phases:\n  - id: scoping\n"},
		{
			"wrong order",
			"phases:\n  - id: data_collection\n  - id: scoping\n  - id: validation\n  - id: review\n  - id: attestation\n  - id: submission\n",
		},
		{
			"duplicate step",
			"phases:\n  - id: scoping\n    steps: [{id: a}]\n  - id: data_collection\n    steps: [{id: a}]\n" +
				"  - id: validation\n  - id: review\n  - id: attestation\n  - id: submission\n",
		},
		{
			"bad schema",
			"phases:\n  - id: scoping\n    steps: [{id: a, schema: {type: 42}}]\n  - id: data_collection\n" +
				"  - id: validation\n  - id: review\n  - id: attestation\n  - id: submission\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidTemplate)
		})
	}
}

func TestLoadTemplate_MissingFile(t *testing.T) {
	_, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
