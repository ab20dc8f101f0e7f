package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/factord/internal/scope"
)

func testScale() []string {
	return []string{
		"Ad hoc, unmeasured",
		"Basic checks in places",
		"Defined standards, partial coverage",
		"Measured and managed",
		"Continuously optimized",
	}
}

func testDef() FactorDefinition {
	return FactorDefinition{
		FactorID:        "data_quality",
		Name:            "Data Quality",
		ScopeDimensions: []string{"domain", "system", "team"},
		Scale:           testScale(),
	}
}

func TestFactorDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FactorDefinition)
		wantErr error
	}{
		{"valid", func(d *FactorDefinition) {}, nil},
		{"empty id", func(d *FactorDefinition) { d.FactorID = "" }, ErrEmptyFactorID},
		{"no dimensions", func(d *FactorDefinition) { d.ScopeDimensions = nil }, ErrNoDimensions},
		{"duplicate dimension", func(d *FactorDefinition) {
			d.ScopeDimensions = []string{"domain", "domain"}
		}, ErrDuplicateDim},
		{"short scale", func(d *FactorDefinition) { d.Scale = d.Scale[:3] }, ErrIncompleteScale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testDef()
			tt.mutate(&def)

			err := def.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestFactorDefinition_ValidateScope(t *testing.T) {
	def := testDef()

	assert.NoError(t, def.ValidateScope(scope.Key{"domain": "sales", "system": "crm"}))
	assert.NoError(t, def.ValidateScope(scope.Key{})) // generic always fine

	err := def.ValidateScope(scope.Key{"region": "emea"})
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestCatalog_GetAndList(t *testing.T) {
	other := testDef()
	other.FactorID = "access_control"

	c, err := New([]FactorDefinition{testDef(), other})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"access_control", "data_quality"}, c.FactorIDs())

	def, err := c.Get("data_quality")
	require.NoError(t, err)
	assert.Equal(t, "Data Quality", def.Name)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownFactor)
}

func TestCatalog_RejectsDuplicates(t *testing.T) {
	_, err := New([]FactorDefinition{testDef(), testDef()})
	assert.ErrorIs(t, err, ErrDuplicateFactor)
}

func TestLoadBytes(t *testing.T) {
	content := []byte(`
factors:
  - factor_id: data_quality
    name: Data Quality
    description: Accuracy and completeness of organizational data.
    scope_dimensions: [domain, system, team]
    scale:
      - "Ad hoc, unmeasured"
      - "Basic checks in places"
      - "Defined standards, partial coverage"
      - "Measured and managed"
      - "Continuously optimized"
`)

	c, err := LoadBytes(content)
	require.NoError(t, err)

	def, err := c.Get("data_quality")
	require.NoError(t, err)
	assert.Equal(t, []string{"domain", "system", "team"}, def.ScopeDimensions)
	assert.Len(t, def.Scale, 5)
}

func TestLoadBytes_EmptyCatalog(t *testing.T) {
	_, err := LoadBytes([]byte("factors: []"))
	assert.Error(t, err)
}
