package fieldmap_test

import (
	"testing"

	"github.com/dukex/flowbase/pkg/fieldmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		form     fieldmap.Field
		db       fieldmap.Field
		expected fieldmap.Kind
	}{
		{"exact name", fieldmap.Field{Name: "email", Type: "email"}, fieldmap.Field{Name: "email", Type: "text"}, fieldmap.KindExact},
		{"exact ignoring case and separators", fieldmap.Field{Name: "First Name"}, fieldmap.Field{Name: "first_name"}, fieldmap.KindExact},
		{"exact even with other types", fieldmap.Field{Name: "age", Type: "text"}, fieldmap.Field{Name: "age", Type: "number"}, fieldmap.KindExact},
		{"compatible substring", fieldmap.Field{Name: "email", Type: "email"}, fieldmap.Field{Name: "contact_email", Type: "varchar"}, fieldmap.KindSubstring},
		{"incompatible substring", fieldmap.Field{Name: "date", Type: "date"}, fieldmap.Field{Name: "update_count", Type: "integer"}, fieldmap.KindNone},
		{"unrelated", fieldmap.Field{Name: "phone"}, fieldmap.Field{Name: "address"}, fieldmap.KindNone},
		{"empty name", fieldmap.Field{Name: "--"}, fieldmap.Field{Name: "email"}, fieldmap.KindNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, fieldmap.Score(tt.form, tt.db).Kind)
		})
	}
}

func TestScore_ExactBeatsSubstring(t *testing.T) {
	t.Parallel()

	form := fieldmap.Field{Name: "name", Type: "text"}

	exact := fieldmap.Score(form, fieldmap.Field{Name: "name", Type: "text"})
	near := fieldmap.Score(form, fieldmap.Field{Name: "names", Type: "text"})
	far := fieldmap.Score(form, fieldmap.Field{Name: "company_name_legal", Type: "text"})

	assert.Greater(t, exact.Score, near.Score)
	assert.Greater(t, near.Score, far.Score)
	assert.Positive(t, far.Score)
}

func TestBestMatch(t *testing.T) {
	t.Parallel()

	candidates := []fieldmap.Field{
		{Name: "contact_email", Type: "text"},
		{Name: "billing_email", Type: "text"},
		{Name: "email", Type: "text"},
	}

	best, match, ok := fieldmap.BestMatch(fieldmap.Field{Name: "Email", Type: "email"}, candidates)
	require.True(t, ok)
	assert.Equal(t, "email", best.Name)
	assert.Equal(t, fieldmap.KindExact, match.Kind)

	best, match, ok = fieldmap.BestMatch(fieldmap.Field{Name: "mail", Type: "email"}, candidates[:2])
	require.True(t, ok)
	assert.Equal(t, "contact_email", best.Name, "ties keep declaration order")
	assert.Equal(t, fieldmap.KindSubstring, match.Kind)

	_, match, ok = fieldmap.BestMatch(fieldmap.Field{Name: "zip"}, candidates)
	assert.False(t, ok)
	assert.Equal(t, fieldmap.KindNone, match.Kind)
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	form := []fieldmap.Field{
		{Name: "email", Type: "email"},
		{Name: "work email", Type: "email"},
		{Name: "age", Type: "number"},
		{Name: "comments", Type: "textarea"},
	}
	db := []fieldmap.Field{
		{Name: "email", Type: "text"},
		{Name: "work_email", Type: "text"},
		{Name: "age_years", Type: "integer"},
	}

	mappings := fieldmap.Suggest(form, db)
	require.Len(t, mappings, 3)

	assert.Equal(t, "email", mappings[0].DBField)
	assert.Equal(t, "work_email", mappings[1].DBField)
	assert.Equal(t, "age_years", mappings[2].DBField)
	assert.Equal(t, fieldmap.KindSubstring, mappings[2].Match.Kind)
}
