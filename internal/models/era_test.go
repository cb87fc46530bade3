package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triw-go-srv/internal/models"
)

func TestParseEraShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want *models.EraConstraint
	}{
		{"start end", `{"start":1980,"end":1989}`, &models.EraConstraint{Start: 1980, End: 1989}},
		{"min max", `{"min":1975,"max":1985}`, &models.EraConstraint{Start: 1975, End: 1985}},
		{"decade field", `{"decade":1990}`, &models.EraConstraint{Start: 1990, End: 1999}},
		{"bare number is a decade", `1980`, &models.EraConstraint{Start: 1980, End: 1989}},
		{"pair", `[1983,1987]`, &models.EraConstraint{Start: 1983, End: 1987}},
		{"reversed pair swaps", `[1987,1983]`, &models.EraConstraint{Start: 1983, End: 1987}},
		{"single element array", `[1970]`, &models.EraConstraint{Start: 1970, End: 1979}},
		{"decade string", `"1990s"`, &models.EraConstraint{Start: 1990, End: 1999}},
		{"only start", `{"start":1985}`, &models.EraConstraint{Start: 1985, End: 1985}},
		{"null", `null`, nil},
		{"empty", ``, nil},
		{"empty object", `{}`, nil},
		{"empty array", `[]`, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := models.ParseEra(json.RawMessage(c.raw))
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestParseEraRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`"whenever"`, `{"start":1492,"end":1500}`, `3000`} {
		_, err := models.ParseEra(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}
}

func TestEraContains(t *testing.T) {
	era := models.EraConstraint{Start: 1980, End: 1989}
	assert.True(t, era.Contains(1980))
	assert.True(t, era.Contains(1989))
	assert.False(t, era.Contains(1979))
	assert.False(t, era.Contains(1990))
}
