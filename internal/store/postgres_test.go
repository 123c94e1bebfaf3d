package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/twinsight/internal/model"
)

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"B1-101", "%B1-101%"},
		{"50%_off", `%50\%\_off%`},
		{`a\b`, `%a\\b%`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, likePattern(tt.in))
	}
}

func TestLikePatterns_SkipsBlank(t *testing.T) {
	got := likePatterns([]string{"R1", "", "  ", "泵房"})
	assert.Equal(t, []string{"%R1%", "%泵房%"}, got)
}

func TestBuildDocumentQuery_Minimal(t *testing.T) {
	sql, args := buildDocumentQuery(model.DocumentQuery{
		LocationPatterns: []string{"R1"},
		NamePatterns:     []string{"R1", "冷水机组"},
	})

	assert.Contains(t, sql, "d.space_code ILIKE ANY($1)")
	assert.Contains(t, sql, "d.file_name ILIKE ANY($2)")
	assert.NotContains(t, sql, "asset_code = ANY")
	assert.NotContains(t, sql, "EXISTS")
	assert.Contains(t, sql, "LIMIT $3")
	require.Len(t, args, 3)
	assert.Equal(t, 20, args[2])
}

func TestBuildDocumentQuery_Full(t *testing.T) {
	sql, args := buildDocumentQuery(model.DocumentQuery{
		LocationPatterns: []string{"R1"},
		NamePatterns:     []string{"R1"},
		AssetCodes:       []string{"AHU-1"},
		SpecCodes:        []string{"SPEC-1"},
		ModelID:          7,
		ExcludeImages:    true,
		Limit:            5,
	})

	assert.Contains(t, sql, "d.asset_code = ANY($3)")
	assert.Contains(t, sql, "d.spec_code = ANY($4)")
	assert.Equal(t, 3, strings.Count(sql, "file_id = $5"))
	assert.Contains(t, sql, "NOT (lower(d.file_name) LIKE ANY($6))")
	assert.Contains(t, sql, "LIMIT $7")
	require.Len(t, args, 7)
	assert.Equal(t, int64(7), args[4])
	assert.Contains(t, args[5], "%.jpg")
	assert.Equal(t, 5, args[6])
}

func TestNewPostgresDB_MissingDSN(t *testing.T) {
	_, err := NewPostgresDB(context.Background(), model.DatabaseConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfigurationMissing))
}
