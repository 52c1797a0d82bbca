package jq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	testCases := []struct {
		name      string
		json      string
		query     string
		expected  string
		expectErr bool
	}{
		{
			name:     "field access",
			json:     `{"name": "storage", "count": 30}`,
			query:    ".count",
			expected: "30",
		},
		{
			name:     "nested field",
			json:     `{"stats": {"processed": 12}}`,
			query:    ".stats.processed",
			expected: "12",
		},
		{
			name:     "missing field yields null",
			json:     `{"name": "storage"}`,
			query:    ".nonexistent",
			expected: "null",
		},
		{
			name:     "multiple results become an array",
			json:     `[{"n": 1}, {"n": 2}]`,
			query:    ".[].n",
			expected: "[1,2]",
		},
		{
			name:      "invalid query",
			json:      `{}`,
			query:     "][",
			expectErr: true,
		},
		{
			name:      "invalid json",
			json:      `{not json`,
			query:     ".",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Query([]byte(tc.json), tc.query)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(result))
		})
	}
}

func TestQueryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"age": 30}`), 0o644))

	result, err := QueryFile(path, ".age")
	require.NoError(t, err)
	assert.Equal(t, "30", string(result))

	_, err = QueryFile(filepath.Join(t.TempDir(), "missing.json"), ".")
	require.Error(t, err)
}
