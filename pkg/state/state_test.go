package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastRunOnMissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	got, err := s.LastRun("tenant/t1")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestRecordAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewFileStore(path)

	first := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, s.RecordRun("tenant/t1", first))
	require.NoError(t, s.RecordRun("subscription/s1", first.Add(time.Hour)))

	got, err := s.LastRun("tenant/t1")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = s.LastRun("subscription/s1")
	require.NoError(t, err)
	assert.Equal(t, first.Add(time.Hour), got)

	got, err = s.LastRun("subscription/other")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestRecordOverwritesMarker(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	first := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRun("tenant/t1", first))
	require.NoError(t, s.RecordRun("tenant/t1", first.Add(24*time.Hour)))

	got, err := s.LastRun("tenant/t1")
	require.NoError(t, err)
	assert.Equal(t, first.Add(24*time.Hour), got)
}

func TestRecordNormalizesToUTC(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	zone := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2026, 3, 14, 14, 0, 0, 0, zone)
	require.NoError(t, s.RecordRun("tenant/t1", local))

	got, err := s.LastRun("tenant/t1")
	require.NoError(t, err)
	assert.Equal(t, local.UTC(), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestCorruptStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	s := NewFileStore(path)

	_, err := s.LastRun("tenant/t1")
	assert.ErrorContains(t, err, "failed to parse run markers")

	err = s.RecordRun("tenant/t1", time.Now())
	assert.ErrorContains(t, err, "failed to parse run markers")
}

func TestNoopStore(t *testing.T) {
	var s Store = Noop{}

	require.NoError(t, s.RecordRun("tenant/t1", time.Now()))
	got, err := s.LastRun("tenant/t1")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
