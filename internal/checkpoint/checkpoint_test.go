package checkpoint_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-medical/medcollect/internal/checkpoint"
)

func TestLoad_AbsentReturnsNil(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewStore(t.TempDir(), nil)

	cp, err := store.Load("pubmed")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewStore(t.TempDir(), nil)

	err := store.Save("openfda", &checkpoint.Checkpoint{
		Segment: "drug_labels",
		Cursor:  300,
	})
	require.NoError(t, err)

	cp, err := store.Load("openfda")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "openfda", cp.Source)
	assert.Equal(t, "drug_labels", cp.Segment)
	assert.Equal(t, 300, cp.Cursor)
	assert.False(t, cp.Completed)
	assert.False(t, cp.Timestamp.IsZero())
}

func TestLoad_CorruptTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, nil)

	path := store.Path("rxnorm")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	cp, err := store.Load("rxnorm")
	require.NoError(t, err)
	assert.Nil(t, cp, "corrupt checkpoint must be treated as no checkpoint")
}

func TestSave_RejectsCursorRegression(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewStore(t.TempDir(), nil)

	require.NoError(t, store.Save("dailymed", &checkpoint.Checkpoint{Cursor: 500}))

	err := store.Save("dailymed", &checkpoint.Checkpoint{Cursor: 400})
	require.ErrorIs(t, err, checkpoint.ErrCursorRegression)

	// A new segment resets the cursor legitimately.
	err = store.Save("dailymed", &checkpoint.Checkpoint{Segment: "by_class", Cursor: 0})
	require.NoError(t, err)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, nil)

	require.NoError(t, store.Save("pubmed", &checkpoint.Checkpoint{Cursor: 1}))
	require.NoError(t, store.Save("pubmed", &checkpoint.Checkpoint{Cursor: 2}))

	entries, err := os.ReadDir(filepath.Join(dir, "pubmed"))
	require.NoError(t, err)

	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".checkpoint-"),
			"temp file %s left behind", entry.Name())
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewStore(t.TempDir(), nil)

	require.NoError(t, store.Save("pubmed", &checkpoint.Checkpoint{Cursor: 7}))
	require.NoError(t, store.Clear("pubmed"))

	cp, err := store.Load("pubmed")
	require.NoError(t, err)
	assert.Nil(t, cp)

	// Clearing a missing checkpoint is not an error.
	require.NoError(t, store.Clear("pubmed"))
}

func TestSegmentDone(t *testing.T) {
	t.Parallel()

	cp := &checkpoint.Checkpoint{SegmentsDone: []string{"drug_labels", "recalls"}}
	assert.True(t, cp.SegmentDone("recalls"))
	assert.False(t, cp.SegmentDone("adverse_events"))
}
