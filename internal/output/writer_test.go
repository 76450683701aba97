package output_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-medical/medcollect/internal/output"
)

func testRecord(id string) output.Record {
	return output.Record{
		ID:        id,
		Source:    "pubmed",
		SourceURL: "https://example.org/" + id,
		FetchedAt: time.Now().UTC(),
		Data:      map[string]any{"title": "article " + id},
	}
}

func readEnvelope(t *testing.T, path string) (map[string]any, []any) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var env struct {
		Metadata map[string]any `json:"metadata"`
		Data     []any          `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &env), "batch file must be complete valid JSON")

	return env.Metadata, env.Data
}

func TestAppend_FlushesAtBatchSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writer, err := output.NewWriter(dir, "pubmed", 2, nil)
	require.NoError(t, err)

	require.NoError(t, writer.Append(testRecord("1")))
	assert.Equal(t, 0, writer.BatchesWritten(), "below threshold, nothing flushed")

	require.NoError(t, writer.Append(testRecord("2")))
	assert.Equal(t, 1, writer.BatchesWritten())
	assert.Equal(t, 2, writer.RecordsWritten())
	assert.Equal(t, 0, writer.Pending())

	meta, records := readEnvelope(t, filepath.Join(dir, "pubmed", "pubmed_batch_0.json"))
	assert.Equal(t, "pubmed", meta["source"])
	assert.NotEmpty(t, meta["run_id"])
	assert.Len(t, records, 2)
}

func TestFlush_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writer, err := output.NewWriter(dir, "rxnorm", 10, nil)
	require.NoError(t, err)

	require.NoError(t, writer.Flush())
	assert.Equal(t, 0, writer.BatchesWritten())

	entries, err := os.ReadDir(filepath.Join(dir, "rxnorm"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewWriter_ContinuesBatchNumbering(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first, err := output.NewWriter(dir, "openfda", 1, nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(testRecord("1")))
	require.NoError(t, first.Append(testRecord("2")))

	// A resumed run must not overwrite batches 0 and 1.
	second, err := output.NewWriter(dir, "openfda", 1, nil)
	require.NoError(t, err)
	require.NoError(t, second.Append(testRecord("3")))

	_, records := readEnvelope(t, filepath.Join(dir, "openfda", "openfda_batch_2.json"))
	assert.Len(t, records, 1)
}

func TestWriteCategory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writer, err := output.NewWriter(dir, "dailymed", 100, nil)
	require.NoError(t, err)

	recs := []output.Record{testRecord("a"), testRecord("b")}
	require.NoError(t, writer.WriteCategory("HMG-CoA Reductase Inhibitor [EPC]",
		recs, map[string]any{"pharm_class": "HMG-CoA Reductase Inhibitor [EPC]"}))

	matches, err := filepath.Glob(filepath.Join(dir, "dailymed", "dailymed_hmg-coa_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	meta, records := readEnvelope(t, matches[0])
	assert.Len(t, records, 2)
	assert.Equal(t, "HMG-CoA Reductase Inhibitor [EPC]", meta["extra"].(map[string]any)["pharm_class"])
}

func TestWriteCategory_MergesAcrossRuns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first, err := output.NewWriter(dir, "openfda", 100, nil)
	require.NoError(t, err)
	require.NoError(t, first.WriteCategory("drug_recalls",
		[]output.Record{testRecord("a"), testRecord("b")}, nil))

	// A later run rewrites the category with overlapping records; the
	// earlier run's records must survive, without duplicating "b".
	second, err := output.NewWriter(dir, "openfda", 100, nil)
	require.NoError(t, err)
	require.NoError(t, second.WriteCategory("drug_recalls",
		[]output.Record{testRecord("b"), testRecord("c")}, nil))

	meta, records := readEnvelope(t, filepath.Join(dir, "openfda", "openfda_drug_recalls.json"))
	assert.Len(t, records, 3)
	assert.EqualValues(t, 3, meta["count"])
}

func TestSanitizeCategory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "calcium_channel_blockers", output.SanitizeCategory("Calcium Channel Blockers"))
	assert.Equal(t, "anti-infective_agents", output.SanitizeCategory("Anti-Infective Agents"))
	assert.LessOrEqual(t, len(output.SanitizeCategory(strings.Repeat("x", 200))), 50)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writer, err := output.NewWriter(dir, "pubmed", 1, nil)
	require.NoError(t, err)
	require.NoError(t, writer.Append(testRecord("1")))

	entries, err := os.ReadDir(filepath.Join(dir, "pubmed"))
	require.NoError(t, err)

	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".batch-"),
			"temp file %s visible after flush", entry.Name())
	}
}
