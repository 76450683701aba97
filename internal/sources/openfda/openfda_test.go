package openfda_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-medical/medcollect/internal/fetch"
	"github.com/lumen-medical/medcollect/internal/sources/openfda"
)

// fdaServer serves canned pages for the three drug endpoints.
func fdaServer(t *testing.T, totalPerEndpoint int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var skip, limit int
		_, _ = fmt.Sscanf(r.URL.Query().Get("skip"), "%d", &skip)
		_, _ = fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit)

		var idKey string
		switch r.URL.Path {
		case "/drug/label.json":
			idKey = "set_id"
		case "/drug/enforcement.json":
			idKey = "recall_number"
		case "/drug/event.json":
			idKey = "safetyreportid"
		default:
			http.NotFound(w, r)
			return
		}

		results := make([]map[string]any, 0, limit)
		for i := skip; i < skip+limit && i < totalPerEndpoint; i++ {
			results = append(results, map[string]any{
				idKey:     fmt.Sprintf("%s-%d", idKey, i),
				"payload": i,
			})
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestSource(serverURL string, maxResults int, drugs []string) *openfda.Source {
	return openfda.New(openfda.Options{
		BaseURL:    serverURL,
		Drugs:      drugs,
		MaxResults: maxResults,
		Client:     fetch.NewClient(fetch.Options{UserAgent: "TestBot/1.0 (test@example.com)"}),
	})
}

func TestSegments_OnePerDrug(t *testing.T) {
	t.Parallel()

	src := newTestSource("http://unused", 100, []string{"lipitor", "metformin"})

	assert.Equal(t,
		[]string{"labels", "recalls", "events:lipitor", "events:metformin"},
		src.Segments())
}

func TestFetchPage_Labels(t *testing.T) {
	t.Parallel()

	server := fdaServer(t, 150)
	src := newTestSource(server.URL, 1000, []string{"lipitor"})

	page, err := src.FetchPage(context.Background(), "labels", 0)
	require.NoError(t, err)

	assert.Len(t, page.Records, 100)
	assert.False(t, page.Done)
	assert.Equal(t, "set_id-0", page.Records[0].ID)
	assert.Equal(t, "drug_labels", page.Records[0].Category)
	assert.Equal(t, "openfda", page.Records[0].Source)

	page, err = src.FetchPage(context.Background(), "labels", page.NextCursor)
	require.NoError(t, err)

	assert.Len(t, page.Records, 50)
	assert.True(t, page.Done)
}

func TestFetchPage_AdverseEventsCategorizedByDrug(t *testing.T) {
	t.Parallel()

	server := fdaServer(t, 30)
	src := newTestSource(server.URL, 1000, []string{"metformin"})

	page, err := src.FetchPage(context.Background(), "events:metformin", 0)
	require.NoError(t, err)

	require.NotEmpty(t, page.Records)
	assert.True(t, page.Done)
	assert.Equal(t, "safetyreportid-0", page.Records[0].ID)
	assert.Equal(t, "adverse_events_metformin", page.Records[0].Category)
}

func TestFetchPage_RespectsMaxResults(t *testing.T) {
	t.Parallel()

	server := fdaServer(t, 1000)
	src := newTestSource(server.URL, 100, nil)

	page, err := src.FetchPage(context.Background(), "recalls", 0)
	require.NoError(t, err)
	assert.True(t, page.Done, "max_results reached after one full page")

	page, err = src.FetchPage(context.Background(), "recalls", 100)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.True(t, page.Done)
}

func TestFetchPage_SkipsResultsWithoutID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"recall_number": "D-0001-2026"},
				{"reason_for_recall": "missing id"},
			},
		})
	}))
	t.Cleanup(server.Close)

	src := newTestSource(server.URL, 1000, nil)

	page, err := src.FetchPage(context.Background(), "recalls", 0)
	require.NoError(t, err)

	assert.Len(t, page.Records, 1)
	assert.Equal(t, 1, page.Skipped)
}

func TestFetchPage_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "OVER_RATE_LIMIT", "message": "Over rate limit"},
		})
	}))
	t.Cleanup(server.Close)

	src := newTestSource(server.URL, 1000, nil)

	_, err := src.FetchPage(context.Background(), "labels", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OVER_RATE_LIMIT")
}

func TestFetchPage_NoMatchesEndsSegment(t *testing.T) {
	t.Parallel()

	// A search matching nothing answers 404 with a NOT_FOUND envelope;
	// that is end of data for the segment, not a failure.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "NOT_FOUND", "message": "No matches found!"},
		})
	}))
	t.Cleanup(server.Close)

	src := newTestSource(server.URL, 1000, []string{"emptydrug"})

	page, err := src.FetchPage(context.Background(), "events:emptydrug", 0)
	require.NoError(t, err)

	assert.Empty(t, page.Records)
	assert.True(t, page.Done)
}

func TestFetchPage_NotFoundBodyWithOKStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "NOT_FOUND", "message": "No matches found!"},
		})
	}))
	t.Cleanup(server.Close)

	src := newTestSource(server.URL, 1000, nil)

	page, err := src.FetchPage(context.Background(), "recalls", 0)
	require.NoError(t, err)
	assert.True(t, page.Done)
}

func TestRequestsPerSecond(t *testing.T) {
	t.Parallel()

	assert.Equal(t, openfda.DefaultRequestsPerSecond, openfda.RequestsPerSecond(""))
	assert.Equal(t, openfda.KeyedRequestsPerSecond, openfda.RequestsPerSecond("key"))
}
