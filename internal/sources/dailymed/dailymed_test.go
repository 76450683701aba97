package dailymed_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-medical/medcollect/internal/fetch"
	"github.com/lumen-medical/medcollect/internal/sources/dailymed"
)

// splServer mimics the SPL index, detail, and NDC endpoints for a
// fixed number of labels.
func splServer(t *testing.T, total int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/spls.json":
			var page, pageSize int
			_, _ = fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
			_, _ = fmt.Sscanf(r.URL.Query().Get("pagesize"), "%d", &pageSize)

			start := (page - 1) * pageSize
			entries := make([]map[string]any, 0, pageSize)
			for i := start; i < start+pageSize && i < total; i++ {
				entries = append(entries, map[string]any{"setid": fmt.Sprintf("set-%04d", i)})
			}

			_ = json.NewEncoder(w).Encode(map[string]any{"data": entries})

		case strings.HasSuffix(r.URL.Path, "/ndcs.json"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"ndc": "0002-1433-80"}, {"ndc": "0002-1433-61"}},
			})

		case strings.HasPrefix(r.URL.Path, "/spls/"):
			setID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/spls/"), ".json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"setid":                 setID,
					"title":                 "METFORMIN HYDROCHLORIDE tablet",
					"published_date":        "2024-01-15",
					"drug_names":            []string{"Metformin Hydrochloride"},
					"active_ingredients":    []string{"METFORMIN HYDROCHLORIDE"},
					"indications_and_usage": "Indicated as an adjunct to diet and exercise.",
					"pharm_classes": []any{
						"Biguanide [EPC]",
						map[string]any{"name": "Decreased Blood Glucose [PE]"},
					},
				},
			})

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestSource(serverURL string, maxResults int) *dailymed.Source {
	return dailymed.New(dailymed.Options{
		BaseURL:    serverURL,
		MaxResults: maxResults,
		Client:     fetch.NewClient(fetch.Options{UserAgent: "TestBot/1.0 (test@example.com)"}),
	})
}

func TestFetchPage_ExpandsLabels(t *testing.T) {
	t.Parallel()

	server := splServer(t, 3)
	src := newTestSource(server.URL, 5000)

	page, err := src.FetchPage(context.Background(), "labels", 0)
	require.NoError(t, err)

	require.Len(t, page.Records, 3)
	assert.True(t, page.Done, "short index page ends the segment")

	rec := page.Records[0]
	assert.Equal(t, "set-0000", rec.ID)
	assert.Equal(t, "dailymed", rec.Source)
	assert.Equal(t, "class_Biguanide [EPC]", rec.Category)

	label, ok := rec.Data.(*dailymed.Label)
	require.True(t, ok)
	assert.Equal(t, "METFORMIN HYDROCHLORIDE tablet", label.Title)
	assert.Equal(t, []string{"Metformin Hydrochloride"}, label.DrugNames)
	assert.Equal(t, []string{"0002-1433-80", "0002-1433-61"}, label.NDCCodes)
	assert.Equal(t, []string{"Biguanide [EPC]", "Decreased Blood Glucose [PE]"}, label.PharmClasses)
	assert.Equal(t,
		"Indicated as an adjunct to diet and exercise.",
		label.Sections["Indications and Usage"])
}

func TestFetchPage_Paginates(t *testing.T) {
	t.Parallel()

	server := splServer(t, 120)
	src := newTestSource(server.URL, 5000)

	page, err := src.FetchPage(context.Background(), "labels", 0)
	require.NoError(t, err)

	assert.Len(t, page.Records, 100)
	assert.Equal(t, 1, page.NextCursor)
	assert.False(t, page.Done)

	page, err = src.FetchPage(context.Background(), "labels", page.NextCursor)
	require.NoError(t, err)

	assert.Len(t, page.Records, 20)
	assert.True(t, page.Done)
}

func TestFetchPage_StopsAtMaxResults(t *testing.T) {
	t.Parallel()

	server := splServer(t, 500)
	src := newTestSource(server.URL, 100)

	page, err := src.FetchPage(context.Background(), "labels", 0)
	require.NoError(t, err)
	assert.Len(t, page.Records, 100)
	assert.True(t, page.Done)

	page, err = src.FetchPage(context.Background(), "labels", 1)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.True(t, page.Done)
}
