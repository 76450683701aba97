package rxnorm_test

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
	"github.com/lumen-medical/medcollect/internal/sources/rxnorm"
)

// rxcuiFor assigns a stable fake RxCUI per known drug name.
var rxcuiFor = map[string]string{
	"aspirin":   "1191",
	"warfarin":  "11289",
	"metformin": "6809",
}

func rxnavServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rxcui.json":
			name := r.URL.Query().Get("name")
			if rxcui, ok := rxcuiFor[name]; ok {
				fmt.Fprintf(w, `{"idGroup":{"rxnormId":["%s"]}}`, rxcui)
				return
			}
			fmt.Fprint(w, `{"idGroup":{}}`)

		case strings.HasSuffix(r.URL.Path, "/properties.json"):
			rxcui := strings.Split(strings.TrimPrefix(r.URL.Path, "/rxcui/"), "/")[0]
			_ = json.NewEncoder(w).Encode(map[string]any{
				"properties": map[string]any{"rxcui": rxcui, "name": "Drug " + rxcui, "tty": "IN"},
			})

		case strings.HasSuffix(r.URL.Path, "/related.json"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"relatedGroup": map[string]any{
					"conceptGroup": []map[string]any{
						{
							"tty": "BN",
							"conceptProperties": []map[string]any{
								{"rxcui": "215256", "name": "Brand Name"},
							},
						},
						{"tty": "SCD"}, // empty group is dropped
					},
				},
			})

		case strings.HasSuffix(r.URL.Path, "/ndcs.json"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ndcGroup": map[string]any{
					"ndcList": map[string]any{"ndc": []string{"00006-0749-54"}},
				},
			})

		case r.URL.Path == "/interaction/list.json":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"fullInteractionTypeGroup": []map[string]any{{
					"fullInteractionType": []map[string]any{{
						"interactionPair": []map[string]any{{
							"severity":    "high",
							"description": "Increased bleeding risk.",
							"interactionConcept": []map[string]any{
								{"minConceptItem": map[string]any{"rxcui": "1191", "name": "aspirin"}},
								{"minConceptItem": map[string]any{"rxcui": "11289", "name": "warfarin"}},
							},
						}},
					}},
				}},
			})

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestSource(serverURL string, drugs []string) *rxnorm.Source {
	return rxnorm.New(rxnorm.Options{
		BaseURL: serverURL,
		Drugs:   drugs,
		Client:  fetch.NewClient(fetch.Options{UserAgent: "TestBot/1.0 (test@example.com)"}),
	})
}

func TestFetchPage_DrugsSegment(t *testing.T) {
	t.Parallel()

	server := rxnavServer(t)
	src := newTestSource(server.URL, []string{"aspirin", "unknowndrug", "metformin"})

	page, err := src.FetchPage(context.Background(), "drugs", 0)
	require.NoError(t, err)

	assert.True(t, page.Done)
	assert.Equal(t, 1, page.Skipped, "unresolvable names are skipped, not fatal")
	require.Len(t, page.Records, 2)

	assert.Equal(t, "1191", page.Records[0].ID)
	assert.Equal(t, "rxnorm", page.Records[0].Source)

	entry, ok := page.Records[0].Data.(*rxnorm.DrugEntry)
	require.True(t, ok)
	assert.Equal(t, "aspirin", entry.OriginalName)
	assert.Equal(t, "1191", entry.RxCUI)
	assert.Equal(t, []string{"00006-0749-54"}, entry.NDCCodes)
	require.Contains(t, entry.RelatedDrugs, "BN")
	assert.NotContains(t, entry.RelatedDrugs, "SCD", "empty concept groups are dropped")
}

func TestFetchPage_DrugsPagination(t *testing.T) {
	t.Parallel()

	server := rxnavServer(t)

	// 12 names forces two pages of 10.
	drugs := make([]string, 12)
	for i := range drugs {
		drugs[i] = "aspirin"
	}

	src := newTestSource(server.URL, drugs)

	page, err := src.FetchPage(context.Background(), "drugs", 0)
	require.NoError(t, err)
	assert.Len(t, page.Records, 10)
	assert.Equal(t, 10, page.NextCursor)
	assert.False(t, page.Done)

	page, err = src.FetchPage(context.Background(), "drugs", page.NextCursor)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.True(t, page.Done)
}

func TestFetchPage_InteractionsSegment(t *testing.T) {
	t.Parallel()

	server := rxnavServer(t)
	src := newTestSource(server.URL, []string{"aspirin", "warfarin"})

	page, err := src.FetchPage(context.Background(), "interactions", 0)
	require.NoError(t, err)

	assert.True(t, page.Done)
	require.Len(t, page.Records, 1)

	rec := page.Records[0]
	assert.Equal(t, "1191-11289", rec.ID)
	assert.Equal(t, "interactions", rec.Category)

	inter, ok := rec.Data.(rxnorm.Interaction)
	require.True(t, ok)
	assert.Equal(t, "high", inter.Severity)
	assert.Equal(t, "aspirin", inter.Drug1.Name)
	assert.Equal(t, "warfarin", inter.Drug2.Name)
}

func TestFetchPage_InteractionsNeedTwoResolvedDrugs(t *testing.T) {
	t.Parallel()

	server := rxnavServer(t)
	src := newTestSource(server.URL, []string{"aspirin", "unknowndrug"})

	page, err := src.FetchPage(context.Background(), "interactions", 0)
	require.NoError(t, err)

	assert.Empty(t, page.Records, "a single resolvable drug cannot interact")
	assert.True(t, page.Done)
}

func TestSegments(t *testing.T) {
	t.Parallel()

	src := newTestSource("http://unused", nil)
	assert.Equal(t, []string{"drugs", "interactions"}, src.Segments())
}
