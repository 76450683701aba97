package clinicaltrials_test

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
	"github.com/lumen-medical/medcollect/internal/sources/clinicaltrials"
)

const studyFixture = `{
  "studies": [
    {
      "protocolSection": {
        "identificationModule": {
          "nctId": "NCT05012345",
          "briefTitle": "Metformin Trial",
          "officialTitle": "A Phase 3 Trial of Metformin in Type 2 Diabetes",
          "orgStudyIdInfo": {"id": "MET-2024-01"}
        },
        "statusModule": {
          "overallStatus": "RECRUITING",
          "startDateStruct": {"date": "2024-03-01"},
          "completionDateStruct": {"date": "2026-12-31"}
        },
        "sponsorCollaboratorsModule": {
          "leadSponsor": {"name": "Example University"}
        },
        "descriptionModule": {
          "briefSummary": "Short summary.",
          "detailedDescription": "Long description."
        },
        "conditionsModule": {
          "conditions": ["Diabetes Mellitus, Type 2"]
        },
        "armsInterventionsModule": {
          "interventions": [
            {"type": "DRUG", "name": "Metformin", "description": "500mg twice daily"}
          ]
        },
        "outcomesModule": {
          "primaryOutcomes": [{"measure": "HbA1c change"}]
        },
        "designModule": {
          "studyType": "INTERVENTIONAL",
          "phases": ["PHASE3"],
          "designInfo": {"allocation": "RANDOMIZED"}
        },
        "eligibilityModule": {
          "eligibilityCriteria": "Adults with T2D.",
          "sex": "ALL",
          "minimumAge": "18 Years",
          "maximumAge": "75 Years"
        }
      }
    }
  ]
}`

func testClient() *fetch.Client {
	return fetch.NewClient(fetch.Options{UserAgent: "TestBot/1.0 (test@example.com)"})
}

// trialsServer pages through total synthetic studies using opaque
// page tokens, the way the v2 API does.
func trialsServer(t *testing.T, total int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var pageSize, start int
		_, _ = fmt.Sscanf(r.URL.Query().Get("pageSize"), "%d", &pageSize)
		if tok := r.URL.Query().Get("pageToken"); tok != "" {
			_, _ = fmt.Sscanf(tok, "tok-%d", &start)
		}

		studies := make([]map[string]any, 0, pageSize)
		for i := start; i < start+pageSize && i < total; i++ {
			studies = append(studies, map[string]any{
				"protocolSection": map[string]any{
					"identificationModule": map[string]any{
						"nctId":      fmt.Sprintf("NCT%08d", i),
						"briefTitle": fmt.Sprintf("Trial %d", i),
					},
				},
			})
		}

		resp := map[string]any{"studies": studies}
		if start+pageSize < total {
			resp["nextPageToken"] = fmt.Sprintf("tok-%d", start+pageSize)
		}

		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestSource(serverURL string, maxResults int, areas []clinicaltrials.Area) *clinicaltrials.Source {
	return clinicaltrials.New(clinicaltrials.Options{
		BaseURL:    serverURL,
		Areas:      areas,
		MaxResults: maxResults,
		PageSize:   100,
		Client:     testClient(),
	})
}

func TestSegments_DefaultAreas(t *testing.T) {
	t.Parallel()

	src := newTestSource("http://unused", 5000, nil)

	segments := src.Segments()
	assert.Len(t, segments, 9)
	assert.Equal(t, "Drug", segments[0])
	assert.Contains(t, segments, "Cancer")
}

func TestAreasFromQueries(t *testing.T) {
	t.Parallel()

	areas := clinicaltrials.AreasFromQueries([]string{"aspirin", "statins"})
	require.Len(t, areas, 2)
	assert.Equal(t, clinicaltrials.Area{Name: "aspirin", Query: "aspirin"}, areas[0])
}

func TestFetchPage_ParsesStudy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(studyFixture))
	}))
	t.Cleanup(server.Close)

	src := newTestSource(server.URL, 5000, []clinicaltrials.Area{{Name: "Diabetes", Query: "Diabetes"}})

	page, err := src.FetchPage(context.Background(), "Diabetes", 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.True(t, page.Done, "no next token means the segment is exhausted")

	rec := page.Records[0]
	assert.Equal(t, "NCT05012345", rec.ID)
	assert.Equal(t, "clinicaltrials", rec.Source)
	assert.Equal(t, "https://clinicaltrials.gov/study/NCT05012345", rec.SourceURL)
	assert.Equal(t, "Diabetes", rec.Category)

	study, ok := rec.Data.(*clinicaltrials.Study)
	require.True(t, ok)

	assert.Equal(t, "A Phase 3 Trial of Metformin in Type 2 Diabetes", study.Title)
	assert.Equal(t, "MET-2024-01", study.OrgStudyID)
	assert.Equal(t, "RECRUITING", study.OverallStatus)
	assert.Equal(t, "2024-03-01", study.StartDate)
	assert.Equal(t, "2026-12-31", study.CompletionDate)
	assert.Equal(t, "Example University", study.LeadSponsor)
	assert.Equal(t, "Short summary.", study.BriefSummary)
	assert.Equal(t, []string{"Diabetes Mellitus, Type 2"}, study.Conditions)
	require.Len(t, study.Interventions, 1)
	assert.Equal(t, "Metformin", study.Interventions[0].Name)
	assert.Equal(t, []string{"PHASE3"}, study.Phases)
	assert.Equal(t, "INTERVENTIONAL", study.StudyType)
	assert.Equal(t, "ALL", study.Sex)
	assert.Equal(t, "18 Years", study.MinAge)
	assert.Equal(t, "75 Years", study.MaxAge)
}

func TestFetchPage_PaginatesWithTokens(t *testing.T) {
	t.Parallel()

	server := trialsServer(t, 150)
	src := newTestSource(server.URL, 5000, []clinicaltrials.Area{{Name: "Drug", Query: "Drug"}})

	page, err := src.FetchPage(context.Background(), "Drug", 0)
	require.NoError(t, err)

	assert.Len(t, page.Records, 100)
	assert.Equal(t, 1, page.NextCursor)
	assert.False(t, page.Done)
	assert.Equal(t, "NCT00000000", page.Records[0].ID)

	page, err = src.FetchPage(context.Background(), "Drug", page.NextCursor)
	require.NoError(t, err)

	assert.Len(t, page.Records, 50)
	assert.True(t, page.Done)
	assert.Equal(t, "NCT00000100", page.Records[0].ID)
}

func TestFetchPage_ResumeSkipsForward(t *testing.T) {
	t.Parallel()

	server := trialsServer(t, 250)

	// A fresh source resuming at cursor 2 has no token for that page; it
	// walks the token chain from the start and discards.
	src := newTestSource(server.URL, 5000, []clinicaltrials.Area{{Name: "Drug", Query: "Drug"}})

	page, err := src.FetchPage(context.Background(), "Drug", 2)
	require.NoError(t, err)

	require.Len(t, page.Records, 50)
	assert.Equal(t, "NCT00000200", page.Records[0].ID)
	assert.True(t, page.Done)
}

func TestFetchPage_CursorBehindStreamIsError(t *testing.T) {
	t.Parallel()

	server := trialsServer(t, 250)
	src := newTestSource(server.URL, 5000, []clinicaltrials.Area{{Name: "Drug", Query: "Drug"}})

	_, err := src.FetchPage(context.Background(), "Drug", 1)
	require.NoError(t, err)

	_, err = src.FetchPage(context.Background(), "Drug", 0)
	require.Error(t, err, "the token stream cannot rewind")
}

func TestFetchPage_RespectsMaxResults(t *testing.T) {
	t.Parallel()

	server := trialsServer(t, 1000)
	src := newTestSource(server.URL, 100, []clinicaltrials.Area{{Name: "Drug", Query: "Drug"}})

	page, err := src.FetchPage(context.Background(), "Drug", 0)
	require.NoError(t, err)
	assert.Len(t, page.Records, 100)
	assert.True(t, page.Done, "max_results reached after one page")

	page, err = src.FetchPage(context.Background(), "Drug", 1)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.True(t, page.Done)
}

func TestFetchPage_SkipsStudiesWithoutID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"studies": []map[string]any{
				{"protocolSection": map[string]any{
					"identificationModule": map[string]any{"nctId": "NCT00000001"},
				}},
				{"protocolSection": map[string]any{
					"identificationModule": map[string]any{"briefTitle": "no id"},
				}},
			},
		})
	}))
	t.Cleanup(server.Close)

	src := newTestSource(server.URL, 5000, []clinicaltrials.Area{{Name: "Drug", Query: "Drug"}})

	page, err := src.FetchPage(context.Background(), "Drug", 0)
	require.NoError(t, err)

	assert.Len(t, page.Records, 1)
	assert.Equal(t, 1, page.Skipped)
}

func TestFetchPage_UnknownArea(t *testing.T) {
	t.Parallel()

	src := newTestSource("http://unused", 5000, nil)

	_, err := src.FetchPage(context.Background(), "Astrology", 0)
	require.Error(t, err)
}
