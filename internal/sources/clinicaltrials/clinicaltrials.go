// Package clinicaltrials collects trial records from the
// ClinicalTrials.gov v2 API. Each therapeutic area is one segment; the
// API paginates with opaque page tokens, so the cursor counts pages
// consumed and the source keeps the token stream between calls. A
// cursor ahead of the stream position (resume after restart) is honored
// by walking forward and discarding.
//
// API docs: https://clinicaltrials.gov/data-api/api
// Rate limit: none published; 2 req/s is polite.
package clinicaltrials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lumen-medical/medcollect/internal/fetch"
	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/output"
	"github.com/lumen-medical/medcollect/internal/scraper"
)

const (
	// DefaultBaseURL is the production ClinicalTrials.gov API endpoint.
	DefaultBaseURL = "https://clinicaltrials.gov/api/v2"

	// DefaultRequestsPerSecond is polite against an unpublished limit.
	DefaultRequestsPerSecond = 2.0

	// DefaultPageSize is how many studies one FetchPage call requests.
	DefaultPageSize = 100
)

// Area is one therapeutic area: a human-readable name used for
// categorization and the API search expression behind it.
type Area struct {
	Name  string
	Query string
}

// DefaultAreas are the therapeutic areas collected by default.
var DefaultAreas = []Area{
	{Name: "Drug", Query: "Interventional AND Drug"},
	{Name: "Cancer", Query: "Cancer OR Neoplasm"},
	{Name: "Cardiovascular", Query: "Cardiovascular OR Heart Disease"},
	{Name: "Diabetes", Query: "Diabetes"},
	{Name: "Infectious Disease", Query: "Infectious Disease OR Infection"},
	{Name: "Neurological", Query: "Neurological OR Neurology"},
	{Name: "Immunology", Query: "Immunology OR Autoimmune"},
	{Name: "Mental Health", Query: "Mental Health OR Psychiatric"},
	{Name: "Respiratory", Query: "Respiratory OR Lung Disease"},
}

// AreasFromQueries builds ad-hoc areas from raw query strings, using
// each query as its own category name.
func AreasFromQueries(queries []string) []Area {
	areas := make([]Area, 0, len(queries))
	for _, query := range queries {
		areas = append(areas, Area{Name: query, Query: query})
	}

	return areas
}

// Options configures a ClinicalTrials source.
type Options struct {
	BaseURL    string
	Areas      []Area
	MaxResults int // per area
	PageSize   int
	Client     *fetch.Client
	Logger     logger.Interface
}

// segmentState is the token stream position for one area.
type segmentState struct {
	pos   int    // pages consumed from the API
	token string // pageToken for the next page, empty at the start
	done  bool   // the API reported no further pages
}

// Source implements scraper.Source for ClinicalTrials.gov.
type Source struct {
	baseURL    string
	areas      []Area
	maxResults int
	pageSize   int
	client     *fetch.Client
	log        logger.Interface
	state      map[string]*segmentState
}

// New creates a ClinicalTrials source.
func New(opts Options) *Source {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if len(opts.Areas) == 0 {
		opts.Areas = DefaultAreas
	}

	if opts.MaxResults <= 0 {
		opts.MaxResults = 5000
	}

	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	return &Source{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		areas:      opts.Areas,
		maxResults: opts.MaxResults,
		pageSize:   opts.PageSize,
		client:     opts.Client,
		log:        opts.Logger,
		state:      make(map[string]*segmentState),
	}
}

func (s *Source) Name() string { return "clinicaltrials" }

// Segments returns the configured therapeutic area names, in order.
func (s *Source) Segments() []string {
	names := make([]string, 0, len(s.areas))
	for _, area := range s.areas {
		names = append(names, area.Name)
	}

	return names
}

// FetchPage retrieves one page of studies for the area. The cursor is
// the number of pages consumed; resuming past the in-memory token
// stream walks forward page by page, discarding, until it catches up.
func (s *Source) FetchPage(ctx context.Context, segment string, cursor int) (*scraper.Page, error) {
	area, ok := s.areaByName(segment)
	if !ok {
		return nil, fmt.Errorf("clinicaltrials: unknown area %q", segment)
	}

	st := s.state[segment]
	if st == nil {
		st = &segmentState{}
		s.state[segment] = st
	}

	if cursor < st.pos {
		return nil, fmt.Errorf("clinicaltrials: cursor %d behind token stream position %d", cursor, st.pos)
	}

	for st.pos < cursor && !st.done {
		if _, err := s.fetchStudies(ctx, area.Query, st); err != nil {
			return nil, err
		}
	}

	if st.done || cursor*s.pageSize >= s.maxResults {
		return &scraper.Page{NextCursor: cursor, Done: true}, nil
	}

	studies, err := s.fetchStudies(ctx, area.Query, st)
	if err != nil {
		return nil, err
	}

	page := &scraper.Page{NextCursor: cursor + 1}
	page.Done = st.done || page.NextCursor*s.pageSize >= s.maxResults

	for _, raw := range studies {
		study := raw.normalize()

		if study.NCTID == "" {
			page.Skipped++
			continue
		}

		page.Records = append(page.Records, output.Record{
			ID:        study.NCTID,
			Source:    s.Name(),
			SourceURL: "https://clinicaltrials.gov/study/" + study.NCTID,
			FetchedAt: time.Now().UTC(),
			Category:  area.Name,
			Data:      study,
		})
	}

	return page, nil
}

func (s *Source) areaByName(name string) (Area, bool) {
	for _, area := range s.areas {
		if area.Name == name {
			return area, true
		}
	}

	return Area{}, false
}

type apiResponse struct {
	Studies       []studyJSON `json:"studies"`
	NextPageToken string      `json:"nextPageToken"`
}

// fetchStudies retrieves one page from the API and advances the token
// stream.
func (s *Source) fetchStudies(ctx context.Context, query string, st *segmentState) ([]studyJSON, error) {
	params := url.Values{}
	params.Set("query.term", query)
	params.Set("pageSize", fmt.Sprint(s.pageSize))
	params.Set("format", "json")

	if st.token != "" {
		params.Set("pageToken", st.token)
	}

	body, err := s.client.Get(ctx, s.baseURL+"/studies?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("clinicaltrials studies: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("clinicaltrials response: %w", err)
	}

	st.pos++
	st.token = resp.NextPageToken
	st.done = resp.NextPageToken == "" || len(resp.Studies) == 0

	return resp.Studies, nil
}
