// Package openfda collects drug labels, enforcement reports (recalls),
// and adverse event reports (FAERS) from the OpenFDA API. Labels and
// recalls are one segment each; adverse events get one segment per
// configured drug so each drug's reports land in their own categorized
// file. The cursor is the API's skip offset.
//
// API docs: https://open.fda.gov/apis/
// Rate limit: 240 requests/minute per IP without a key.
package openfda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumen-medical/medcollect/internal/fetch"
	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/output"
	"github.com/lumen-medical/medcollect/internal/scraper"
)

const (
	// DefaultBaseURL is the production OpenFDA endpoint.
	DefaultBaseURL = "https://api.fda.gov"

	// DefaultRequestsPerSecond is conservative against the 4/s cap.
	DefaultRequestsPerSecond = 3.0

	// KeyedRequestsPerSecond applies when an API key raises the cap.
	KeyedRequestsPerSecond = 15.0

	pageLimit = 100

	segmentLabels  = "labels"
	segmentRecalls = "recalls"
	eventPrefix    = "events:"
)

// DefaultDrugs are widely-prescribed drugs whose adverse event reports
// are collected per drug.
var DefaultDrugs = []string{
	"lipitor", "metformin", "lisinopril", "atorvastatin",
	"omeprazole", "amlodipine", "gabapentin", "hydrochlorothiazide",
}

// Options configures an OpenFDA source.
type Options struct {
	BaseURL    string
	APIKey     string
	Drugs      []string // drugs to collect adverse events for
	MaxResults int      // per segment
	Client     *fetch.Client
	Logger     logger.Interface
}

// Source implements scraper.Source for OpenFDA.
type Source struct {
	baseURL    string
	apiKey     string
	drugs      []string
	maxResults int
	client     *fetch.Client
	log        logger.Interface
}

// RequestsPerSecond returns the rate appropriate for the given API key
// presence.
func RequestsPerSecond(apiKey string) float64 {
	if apiKey != "" {
		return KeyedRequestsPerSecond
	}

	return DefaultRequestsPerSecond
}

// New creates an OpenFDA source.
func New(opts Options) *Source {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if len(opts.Drugs) == 0 {
		opts.Drugs = DefaultDrugs
	}

	if opts.MaxResults <= 0 {
		opts.MaxResults = 10000
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	return &Source{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		drugs:      opts.Drugs,
		maxResults: opts.MaxResults,
		client:     opts.Client,
		log:        opts.Logger,
	}
}

func (s *Source) Name() string { return "openfda" }

// Segments lists labels, recalls, then one adverse-event segment per
// drug, in configuration order.
func (s *Source) Segments() []string {
	segments := []string{segmentLabels, segmentRecalls}
	for _, drug := range s.drugs {
		segments = append(segments, eventPrefix+drug)
	}

	return segments
}

// FetchPage retrieves one page of the segment's endpoint.
func (s *Source) FetchPage(ctx context.Context, segment string, cursor int) (*scraper.Page, error) {
	if cursor >= s.maxResults {
		return &scraper.Page{NextCursor: cursor, Done: true}, nil
	}

	endpoint, search, category := s.segmentQuery(segment)

	results, err := s.query(ctx, endpoint, search, cursor)
	if err != nil {
		return nil, err
	}

	page := &scraper.Page{NextCursor: cursor + len(results)}
	page.Done = len(results) < pageLimit || page.NextCursor >= s.maxResults

	for _, result := range results {
		id := recordID(segment, result)
		if id == "" {
			page.Skipped++
			continue
		}

		page.Records = append(page.Records, output.Record{
			ID:        id,
			Source:    s.Name(),
			SourceURL: s.baseURL + endpoint,
			FetchedAt: time.Now().UTC(),
			Category:  category,
			Data:      result,
		})
	}

	return page, nil
}

// segmentQuery maps a segment to its endpoint, search expression, and
// output category.
func (s *Source) segmentQuery(segment string) (endpoint, search, category string) {
	switch {
	case segment == segmentLabels:
		return "/drug/label.json", "*", "drug_labels"
	case segment == segmentRecalls:
		return "/drug/enforcement.json", "*", "drug_recalls"
	case strings.HasPrefix(segment, eventPrefix):
		drug := strings.TrimPrefix(segment, eventPrefix)
		return "/drug/event.json",
			fmt.Sprintf(`patient.drug.medicinalproduct:"%s"`, drug),
			"adverse_events_" + drug
	default:
		return "/drug/label.json", "*", ""
	}
}

type apiResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Results []map[string]any `json:"results"`
}

// query fetches one page from an endpoint. A search with no matches
// (404 / NOT_FOUND) is end of data, not a failure.
func (s *Source) query(ctx context.Context, endpoint, search string, skip int) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("search", search)
	params.Set("limit", fmt.Sprint(pageLimit))
	params.Set("skip", fmt.Sprint(skip))

	if s.apiKey != "" {
		params.Set("api_key", s.apiKey)
	}

	body, err := s.client.Get(ctx, s.baseURL+endpoint+"?"+params.Encode())
	if err != nil {
		if isNoMatch(err) {
			s.log.Debug("no matches", "endpoint", endpoint, "search", search)
			return nil, nil
		}

		return nil, fmt.Errorf("openfda %s: %w", endpoint, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openfda %s response: %w", endpoint, err)
	}

	if resp.Error != nil {
		if resp.Error.Code == "NOT_FOUND" {
			return nil, nil
		}

		return nil, fmt.Errorf("openfda %s: %s: %s", endpoint, resp.Error.Code, resp.Error.Message)
	}

	return resp.Results, nil
}

// isNoMatch reports whether err is the API's 404 for an empty search
// result (it answers 404 with a NOT_FOUND envelope rather than an empty
// results array).
func isNoMatch(err error) bool {
	var fetchErr *fetch.Error

	return errors.As(err, &fetchErr) && fetchErr.StatusCode == http.StatusNotFound
}

// recordID extracts the per-endpoint natural key from a result.
func recordID(segment string, result map[string]any) string {
	var keys []string

	switch {
	case segment == segmentLabels:
		keys = []string{"set_id", "id"}
	case segment == segmentRecalls:
		keys = []string{"recall_number"}
	default:
		keys = []string{"safetyreportid"}
	}

	for _, key := range keys {
		if v, ok := result[key].(string); ok && v != "" {
			return v
		}
	}

	return ""
}
