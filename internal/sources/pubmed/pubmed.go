// Package pubmed collects medical research articles from the NCBI
// E-utilities API (esearch + efetch). Each configured search query is
// one segment; the cursor is the esearch retstart offset.
//
// API docs: https://www.ncbi.nlm.nih.gov/books/NBK25500/
// Rate limit: 3 req/s without an API key, 10 req/s with one.
package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lumen-medical/medcollect/internal/fetch"
	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/output"
	"github.com/lumen-medical/medcollect/internal/scraper"
)

const (
	// DefaultBaseURL is the production E-utilities endpoint.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRequestsPerSecond stays safely under NCBI's keyless 3/s cap.
	DefaultRequestsPerSecond = 2.5

	// KeyedRequestsPerSecond stays under the 10/s cap granted by an API key.
	KeyedRequestsPerSecond = 9.0

	searchPageSize = 100
	fetchBatchSize = 200
)

// DefaultQueries target the literature slices most useful for training:
// trials, reviews, and pharmacology from recent years.
var DefaultQueries = []string{
	"clinical trial[Filter] AND (treatment OR therapy) AND (last 5 years[PDat])",
	"systematic review[Filter] AND medicine[MeSH] AND (last 5 years[PDat])",
	"drug therapy[MeSH] AND pharmacology[MeSH] AND (last 5 years[PDat])",
	"patient care[MeSH] AND diagnosis[MeSH] AND (last 3 years[PDat])",
	"pharmaceutical preparations[MeSH] AND (last 5 years[PDat])",
}

// Options configures a PubMed source.
type Options struct {
	BaseURL    string
	APIKey     string // optional, raises the rate limit
	Email      string // required by NCBI terms of use
	Queries    []string
	MaxResults int // per query
	Client     *fetch.Client
	Logger     logger.Interface
}

// Source implements scraper.Source for PubMed.
type Source struct {
	baseURL    string
	apiKey     string
	email      string
	queries    []string
	maxResults int
	client     *fetch.Client
	log        logger.Interface
}

// RequestsPerSecond returns the rate appropriate for the given API key
// presence, honoring NCBI's published limits.
func RequestsPerSecond(apiKey string) float64 {
	if apiKey != "" {
		return KeyedRequestsPerSecond
	}

	return DefaultRequestsPerSecond
}

// New creates a PubMed source.
func New(opts Options) *Source {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if len(opts.Queries) == 0 {
		opts.Queries = DefaultQueries
	}

	if opts.MaxResults <= 0 {
		opts.MaxResults = 1000
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	return &Source{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		email:      opts.Email,
		queries:    opts.Queries,
		maxResults: opts.MaxResults,
		client:     opts.Client,
		log:        opts.Logger,
	}
}

func (s *Source) Name() string { return "pubmed" }

// Segments returns the configured search queries, one segment each.
func (s *Source) Segments() []string { return s.queries }

// FetchPage searches one page of PMIDs for the query, fetches the
// matching articles, and parses them into records.
func (s *Source) FetchPage(ctx context.Context, query string, cursor int) (*scraper.Page, error) {
	retmax := searchPageSize
	if remaining := s.maxResults - cursor; remaining < retmax {
		retmax = remaining
	}

	if retmax <= 0 {
		return &scraper.Page{NextCursor: cursor, Done: true}, nil
	}

	ids, total, err := s.search(ctx, query, cursor, retmax)
	if err != nil {
		return nil, err
	}

	page := &scraper.Page{NextCursor: cursor + len(ids)}
	page.Done = len(ids) < retmax || page.NextCursor >= s.maxResults ||
		(total >= 0 && page.NextCursor >= total)

	if len(ids) == 0 {
		return page, nil
	}

	for start := 0; start < len(ids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		articles, fetchErr := s.fetchArticles(ctx, ids[start:end])
		if fetchErr != nil {
			return nil, fetchErr
		}

		for _, art := range articles {
			if art.PMID == "" {
				page.Skipped++
				continue
			}

			page.Records = append(page.Records, output.Record{
				ID:        art.PMID,
				Source:    s.Name(),
				SourceURL: "https://pubmed.ncbi.nlm.nih.gov/" + art.PMID + "/",
				FetchedAt: time.Now().UTC(),
				Data:      art,
			})
		}
	}

	return page, nil
}

// buildURL assembles an E-utilities URL, attaching the contact email
// and API key NCBI asks for.
func (s *Source) buildURL(endpoint string, params url.Values) string {
	if s.email != "" {
		params.Set("email", s.email)
	}

	if s.apiKey != "" {
		params.Set("api_key", s.apiKey)
	}

	return fmt.Sprintf("%s/%s.fcgi?%s", s.baseURL, endpoint, params.Encode())
}

type searchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// search runs one esearch page and returns the PMIDs plus the total
// result count reported by NCBI, or -1 when the count is unusable (the
// short-page test then decides exhaustion on its own).
func (s *Source) search(ctx context.Context, query string, retstart, retmax int) ([]string, int, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retstart", fmt.Sprint(retstart))
	params.Set("retmax", fmt.Sprint(retmax))
	params.Set("retmode", "json")

	body, err := s.client.Get(ctx, s.buildURL("esearch", params))
	if err != nil {
		return nil, 0, fmt.Errorf("esearch: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("esearch response: %w", err)
	}

	total, parseErr := strconv.Atoi(resp.Result.Count)
	if parseErr != nil {
		s.log.Warn("unparseable esearch count", "count", resp.Result.Count)
		total = -1
	}

	return resp.Result.IDList, total, nil
}

// fetchArticles retrieves and parses a batch of articles by PMID.
func (s *Source) fetchArticles(ctx context.Context, pmids []string) ([]Article, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")

	body, err := s.client.Get(ctx, s.buildURL("efetch", params))
	if err != nil {
		return nil, fmt.Errorf("efetch %d articles: %w", len(pmids), err)
	}

	articles, err := ParseArticles(body)
	if err != nil {
		return nil, fmt.Errorf("efetch response: %w", err)
	}

	return articles, nil
}
