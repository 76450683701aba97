// Package dailymed collects FDA structured product labels (SPLs) from
// the DailyMed REST API. A single "labels" segment pages through the
// SPL index; each indexed set ID is expanded with its label detail and
// NDC codes. The cursor is the (1-based) index page number.
//
// API docs: https://dailymed.nlm.nih.gov/dailymed/app-support-web-services.cfm
// No official rate limit; 1-2 req/s recommended.
package dailymed

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
	// DefaultBaseURL is the production DailyMed v2 endpoint.
	DefaultBaseURL = "https://dailymed.nlm.nih.gov/dailymed/services/v2"

	// DefaultRequestsPerSecond is deliberately gentle; DailyMed
	// publishes no limit.
	DefaultRequestsPerSecond = 1.5

	pageSize = 100

	segmentLabels = "labels"
)

// sectionTitles maps SPL detail keys to human-readable section names.
var sectionTitles = map[string]string{
	"indications_and_usage":       "Indications and Usage",
	"dosage_and_administration":   "Dosage and Administration",
	"contraindications":           "Contraindications",
	"warnings_and_precautions":    "Warnings and Precautions",
	"adverse_reactions":           "Adverse Reactions",
	"drug_interactions":           "Drug Interactions",
	"use_in_specific_populations": "Use in Specific Populations",
	"description":                 "Description",
	"clinical_pharmacology":       "Clinical Pharmacology",
	"how_supplied":                "How Supplied",
}

// Label is the normalized form of one SPL.
type Label struct {
	SetID              string            `json:"setid"`
	Title              string            `json:"title"`
	PublishedDate      string            `json:"published_date"`
	DrugNames          []string          `json:"drug_names"`
	ActiveIngredients  []string          `json:"active_ingredients"`
	ApplicationNumbers []string          `json:"application_numbers"`
	Sections           map[string]string `json:"sections"`
	PharmClasses       []string          `json:"pharm_classes"`
	NDCCodes           []string          `json:"ndc_codes"`
}

// Options configures a DailyMed source.
type Options struct {
	BaseURL    string
	MaxResults int // maximum labels to collect
	Client     *fetch.Client
	Logger     logger.Interface
}

// Source implements scraper.Source for DailyMed.
type Source struct {
	baseURL    string
	maxResults int
	client     *fetch.Client
	log        logger.Interface
}

// New creates a DailyMed source.
func New(opts Options) *Source {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.MaxResults <= 0 {
		opts.MaxResults = 5000
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	return &Source{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		maxResults: opts.MaxResults,
		client:     opts.Client,
		log:        opts.Logger,
	}
}

func (s *Source) Name() string { return "dailymed" }

func (s *Source) Segments() []string { return []string{segmentLabels} }

// FetchPage lists one index page of set IDs, then fetches each label's
// detail and NDC codes.
func (s *Source) FetchPage(ctx context.Context, _ string, cursor int) (*scraper.Page, error) {
	// DailyMed pages are 1-based; cursor 0 means start.
	pageNum := cursor + 1

	if cursor*pageSize >= s.maxResults {
		return &scraper.Page{NextCursor: cursor, Done: true}, nil
	}

	setIDs, err := s.listSetIDs(ctx, pageNum)
	if err != nil {
		return nil, err
	}

	page := &scraper.Page{NextCursor: cursor + 1}
	page.Done = len(setIDs) < pageSize || (cursor+1)*pageSize >= s.maxResults

	for _, setID := range setIDs {
		label, fetchErr := s.fetchLabel(ctx, setID)
		if fetchErr != nil {
			return nil, fetchErr
		}

		if label.SetID == "" {
			page.Skipped++
			continue
		}

		var category string
		if len(label.PharmClasses) > 0 {
			category = "class_" + label.PharmClasses[0]
		}

		page.Records = append(page.Records, output.Record{
			ID:        label.SetID,
			Source:    s.Name(),
			SourceURL: s.baseURL + "/spls/" + label.SetID + ".json",
			FetchedAt: time.Now().UTC(),
			Category:  category,
			Data:      label,
		})
	}

	return page, nil
}

type indexResponse struct {
	Data []struct {
		SetID string `json:"setid"`
	} `json:"data"`
}

// listSetIDs fetches one page of the SPL index.
func (s *Source) listSetIDs(ctx context.Context, pageNum int) ([]string, error) {
	params := url.Values{}
	params.Set("page", fmt.Sprint(pageNum))
	params.Set("pagesize", fmt.Sprint(pageSize))

	body, err := s.client.Get(ctx, s.baseURL+"/spls.json?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("spl index page %d: %w", pageNum, err)
	}

	var resp indexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("spl index response: %w", err)
	}

	ids := make([]string, 0, len(resp.Data))
	for _, item := range resp.Data {
		if item.SetID != "" {
			ids = append(ids, item.SetID)
		}
	}

	return ids, nil
}

// fetchLabel retrieves and normalizes one label plus its NDC codes.
func (s *Source) fetchLabel(ctx context.Context, setID string) (*Label, error) {
	body, err := s.client.Get(ctx, s.baseURL+"/spls/"+setID+".json")
	if err != nil {
		return nil, fmt.Errorf("label %s: %w", setID, err)
	}

	var detail struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("label %s response: %w", setID, err)
	}

	label := parseLabel(detail.Data)

	ndcs, err := s.fetchNDCs(ctx, setID)
	if err != nil {
		return nil, err
	}
	label.NDCCodes = ndcs

	return label, nil
}

type ndcResponse struct {
	Data []struct {
		NDC string `json:"ndc"`
	} `json:"data"`
}

func (s *Source) fetchNDCs(ctx context.Context, setID string) ([]string, error) {
	body, err := s.client.Get(ctx, s.baseURL+"/spls/"+setID+"/ndcs.json")
	if err != nil {
		return nil, fmt.Errorf("ndcs for %s: %w", setID, err)
	}

	var resp ndcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ndcs for %s response: %w", setID, err)
	}

	ndcs := make([]string, 0, len(resp.Data))
	for _, item := range resp.Data {
		if item.NDC != "" {
			ndcs = append(ndcs, item.NDC)
		}
	}

	return ndcs, nil
}

// parseLabel extracts the structured fields from a raw SPL detail map.
func parseLabel(data map[string]any) *Label {
	label := &Label{
		SetID:              asString(data["setid"]),
		Title:              asString(data["title"]),
		PublishedDate:      asString(data["published_date"]),
		DrugNames:          asStrings(data["drug_names"]),
		ActiveIngredients:  asStrings(data["active_ingredients"]),
		ApplicationNumbers: asStrings(data["application_numbers"]),
		Sections:           make(map[string]string),
	}

	for key, title := range sectionTitles {
		if text := asString(data[key]); text != "" {
			label.Sections[title] = text
		}
	}

	// pharm_classes entries are either plain strings or {"name": ...}.
	if raw, ok := data["pharm_classes"].([]any); ok {
		for _, entry := range raw {
			switch v := entry.(type) {
			case string:
				if v != "" {
					label.PharmClasses = append(label.PharmClasses, v)
				}
			case map[string]any:
				if name := asString(v["name"]); name != "" {
					label.PharmClasses = append(label.PharmClasses, name)
				}
			}
		}
	}

	return label
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok && s != "" {
			out = append(out, s)
		}
	}

	return out
}
