// Package rxnorm builds a normalized drug database from the RxNorm
// REST API. The "drugs" segment resolves each configured drug name to
// its RxCUI and expands it with properties, related concepts, and NDC
// codes; the "interactions" segment queries drug-drug interactions for
// the same names in chunks. Cursors index into the drug name list.
//
// API docs: https://lhncbc.nlm.nih.gov/RxNav/APIs/
// No authentication required; 20 req/s recommended ceiling.
package rxnorm

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
	// DefaultBaseURL is the production RxNav endpoint.
	DefaultBaseURL = "https://rxnav.nlm.nih.gov/REST"

	// DefaultRequestsPerSecond stays well under RxNav's suggested 20/s.
	DefaultRequestsPerSecond = 10.0

	drugsPerPage     = 10
	interactionChunk = 50 // API maximum per interaction/list call

	segmentDrugs        = "drugs"
	segmentInteractions = "interactions"
)

// DefaultDrugs is the common-medication worklist resolved when no
// drugs are configured.
var DefaultDrugs = []string{
	"aspirin", "acetaminophen", "ibuprofen", "naproxen",
	"metformin", "insulin", "lisinopril", "amlodipine",
	"atorvastatin", "simvastatin", "omeprazole", "pantoprazole",
	"levothyroxine", "albuterol", "fluticasone", "montelukast",
	"sertraline", "escitalopram", "duloxetine", "bupropion",
	"gabapentin", "pregabalin", "tramadol", "hydrocodone",
	"warfarin", "apixaban", "rivaroxaban", "clopidogrel",
	"metoprolol", "carvedilol", "losartan", "valsartan",
	"furosemide", "hydrochlorothiazide", "spironolactone",
	"amoxicillin", "azithromycin", "ciprofloxacin", "doxycycline",
	"prednisone", "methylprednisolone", "hydrocortisone",
}

// DrugEntry is one normalized drug.
type DrugEntry struct {
	OriginalName string                      `json:"original_name"`
	RxCUI        string                      `json:"rxcui"`
	Properties   map[string]any              `json:"properties"`
	RelatedDrugs map[string][]map[string]any `json:"related_drugs"`
	NDCCodes     []string                    `json:"ndc_codes"`
}

// Interaction is one drug-drug interaction pair.
type Interaction struct {
	Severity    string          `json:"severity"`
	Description string          `json:"description"`
	Drug1       InteractionDrug `json:"drug1"`
	Drug2       InteractionDrug `json:"drug2"`
}

// InteractionDrug names one side of an interaction.
type InteractionDrug struct {
	Name  string `json:"name"`
	RxCUI string `json:"rxcui"`
}

// Options configures an RxNorm source.
type Options struct {
	BaseURL string
	Drugs   []string
	Client  *fetch.Client
	Logger  logger.Interface
}

// Source implements scraper.Source for RxNorm.
type Source struct {
	baseURL string
	drugs   []string
	client  *fetch.Client
	log     logger.Interface
}

// New creates an RxNorm source.
func New(opts Options) *Source {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if len(opts.Drugs) == 0 {
		opts.Drugs = DefaultDrugs
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	return &Source{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		drugs:   opts.Drugs,
		client:  opts.Client,
		log:     opts.Logger,
	}
}

func (s *Source) Name() string { return "rxnorm" }

func (s *Source) Segments() []string {
	return []string{segmentDrugs, segmentInteractions}
}

// FetchPage dispatches on the segment; both cursors index into the
// configured drug names.
func (s *Source) FetchPage(ctx context.Context, segment string, cursor int) (*scraper.Page, error) {
	switch segment {
	case segmentInteractions:
		return s.fetchInteractionsPage(ctx, cursor)
	default:
		return s.fetchDrugsPage(ctx, cursor)
	}
}

// fetchDrugsPage normalizes a window of drug names.
func (s *Source) fetchDrugsPage(ctx context.Context, cursor int) (*scraper.Page, error) {
	if cursor >= len(s.drugs) {
		return &scraper.Page{NextCursor: cursor, Done: true}, nil
	}

	end := cursor + drugsPerPage
	if end > len(s.drugs) {
		end = len(s.drugs)
	}

	page := &scraper.Page{NextCursor: end, Done: end >= len(s.drugs)}

	for _, name := range s.drugs[cursor:end] {
		rxcui, err := s.resolveRxCUI(ctx, name)
		if err != nil {
			return nil, err
		}

		if rxcui == "" {
			s.log.Warn("no rxcui for drug", "drug", name)
			page.Skipped++
			continue
		}

		entry, err := s.expandDrug(ctx, name, rxcui)
		if err != nil {
			return nil, err
		}

		page.Records = append(page.Records, output.Record{
			ID:        rxcui,
			Source:    s.Name(),
			SourceURL: s.baseURL + "/rxcui/" + rxcui + "/properties.json",
			FetchedAt: time.Now().UTC(),
			Data:      entry,
		})
	}

	return page, nil
}

// fetchInteractionsPage resolves a chunk of names and queries their
// pairwise interactions.
func (s *Source) fetchInteractionsPage(ctx context.Context, cursor int) (*scraper.Page, error) {
	if cursor >= len(s.drugs) {
		return &scraper.Page{NextCursor: cursor, Done: true}, nil
	}

	end := cursor + interactionChunk
	if end > len(s.drugs) {
		end = len(s.drugs)
	}

	rxcuis := make([]string, 0, end-cursor)
	for _, name := range s.drugs[cursor:end] {
		rxcui, err := s.resolveRxCUI(ctx, name)
		if err != nil {
			return nil, err
		}

		if rxcui != "" {
			rxcuis = append(rxcuis, rxcui)
		}
	}

	page := &scraper.Page{NextCursor: end, Done: end >= len(s.drugs)}

	if len(rxcuis) < 2 {
		return page, nil
	}

	interactions, err := s.fetchInteractions(ctx, rxcuis)
	if err != nil {
		return nil, err
	}

	for _, inter := range interactions {
		if inter.Drug1.RxCUI == "" || inter.Drug2.RxCUI == "" {
			page.Skipped++
			continue
		}

		page.Records = append(page.Records, output.Record{
			ID:        inter.Drug1.RxCUI + "-" + inter.Drug2.RxCUI,
			Source:    s.Name(),
			SourceURL: s.baseURL + "/interaction/list.json",
			FetchedAt: time.Now().UTC(),
			Category:  "interactions",
			Data:      inter,
		})
	}

	return page, nil
}

// resolveRxCUI maps a drug name to its RxNorm concept identifier.
// Unknown names resolve to "" without error.
func (s *Source) resolveRxCUI(ctx context.Context, name string) (string, error) {
	body, err := s.client.Get(ctx, s.baseURL+"/rxcui.json?name="+url.QueryEscape(name))
	if err != nil {
		return "", fmt.Errorf("rxcui for %q: %w", name, err)
	}

	var resp struct {
		IDGroup struct {
			RxNormID []string `json:"rxnormId"`
		} `json:"idGroup"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("rxcui response for %q: %w", name, err)
	}

	if len(resp.IDGroup.RxNormID) == 0 {
		return "", nil
	}

	return resp.IDGroup.RxNormID[0], nil
}

// expandDrug gathers properties, related concepts, and NDC codes.
func (s *Source) expandDrug(ctx context.Context, name, rxcui string) (*DrugEntry, error) {
	properties, err := s.fetchProperties(ctx, rxcui)
	if err != nil {
		return nil, err
	}

	related, err := s.fetchRelated(ctx, rxcui)
	if err != nil {
		return nil, err
	}

	ndcs, err := s.fetchNDCs(ctx, rxcui)
	if err != nil {
		return nil, err
	}

	return &DrugEntry{
		OriginalName: name,
		RxCUI:        rxcui,
		Properties:   properties,
		RelatedDrugs: related,
		NDCCodes:     ndcs,
	}, nil
}

func (s *Source) fetchProperties(ctx context.Context, rxcui string) (map[string]any, error) {
	body, err := s.client.Get(ctx, s.baseURL+"/rxcui/"+rxcui+"/properties.json")
	if err != nil {
		return nil, fmt.Errorf("properties for %s: %w", rxcui, err)
	}

	var resp struct {
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("properties response for %s: %w", rxcui, err)
	}

	return resp.Properties, nil
}

// fetchRelated returns related concepts keyed by term type (IN, BN,
// SCD, GPCK).
func (s *Source) fetchRelated(ctx context.Context, rxcui string) (map[string][]map[string]any, error) {
	body, err := s.client.Get(ctx, s.baseURL+"/rxcui/"+rxcui+"/related.json?tty=IN+BN+SCD+GPCK")
	if err != nil {
		return nil, fmt.Errorf("related for %s: %w", rxcui, err)
	}

	var resp struct {
		RelatedGroup struct {
			ConceptGroup []struct {
				TTY               string           `json:"tty"`
				ConceptProperties []map[string]any `json:"conceptProperties"`
			} `json:"conceptGroup"`
		} `json:"relatedGroup"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("related response for %s: %w", rxcui, err)
	}

	related := make(map[string][]map[string]any)
	for _, group := range resp.RelatedGroup.ConceptGroup {
		if group.TTY != "" && len(group.ConceptProperties) > 0 {
			related[group.TTY] = group.ConceptProperties
		}
	}

	return related, nil
}

func (s *Source) fetchNDCs(ctx context.Context, rxcui string) ([]string, error) {
	body, err := s.client.Get(ctx, s.baseURL+"/rxcui/"+rxcui+"/ndcs.json")
	if err != nil {
		return nil, fmt.Errorf("ndcs for %s: %w", rxcui, err)
	}

	var resp struct {
		NDCGroup struct {
			NDCList struct {
				NDC []string `json:"ndc"`
			} `json:"ndcList"`
		} `json:"ndcGroup"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ndcs response for %s: %w", rxcui, err)
	}

	return resp.NDCGroup.NDCList.NDC, nil
}

// fetchInteractions queries the interaction list for a set of RxCUIs
// and flattens the nested response into pairs.
func (s *Source) fetchInteractions(ctx context.Context, rxcuis []string) ([]Interaction, error) {
	query := strings.Join(rxcuis, "+")

	body, err := s.client.Get(ctx, s.baseURL+"/interaction/list.json?rxcuis="+query)
	if err != nil {
		return nil, fmt.Errorf("interactions: %w", err)
	}

	var resp struct {
		FullInteractionTypeGroup []struct {
			FullInteractionType []struct {
				InteractionPair []struct {
					Severity           string `json:"severity"`
					Description        string `json:"description"`
					InteractionConcept []struct {
						MinConceptItem struct {
							RxCUI string `json:"rxcui"`
							Name  string `json:"name"`
						} `json:"minConceptItem"`
					} `json:"interactionConcept"`
				} `json:"interactionPair"`
			} `json:"fullInteractionType"`
		} `json:"fullInteractionTypeGroup"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("interactions response: %w", err)
	}

	var interactions []Interaction

	for _, group := range resp.FullInteractionTypeGroup {
		for _, interType := range group.FullInteractionType {
			for _, pair := range interType.InteractionPair {
				inter := Interaction{
					Severity:    pair.Severity,
					Description: pair.Description,
				}

				if len(pair.InteractionConcept) > 0 {
					inter.Drug1 = InteractionDrug{
						Name:  pair.InteractionConcept[0].MinConceptItem.Name,
						RxCUI: pair.InteractionConcept[0].MinConceptItem.RxCUI,
					}
				}

				if len(pair.InteractionConcept) > 1 {
					inter.Drug2 = InteractionDrug{
						Name:  pair.InteractionConcept[1].MinConceptItem.Name,
						RxCUI: pair.InteractionConcept[1].MinConceptItem.RxCUI,
					}
				}

				interactions = append(interactions, inter)
			}
		}
	}

	return interactions, nil
}
