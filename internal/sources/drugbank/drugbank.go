// Package drugbank parses a locally-downloaded DrugBank XML database
// dump. DrugBank's license requires a manual download, so this source
// reads from disk instead of the network; the full dump is around 1GB,
// so drugs are streamed off an xml.Decoder rather than loaded whole.
// The single "drugs" segment pages through the file; the cursor is the
// count of drugs already emitted.
//
// Download: https://go.drugbank.com/releases/latest
// License: free for academic use, citation required.
package drugbank

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/output"
	"github.com/lumen-medical/medcollect/internal/scraper"
)

const (
	// DefaultPageSize is how many drugs one FetchPage call emits.
	DefaultPageSize = 100

	segmentDrugs = "drugs"
)

// ErrNoDatabase indicates the configured XML dump does not exist.
var ErrNoDatabase = errors.New("drugbank xml dump not found")

// Drug is the normalized form of one DrugBank entry.
type Drug struct {
	DrugBankID          string            `json:"drugbank_id"`
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	CASNumber           string            `json:"cas_number"`
	DrugType            string            `json:"drug_type"`
	Synonyms            []string          `json:"synonyms"`
	Indication          string            `json:"indication"`
	Pharmacodynamics    string            `json:"pharmacodynamics"`
	MechanismOfAction   string            `json:"mechanism_of_action"`
	Toxicity            string            `json:"toxicity"`
	Metabolism          string            `json:"metabolism"`
	HalfLife            string            `json:"half_life"`
	Categories          []string          `json:"categories"`
	Interactions        []DrugInteraction `json:"interactions"`
	FoodInteractions    []string          `json:"food_interactions"`
	AffectedOrganisms   []string          `json:"affected_organisms"`
	ExternalIdentifiers map[string]string `json:"external_identifiers"`
	Targets             []Target          `json:"targets"`
	Patents             []Patent          `json:"patents"`
}

// DrugInteraction is one drug-drug interaction listed under a drug.
type DrugInteraction struct {
	DrugBankID  string `json:"drugbank_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Target is a protein the drug acts on.
type Target struct {
	Name     string   `json:"name"`
	Organism string   `json:"organism"`
	Actions  []string `json:"actions"`
}

// Patent is one patent record attached to a drug.
type Patent struct {
	Number   string `json:"number"`
	Country  string `json:"country"`
	Approved string `json:"approved"`
	Expires  string `json:"expires"`
}

// Options configures a DrugBank source.
type Options struct {
	XMLPath  string
	PageSize int
	Logger   logger.Interface
}

// Source implements scraper.Source over a DrugBank dump. It holds the
// open decoder between FetchPage calls; a cursor ahead of the stream
// position (resume after restart) is honored by skipping forward.
type Source struct {
	path     string
	pageSize int
	log      logger.Interface

	file    *os.File
	decoder *xml.Decoder
	depth   int
	pos     int // drugs decoded so far
	eof     bool
}

// New creates a DrugBank source.
func New(opts Options) *Source {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	return &Source{
		path:     opts.XMLPath,
		pageSize: opts.PageSize,
		log:      opts.Logger,
	}
}

func (s *Source) Name() string { return "drugbank" }

func (s *Source) Segments() []string { return []string{segmentDrugs} }

// Close releases the underlying file, if open.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil

	return err
}

// FetchPage decodes the next pageSize drugs from the stream. A cursor
// past the current stream position skips intervening drugs, which
// makes resume-by-cursor work without byte offsets.
func (s *Source) FetchPage(_ context.Context, _ string, cursor int) (*scraper.Page, error) {
	if err := s.open(); err != nil {
		return nil, err
	}

	if cursor < s.pos {
		return nil, fmt.Errorf("cursor %d behind stream position %d", cursor, s.pos)
	}

	for s.pos < cursor && !s.eof {
		if _, _, err := s.nextDrug(); err != nil {
			return nil, err
		}
	}

	page := &scraper.Page{NextCursor: cursor}

	for len(page.Records) < s.pageSize && !s.eof {
		drug, ok, err := s.nextDrug()
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		page.NextCursor = s.pos

		if drug.DrugBankID == "" {
			page.Skipped++
			continue
		}

		var category string
		if len(drug.Categories) > 0 {
			category = "category_" + drug.Categories[0]
		}

		page.Records = append(page.Records, output.Record{
			ID:        drug.DrugBankID,
			Source:    s.Name(),
			SourceURL: "https://go.drugbank.com/drugs/" + drug.DrugBankID,
			FetchedAt: time.Now().UTC(),
			Category:  category,
			Data:      drug,
		})
	}

	page.Done = s.eof

	return page, nil
}

func (s *Source) open() error {
	if s.file != nil {
		return nil
	}

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s (download from https://go.drugbank.com/releases/latest)",
				ErrNoDatabase, s.path)
		}

		return fmt.Errorf("open drugbank dump: %w", err)
	}

	s.file = file
	s.decoder = xml.NewDecoder(file)
	s.depth = 0
	s.pos = 0
	s.eof = false

	return nil
}

// nextDrug advances the token stream to the next top-level <drug>
// element and decodes it. ok is false at end of file.
func (s *Source) nextDrug() (*Drug, bool, error) {
	for {
		token, err := s.decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				return nil, false, nil
			}

			return nil, false, fmt.Errorf("drugbank xml at drug %d: %w", s.pos, err)
		}

		switch elem := token.(type) {
		case xml.StartElement:
			// Top-level drugs sit directly under the <drugbank> root.
			// Nested <drug> elements (none in current schemas, but the
			// depth guard is cheap) are left to DecodeElement.
			if elem.Name.Local == "drug" && s.depth == 1 {
				var raw drugXML
				if err := s.decoder.DecodeElement(&raw, &elem); err != nil {
					return nil, false, fmt.Errorf("decode drug %d: %w", s.pos, err)
				}

				s.pos++

				return raw.normalize(), true, nil
			}

			s.depth++

		case xml.EndElement:
			s.depth--
		}
	}
}

type drugXML struct {
	Type string `xml:"type,attr"`
	IDs  []struct {
		Value   string `xml:",chardata"`
		Primary string `xml:"primary,attr"`
	} `xml:"drugbank-id"`
	Name             string   `xml:"name"`
	Description      string   `xml:"description"`
	CASNumber        string   `xml:"cas-number"`
	Synonyms         []string `xml:"synonyms>synonym"`
	Indication       string   `xml:"indication"`
	Pharmacodynamics string   `xml:"pharmacodynamics"`
	Mechanism        string   `xml:"mechanism-of-action"`
	Toxicity         string   `xml:"toxicity"`
	Metabolism       string   `xml:"metabolism"`
	HalfLife         string   `xml:"half-life"`
	Categories       []string `xml:"categories>category>category"`
	Interactions     []struct {
		DrugBankID  string `xml:"drugbank-id"`
		Name        string `xml:"name"`
		Description string `xml:"description"`
	} `xml:"drug-interactions>drug-interaction"`
	FoodInteractions []string `xml:"food-interactions>food-interaction"`
	Organisms        []string `xml:"affected-organisms>affected-organism"`
	ExternalIDs      []struct {
		Resource   string `xml:"resource"`
		Identifier string `xml:"identifier"`
	} `xml:"external-identifiers>external-identifier"`
	Targets []struct {
		Name     string   `xml:"name"`
		Organism string   `xml:"organism"`
		Actions  []string `xml:"actions>action"`
	} `xml:"targets>target"`
	Patents []struct {
		Number   string `xml:"number"`
		Country  string `xml:"country"`
		Approved string `xml:"approved"`
		Expires  string `xml:"expires"`
	} `xml:"patents>patent"`
}

func (d drugXML) normalize() *Drug {
	drug := &Drug{
		DrugBankID:          d.primaryID(),
		Name:                d.Name,
		Description:         d.Description,
		CASNumber:           d.CASNumber,
		DrugType:            d.Type,
		Synonyms:            d.Synonyms,
		Indication:          d.Indication,
		Pharmacodynamics:    d.Pharmacodynamics,
		MechanismOfAction:   d.Mechanism,
		Toxicity:            d.Toxicity,
		Metabolism:          d.Metabolism,
		HalfLife:            d.HalfLife,
		Categories:          d.Categories,
		FoodInteractions:    d.FoodInteractions,
		AffectedOrganisms:   d.Organisms,
		ExternalIdentifiers: make(map[string]string, len(d.ExternalIDs)),
	}

	for _, inter := range d.Interactions {
		drug.Interactions = append(drug.Interactions, DrugInteraction{
			DrugBankID:  inter.DrugBankID,
			Name:        inter.Name,
			Description: inter.Description,
		})
	}

	for _, ext := range d.ExternalIDs {
		if ext.Resource != "" && ext.Identifier != "" {
			drug.ExternalIdentifiers[ext.Resource] = ext.Identifier
		}
	}

	for _, target := range d.Targets {
		drug.Targets = append(drug.Targets, Target{
			Name:     target.Name,
			Organism: target.Organism,
			Actions:  target.Actions,
		})
	}

	for _, patent := range d.Patents {
		drug.Patents = append(drug.Patents, Patent{
			Number:   patent.Number,
			Country:  patent.Country,
			Approved: patent.Approved,
			Expires:  patent.Expires,
		})
	}

	return drug
}

// primaryID prefers the drugbank-id flagged primary, falling back to
// the first listed.
func (d drugXML) primaryID() string {
	for _, id := range d.IDs {
		if id.Primary == "true" {
			return id.Value
		}
	}

	if len(d.IDs) > 0 {
		return d.IDs[0].Value
	}

	return ""
}
