// Package fdaguidance scrapes FDA regulatory guidance documents from
// the fda.gov search pages. Unlike the API-backed sources this one
// parses HTML; each guidance category is one segment and the cursor is
// the search result page number. Every listed document is expanded
// with its detail page to pick up the PDF link and issue date.
//
// Source: https://www.fda.gov/regulatory-information/search-fda-guidance-documents
// Public domain (U.S. government). Robots rules apply.
package fdaguidance

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lumen-medical/medcollect/internal/fetch"
	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/output"
	"github.com/lumen-medical/medcollect/internal/scraper"
)

const (
	// DefaultBaseURL is the production fda.gov origin.
	DefaultBaseURL = "https://www.fda.gov"

	searchPath = "/regulatory-information/search-fda-guidance-documents"

	// DefaultRequestsPerSecond keeps a polite pace on fda.gov.
	DefaultRequestsPerSecond = 1.0

	// DefaultMaxPages bounds how deep each category is paged.
	DefaultMaxPages = 10
)

// DefaultCategories are the audience facets most relevant to
// pharmaceutical work.
var DefaultCategories = []string{
	"drugs",
	"biologics",
	"combination-products",
	"manufacturing",
	"quality",
}

var issuedDatePattern = regexp.MustCompile(`(?:Date Issued|Issue Date):\s*(\d{1,2}/\d{1,2}/\d{4})`)

// Document is one guidance document with its detail expansion.
type Document struct {
	Title          string `json:"title"`
	URL            string `json:"url"`
	Date           string `json:"date"`
	Description    string `json:"description"`
	DocumentNumber string `json:"document_number"`
	PDFURL         string `json:"pdf_url"`
	IssuedDate     string `json:"issued_date"`
	Excerpt        string `json:"excerpt"`
}

// Options configures an FDA guidance source.
type Options struct {
	BaseURL    string
	Categories []string
	MaxPages   int // per category
	Client     *fetch.Client
	Logger     logger.Interface
}

// Source implements scraper.Source for FDA guidance documents.
type Source struct {
	baseURL    string
	categories []string
	maxPages   int
	client     *fetch.Client
	log        logger.Interface
}

// New creates an FDA guidance source.
func New(opts Options) *Source {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if len(opts.Categories) == 0 {
		opts.Categories = DefaultCategories
	}

	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	return &Source{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		categories: opts.Categories,
		maxPages:   opts.MaxPages,
		client:     opts.Client,
		log:        opts.Logger,
	}
}

func (s *Source) Name() string { return "fda_guidance" }

func (s *Source) Segments() []string { return s.categories }

// FetchPage parses one search result page of the category and expands
// each hit with its detail page.
func (s *Source) FetchPage(ctx context.Context, category string, cursor int) (*scraper.Page, error) {
	if cursor >= s.maxPages {
		return &scraper.Page{NextCursor: cursor, Done: true}, nil
	}

	body, err := s.client.Get(ctx, s.searchURL(category, cursor))
	if err != nil {
		return nil, fmt.Errorf("guidance search %s page %d: %w", category, cursor, err)
	}

	docs, err := ParseSearchResults(body, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("guidance search %s page %d: %w", category, cursor, err)
	}

	page := &scraper.Page{NextCursor: cursor + 1}
	page.Done = len(docs) == 0 || cursor+1 >= s.maxPages

	for _, doc := range docs {
		if doc.Title == "" || doc.URL == "" {
			page.Skipped++
			continue
		}

		if err := s.expandDetails(ctx, &doc); err != nil {
			// Detail pages come and go; a missing one loses the PDF
			// link, not the listing.
			s.log.Warn("guidance detail unavailable",
				"url", doc.URL, "error", err.Error())
		}

		page.Records = append(page.Records, output.Record{
			ID:        documentID(doc),
			Source:    s.Name(),
			SourceURL: doc.URL,
			FetchedAt: time.Now().UTC(),
			Category:  category,
			Data:      doc,
		})
	}

	return page, nil
}

func (s *Source) searchURL(category string, page int) string {
	params := url.Values{}
	params.Set("f[0]", "audience:"+category)

	if page > 0 {
		params.Set("page", fmt.Sprint(page))
	}

	return s.baseURL + searchPath + "?" + params.Encode()
}

// ParseSearchResults extracts guidance listings from a search result
// page.
func ParseSearchResults(html []byte, baseURL string) ([]Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	var docs []Document

	doc.Find("article.fda-search-result").Each(func(_ int, article *goquery.Selection) {
		link := article.Find("h3 a").First()

		item := Document{
			Title:          strings.TrimSpace(link.Text()),
			Description:    strings.TrimSpace(article.Find("div.fda-search-result__desc").Text()),
			DocumentNumber: strings.TrimSpace(article.Find("div.fda-document-number").Text()),
		}

		if href, ok := link.Attr("href"); ok {
			item.URL = absoluteURL(baseURL, href)
		}

		if datetime, ok := article.Find("time").Attr("datetime"); ok {
			item.Date = datetime
		}

		docs = append(docs, item)
	})

	return docs, nil
}

// expandDetails fetches the guidance detail page and fills in the PDF
// link, issue date, and a content excerpt.
func (s *Source) expandDetails(ctx context.Context, doc *Document) error {
	body, err := s.client.Get(ctx, doc.URL)
	if err != nil {
		return err
	}

	pdfURL, issued, excerpt, err := ParseDetailPage(body, s.baseURL)
	if err != nil {
		return err
	}

	doc.PDFURL = pdfURL
	doc.IssuedDate = issued
	doc.Excerpt = excerpt

	return nil
}

// ParseDetailPage extracts the PDF link, issued date, and a bounded
// text excerpt from a guidance detail page.
func ParseDetailPage(html []byte, baseURL string) (pdfURL, issuedDate, excerpt string, err error) {
	doc, parseErr := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if parseErr != nil {
		return "", "", "", parseErr
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if strings.HasSuffix(href, ".pdf") || strings.Contains(href, "/media/") {
			pdfURL = absoluteURL(baseURL, href)
			return false
		}

		return true
	})

	content := doc.Find("div.main-content")
	if content.Length() == 0 {
		content = doc.Find("main")
	}

	text := strings.TrimSpace(content.Text())

	if match := issuedDatePattern.FindStringSubmatch(text); match != nil {
		issuedDate = match[1]
	}

	if len(text) > 5000 {
		text = text[:5000]
	}

	return pdfURL, issuedDate, text, nil
}

// documentID prefers the FDA document number; listings without one key
// on their URL.
func documentID(doc Document) string {
	if doc.DocumentNumber != "" {
		return doc.DocumentNumber
	}

	return doc.URL
}

func absoluteURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}

	return base + href
}
