package pubmed

import (
	"encoding/xml"
	"strings"
)

// Article is the normalized form of one PubMed citation.
type Article struct {
	PMID             string   `json:"pmid"`
	Title            string   `json:"title"`
	Abstract         string   `json:"abstract"`
	Authors          []string `json:"authors"`
	Journal          string   `json:"journal"`
	Year             string   `json:"year"`
	Month            string   `json:"month"`
	MeshTerms        []string `json:"mesh_terms"`
	Keywords         []string `json:"keywords"`
	PublicationTypes []string `json:"publication_types"`
}

type articleSet struct {
	XMLName  xml.Name     `xml:"PubmedArticleSet"`
	Articles []articleXML `xml:"PubmedArticle"`
}

type articleXML struct {
	PMID          string      `xml:"MedlineCitation>PMID"`
	Title         string      `xml:"MedlineCitation>Article>ArticleTitle"`
	AbstractTexts []string    `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	Authors       []authorXML `xml:"MedlineCitation>Article>AuthorList>Author"`
	Journal       string      `xml:"MedlineCitation>Article>Journal>Title"`
	PubDate       pubDateXML  `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate"`
	MeshTerms     []string    `xml:"MedlineCitation>MeshHeadingList>MeshHeading>DescriptorName"`
	Keywords      []string    `xml:"MedlineCitation>KeywordList>Keyword"`
	PubTypes      []string    `xml:"MedlineCitation>Article>PublicationTypeList>PublicationType"`
}

type authorXML struct {
	LastName string `xml:"LastName"`
	ForeName string `xml:"ForeName"`
}

type pubDateXML struct {
	Year  string `xml:"Year"`
	Month string `xml:"Month"`
}

// ParseArticles decodes an efetch PubmedArticleSet document.
func ParseArticles(data []byte) ([]Article, error) {
	var set articleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(set.Articles))
	for _, raw := range set.Articles {
		articles = append(articles, raw.normalize())
	}

	return articles, nil
}

func (a articleXML) normalize() Article {
	authors := make([]string, 0, len(a.Authors))
	for _, author := range a.Authors {
		name := strings.TrimSpace(author.ForeName + " " + author.LastName)
		if name != "" {
			authors = append(authors, name)
		}
	}

	return Article{
		PMID:             strings.TrimSpace(a.PMID),
		Title:            strings.TrimSpace(a.Title),
		Abstract:         strings.TrimSpace(strings.Join(a.AbstractTexts, " ")),
		Authors:          authors,
		Journal:          a.Journal,
		Year:             a.PubDate.Year,
		Month:            a.PubDate.Month,
		MeshTerms:        a.MeshTerms,
		Keywords:         a.Keywords,
		PublicationTypes: a.PubTypes,
	}
}
