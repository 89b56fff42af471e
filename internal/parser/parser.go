// Package parser extracts listing rows and document details from repository
// pages using goquery.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

const (
	listingColumns = 3
	fileColumns    = 6
)

// Parser implements crawler.Parser.
type Parser struct {
	logger *zap.Logger
}

// New builds a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// ParseListing returns one stub per result row, in markup order. Header rows
// (no td cells) are skipped. A page without a results table is a ParseError.
func (p *Parser) ParseListing(body []byte) ([]crawler.DocumentStub, error) {
	doc, err := load(body)
	if err != nil {
		return nil, err
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, &crawler.ParseError{Element: "results table"}
	}

	stubs := make([]crawler.DocumentStub, 0, 25)
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		if cells.Length() < listingColumns {
			p.logger.Debug("skipping short listing row", zap.Int("row", i), zap.Int("cells", cells.Length()))
			return
		}
		titleCell := cells.Eq(1)
		href, ok := titleCell.Find("a").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			p.logger.Debug("skipping listing row without link", zap.Int("row", i))
			return
		}
		stubs = append(stubs, crawler.DocumentStub{
			AcceptedDate: text(cells.Eq(0)),
			Title:        text(titleCell),
			Author:       text(cells.Eq(2)),
			Href:         strings.TrimSpace(href),
		})
	})
	return stubs, nil
}

// ParseDocument extracts the heading, breadcrumb trail, attribute list and file
// table of a document page. The main content block, the attribute list and the
// file table are required.
func (p *Parser) ParseDocument(body []byte) (crawler.DocumentPage, error) {
	doc, err := load(body)
	if err != nil {
		return crawler.DocumentPage{}, err
	}
	main := doc.Find("div#index_page").First()
	if main.Length() == 0 {
		return crawler.DocumentPage{}, &crawler.ParseError{Element: "main content block"}
	}
	attrList := main.Find("div.attrList").First()
	if attrList.Length() == 0 {
		return crawler.DocumentPage{}, &crawler.ParseError{Element: "attribute list"}
	}
	table := attrList.Find("table.t-data-grid").First()
	if table.Length() == 0 {
		table = main.Find("table.t-data-grid").First()
	}
	if table.Length() == 0 {
		return crawler.DocumentPage{}, &crawler.ParseError{Element: "file table"}
	}

	page := crawler.DocumentPage{
		Kind:       heading(main.Find("h1").First()),
		Taxonomy:   breadcrumbs(main),
		Attributes: attributes(attrList),
		Files:      p.files(table),
	}
	return page, nil
}

func (p *Parser) files(table *goquery.Selection) []crawler.FileStub {
	var files []crawler.FileStub
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		if cells.Length() < fileColumns {
			p.logger.Debug("skipping short file row", zap.Int("row", i), zap.Int("cells", cells.Length()))
			return
		}
		href, _ := cells.Eq(5).Find("a").First().Attr("href")
		files = append(files, crawler.FileStub{
			Filename:    text(cells.Eq(0)),
			Size:        text(cells.Eq(1)),
			Access:      text(cells.Eq(2)),
			Description: text(cells.Eq(3)),
			FileType:    text(cells.Eq(4)),
			Href:        strings.TrimSpace(href),
		})
	})
	return files
}

func breadcrumbs(main *goquery.Selection) []string {
	var trail []string
	main.Find("span.trail a.trailInstitution").Each(func(_ int, a *goquery.Selection) {
		if s := text(a); s != "" {
			trail = append(trail, s)
		}
	})
	return trail
}

// attributes reads label/value pairs. A repeated label keeps its last value.
func attributes(attrList *goquery.Selection) map[string]string {
	attrs := make(map[string]string)
	attrList.Find("div.attr").Each(func(_ int, attr *goquery.Selection) {
		label := attr.Find("span.attrLabel").First()
		content := attr.Find("div.attrContent").First()
		if label.Length() == 0 || content.Length() == 0 {
			return
		}
		key := strings.TrimSuffix(text(label), ":")
		if key == "" {
			return
		}
		attrs[strings.TrimSpace(key)] = text(content)
	})
	return attrs
}

// heading returns the first text node of the h1, which names the document kind.
func heading(h1 *goquery.Selection) string {
	var kind string
	h1.Contents().EachWithBreak(func(_ int, node *goquery.Selection) bool {
		if goquery.NodeName(node) != "#text" {
			return true
		}
		if s := strings.TrimSpace(node.Text()); s != "" {
			kind = s
			return false
		}
		return true
	})
	if kind == "" {
		kind = text(h1)
	}
	return kind
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func load(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &crawler.ParseError{Element: "html document", Err: fmt.Errorf("read markup: %w", err)}
	}
	return doc, nil
}
