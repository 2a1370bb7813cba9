// Package htmldoc implements crawler.Parser on top of goquery.
package htmldoc

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
)

// Parser parses HTML with goquery.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse builds a queryable document from body.
func (Parser) Parse(body []byte) (crawler.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Document wraps a goquery document.
type Document struct {
	doc *goquery.Document
}

// Select returns every element with the given tag name.
func (d *Document) Select(tag string) []crawler.Element {
	return elements(d.doc.Find(tag))
}

// SelectByAttribute returns every tag element that carries attr.
func (d *Document) SelectByAttribute(tag, attr string) []crawler.Element {
	return elements(d.doc.Find(fmt.Sprintf("%s[%s]", tag, attr)))
}

// Query runs a CSS selector. An invalid selector matches nothing.
func (d *Document) Query(selector string) []crawler.Element {
	return elements(d.doc.Find(selector))
}

func elements(sel *goquery.Selection) []crawler.Element {
	out := make([]crawler.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Element{sel: s})
	})
	return out
}

// Element is one matched node.
type Element struct {
	sel *goquery.Selection
}

// Attr returns the attribute value and whether it is present.
func (e Element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

// Text returns the combined text of the node and its descendants.
func (e Element) Text() string {
	return e.sel.Text()
}
