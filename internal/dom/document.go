// internal/dom/document.go
package dom

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ProbeAttr is the transient attribute used to correlate elements with
// measurements taken from a rendered copy of the document.
const ProbeAttr = "data-thumbor-probe"

// ElementID is a document-scoped, stable element identity.
type ElementID uint64

// Document is a parsed HTML document. It is not safe for concurrent use;
// callers serialize access.
type Document struct {
	doc  *goquery.Document
	ids  map[*html.Node]ElementID
	next ElementID
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Document{doc: doc, ids: make(map[*html.Node]ElementID)}, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// SelectByAttr returns every element carrying attr, in document order.
func (d *Document) SelectByAttr(attr string) []*Element {
	var out []*Element
	d.doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
		out = append(out, d.wrap(s))
	})
	return out
}

func (d *Document) wrap(s *goquery.Selection) *Element {
	node := s.Get(0)
	id, ok := d.ids[node]
	if !ok {
		d.next++
		id = d.next
		d.ids[node] = id
	}
	return &Element{doc: d, sel: s, id: id}
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return goquery.Render(w, d.doc.Selection)
}

// HTML returns the rendered document.
func (d *Document) HTML() (string, error) {
	var sb strings.Builder
	if err := d.Render(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ProbeHTML renders the document with every attr-bearing element tagged with
// its ElementID under ProbeAttr. The tags are removed again before returning.
func (d *Document) ProbeHTML(attr string) (string, []ElementID, error) {
	elements := d.SelectByAttr(attr)
	ids := make([]ElementID, 0, len(elements))
	for _, el := range elements {
		el.SetAttr(ProbeAttr, strconv.FormatUint(uint64(el.ID()), 10))
		ids = append(ids, el.ID())
	}
	defer func() {
		for _, el := range elements {
			el.RemoveAttr(ProbeAttr)
		}
	}()

	out, err := d.HTML()
	if err != nil {
		return "", nil, err
	}
	return out, ids, nil
}
