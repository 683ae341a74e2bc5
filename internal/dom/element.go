// internal/dom/element.go
package dom

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Element is a handle on one element of a Document.
type Element struct {
	doc *Document
	sel *goquery.Selection
	id  ElementID
}

// ID returns the element's document-scoped identity.
func (e *Element) ID() ElementID { return e.id }

// Tag returns the lower-case tag name.
func (e *Element) Tag() string { return goquery.NodeName(e.sel) }

// IsImage reports whether the element is an <img>.
func (e *Element) IsImage() bool { return e.Tag() == "img" }

// Get implements options.Attributes.
func (e *Element) Get(name string) (string, bool) { return e.sel.Attr(name) }

// Has reports whether the attribute is present.
func (e *Element) Has(name string) bool {
	_, ok := e.sel.Attr(name)
	return ok
}

func (e *Element) SetAttr(name, value string) { e.sel.SetAttr(name, value) }

func (e *Element) RemoveAttr(name string) { e.sel.RemoveAttr(name) }

// Parent returns the parent element, or nil at the document root.
func (e *Element) Parent() *Element {
	p := e.sel.Parent()
	if p.Length() == 0 || goquery.NodeName(p) == "#document" {
		return nil
	}
	return e.doc.wrap(p)
}

// InlineStyle returns the parsed style attribute.
func (e *Element) InlineStyle() InlineStyle {
	raw, _ := e.sel.Attr("style")
	return ParseInlineStyle(raw)
}

// Style returns one inline style property.
func (e *Element) Style(prop string) (string, bool) {
	return e.InlineStyle().Get(prop)
}

// SetStyle sets an inline style property. An empty value removes it, the
// same way assigning "" to element.style does in a browser.
func (e *Element) SetStyle(prop, value string) {
	style := e.InlineStyle()
	if value == "" {
		style = style.remove(prop)
	} else {
		style = style.set(Declaration{Property: prop, Value: value})
	}
	if len(style) == 0 {
		e.sel.RemoveAttr("style")
		return
	}
	e.sel.SetAttr("style", style.String())
}

// StyleLength returns an inline style property as a pixel length.
func (e *Element) StyleLength(prop string) (float64, bool) {
	v, ok := e.Style(prop)
	if !ok {
		return 0, false
	}
	return PixelLength(v)
}

// AttrLength returns a presentational width/height attribute as pixels.
func (e *Element) AttrLength(name string) float64 {
	v, ok := e.sel.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
