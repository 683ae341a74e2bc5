// internal/dom/geometry.go
package dom

import (
	"github.com/xkilldash9x/thumbor-attrs/internal/dimension"
)

// Box holds rendered sizes of an element and its parent, in CSS pixels.
type Box struct {
	OffsetWidth  float64 `json:"offsetWidth"`
	OffsetHeight float64 `json:"offsetHeight"`
	ParentWidth  float64 `json:"parentWidth"`
	ParentHeight float64 `json:"parentHeight"`
}

// Measurer supplies rendered sizes for elements.
type Measurer interface {
	Measure(e *Element) (Box, bool)
}

// Measurements are sizes captured from a rendered copy of the document.
type Measurements map[ElementID]Box

// Measure implements Measurer.
func (m Measurements) Measure(e *Element) (Box, bool) {
	b, ok := m[e.ID()]
	return b, ok
}

// StaticMeasurer estimates rendered sizes without layout, from pixel inline
// styles and presentational width/height attributes.
type StaticMeasurer struct{}

// Measure implements Measurer. It always succeeds.
func (StaticMeasurer) Measure(e *Element) (Box, bool) {
	var b Box
	b.OffsetWidth, b.OffsetHeight = staticSize(e)
	if p := e.Parent(); p != nil {
		b.ParentWidth, b.ParentHeight = staticSize(p)
	}
	return b, true
}

func staticSize(e *Element) (w, h float64) {
	if v, ok := e.StyleLength("width"); ok {
		w = v
	} else {
		w = e.AttrLength("width")
	}
	if v, ok := e.StyleLength("height"); ok {
		h = v
	} else {
		h = e.AttrLength("height")
	}
	return w, h
}

// Geometry collects the element's size signals. Measurers are consulted in
// order and the first that knows the element wins; StaticMeasurer is the
// final fallback.
func (e *Element) Geometry(measurers ...Measurer) dimension.Geometry {
	var g dimension.Geometry
	if v, ok := e.StyleLength("width"); ok {
		g.StyleWidth = &v
	}
	if v, ok := e.StyleLength("height"); ok {
		g.StyleHeight = &v
	}

	box, _ := StaticMeasurer{}.Measure(e)
	for _, m := range measurers {
		if m == nil {
			continue
		}
		if b, ok := m.Measure(e); ok {
			box = b
			break
		}
	}
	g.OffsetWidth = box.OffsetWidth
	g.OffsetHeight = box.OffsetHeight
	g.ParentWidth = box.ParentWidth
	g.ParentHeight = box.ParentHeight
	return g
}
