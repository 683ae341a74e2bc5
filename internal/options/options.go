// internal/options/options.go
package options

import (
	"github.com/xkilldash9x/thumbor-attrs/internal/size"
)

// Attribute names of the declarative grammar. They are case-sensitive.
const (
	AttrSource = "thumbor"
	AttrSmart  = "thumbor-smart"
	AttrFilter = "thumbor-filter"
	AttrSquare = "thumbor-square"
	AttrResize = "thumbor-resize"
	AttrFit    = "thumbor-fit"
	AttrFlipH  = "thumbor-fliph"
	AttrFlipV  = "thumbor-flipv"
	AttrHAlign = "thumbor-halign"
	AttrVAlign = "thumbor-valign"
	AttrFormat = "thumbor-format"
	AttrDone   = "thumbor-done" // marker, system managed
)

// HAlign is the horizontal crop alignment.
type HAlign string

const (
	HAlignNone   HAlign = ""
	HAlignLeft   HAlign = "left"
	HAlignCenter HAlign = "center"
	HAlignRight  HAlign = "right"
)

// VAlign is the vertical crop alignment.
type VAlign string

const (
	VAlignNone   VAlign = ""
	VAlignTop    VAlign = "top"
	VAlignMiddle VAlign = "middle"
	VAlignBottom VAlign = "bottom"
)

// Format forces the output codec of the image service.
type Format string

const (
	FormatNone Format = ""
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
	FormatPNG  Format = "png"
)

var (
	legalHAlign = map[HAlign]bool{HAlignLeft: true, HAlignCenter: true, HAlignRight: true}
	legalVAlign = map[VAlign]bool{VAlignTop: true, VAlignMiddle: true, VAlignBottom: true}
	legalFormat = map[Format]bool{FormatWebP: true, FormatJPEG: true, FormatGIF: true, FormatPNG: true}
)

// Box is an explicit width,height pair of size literals.
type Box struct {
	Width  size.Literal
	Height size.Literal
}

// Square describes square-crop intent. Size is nil when the attribute was
// present without a value.
type Square struct {
	Enabled bool
	Size    *size.Literal
}

// TransformOptions is the validated, immutable option record of one element.
type TransformOptions struct {
	sourceURL string
	smartCrop bool
	filters   []string
	square    Square
	resize    *Box
	fit       *Box
	flipH     bool
	flipV     bool
	hAlign    HAlign
	vAlign    VAlign
	format    Format
}

func (o TransformOptions) SourceURL() string    { return o.sourceURL }
func (o TransformOptions) SmartCrop() bool      { return o.smartCrop }
func (o TransformOptions) FlipHorizontal() bool { return o.flipH }
func (o TransformOptions) FlipVertical() bool   { return o.flipV }
func (o TransformOptions) HAlign() HAlign       { return o.hAlign }
func (o TransformOptions) VAlign() VAlign       { return o.vAlign }
func (o TransformOptions) Format() Format       { return o.format }

// Filters returns a copy of the filter directives in declaration order.
func (o TransformOptions) Filters() []string {
	if len(o.filters) == 0 {
		return nil
	}
	out := make([]string, len(o.filters))
	copy(out, o.filters)
	return out
}

// Square returns the square-crop request.
func (o TransformOptions) Square() Square {
	sq := o.square
	if sq.Size != nil {
		v := *sq.Size
		sq.Size = &v
	}
	return sq
}

// Resize returns the explicit resize box, if any.
func (o TransformOptions) Resize() (Box, bool) {
	if o.resize == nil {
		return Box{}, false
	}
	return *o.resize, true
}

// Fit returns the explicit fit-in box, if any.
func (o TransformOptions) Fit() (Box, bool) {
	if o.fit == nil {
		return Box{}, false
	}
	return *o.fit, true
}
