// internal/dimension/policy.go
package dimension

import (
	"math"

	"github.com/xkilldash9x/thumbor-attrs/internal/options"
	"github.com/xkilldash9x/thumbor-attrs/internal/size"
)

// Strategy is the sizing operation requested from the image service.
type Strategy int

const (
	// None means no size transform is applied.
	None Strategy = iota
	// Resize crops to exactly Width x Height.
	Resize
	// FitIn scales the image to fit within Width x Height without cropping.
	FitIn
)

func (s Strategy) String() string {
	switch s {
	case Resize:
		return "resize"
	case FitIn:
		return "fit-in"
	default:
		return "none"
	}
}

// Geometry is the live size signal of one element, in CSS pixels. A nil
// style value means the inline style does not declare that dimension; zero
// offsets mean the element or its parent is not rendered.
type Geometry struct {
	StyleWidth   *float64
	StyleHeight  *float64
	OffsetWidth  float64
	OffsetHeight float64
	ParentWidth  float64
	ParentHeight float64
}

// Environment is the page-level context sizes are resolved against.
type Environment struct {
	ViewportWidth  float64
	ViewportHeight float64
	Ratio          *size.PixelRatio
}

func (e Environment) ratio() float64 {
	if e.Ratio == nil {
		return 1
	}
	return e.Ratio.Value()
}

// Result is the resolved target size and strategy.
type Result struct {
	Width    int
	Height   int
	Strategy Strategy
}

// Resolve picks the final dimensions. Explicit resize wins over fit, fit over
// a square size, and only when none of those is set does the element's own
// geometry decide.
func Resolve(o options.TransformOptions, g Geometry, env Environment) Result {
	if box, ok := o.Resize(); ok {
		return Result{
			Width:    env.quantize(box.Width),
			Height:   env.quantize(box.Height),
			Strategy: Resize,
		}
	}

	if box, ok := o.Fit(); ok {
		return Result{
			Width:    env.quantize(box.Width),
			Height:   env.quantize(box.Height),
			Strategy: FitIn,
		}
	}

	sq := o.Square()
	if sq.Size != nil {
		// A square literal that quantizes to zero behaves like a bare
		// square attribute and falls through to the DOM.
		if s := env.quantize(*sq.Size); s != 0 {
			return Result{Width: s, Height: s, Strategy: Resize}
		}
	}

	width := size.Quantize(MeasureWidth(g), env.ratio())
	height := size.Quantize(MeasureHeight(g), env.ratio())

	if sq.Enabled {
		switch {
		case width != 0:
			return Result{Width: width, Height: width, Strategy: Resize}
		case height != 0:
			return Result{Width: height, Height: height, Strategy: Resize}
		default:
			return Result{}
		}
	}

	switch {
	case width != 0 && height != 0:
		return Result{Width: width, Height: height, Strategy: FitIn}
	case width != 0:
		return Result{Width: width, Height: width, Strategy: FitIn}
	case height != 0:
		return Result{Width: height, Height: height, Strategy: FitIn}
	default:
		return Result{}
	}
}

func (e Environment) quantize(l size.Literal) int {
	return size.Quantize(l.ToPixels(e.ViewportWidth, e.ViewportHeight), e.ratio())
}

// MeasureWidth prefers a positive inline style width, then the element's
// rendered width, then its parent's.
func MeasureWidth(g Geometry) float64 {
	switch {
	case g.StyleWidth != nil && *g.StyleWidth > 0:
		return roundHalfUp(*g.StyleWidth)
	case g.OffsetWidth != 0:
		return roundHalfUp(g.OffsetWidth)
	case g.ParentWidth != 0:
		return roundHalfUp(g.ParentWidth)
	default:
		return 0
	}
}

// MeasureHeight mirrors MeasureWidth, except that any declared inline height
// is taken as is.
func MeasureHeight(g Geometry) float64 {
	switch {
	case g.StyleHeight != nil:
		return roundHalfUp(*g.StyleHeight)
	case g.OffsetHeight != 0:
		return roundHalfUp(g.OffsetHeight)
	case g.ParentHeight != 0:
		return roundHalfUp(g.ParentHeight)
	default:
		return 0
	}
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}
