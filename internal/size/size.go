// internal/size/size.go
package size

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Grid is the step, in device pixels, every resolved dimension is rounded to.
// Keeping sizes on a coarse grid keeps the image service's cache small.
const Grid = 25

const (
	// MaxValue bounds the magnitude of a literal's numeric part.
	MaxValue = 1 << 20
	// MaxDevicePixels bounds the magnitude of a quantized dimension.
	MaxDevicePixels = 1 << 24
)

// Unit identifies how a size literal maps onto pixels.
type Unit string

const (
	// Pixels is an absolute CSS pixel value ("120px").
	Pixels Unit = "px"
	// ViewportHeight is a percentage of the viewport height ("50vh").
	ViewportHeight Unit = "vh"
	// ViewportWidth is a percentage of the viewport width ("33vw").
	ViewportWidth Unit = "vw"
)

// ErrFormat is the sentinel matched by every FormatError.
var ErrFormat = errors.New("unrecognized size format")

// FormatError reports a size literal without a px, vh or vw suffix,
// or with a numeric part that does not parse.
type FormatError struct {
	Literal string
	// Reason is set when the suffix is fine but the number is not.
	Reason string
}

func (e *FormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("size %q: %s", e.Literal, e.Reason)
	}
	return fmt.Sprintf("size %q must be one of the following formats 'px', 'vh', 'vw'", e.Literal)
}

// Is lets errors.Is(err, ErrFormat) match.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// Literal is a parsed size literal such as "100px" or "50vw".
type Literal struct {
	Value float64
	Unit  Unit
}

// String renders the literal back into attribute form.
func (l Literal) String() string {
	return strconv.FormatFloat(l.Value, 'f', -1, 64) + string(l.Unit)
}

// ParseLiteral parses a size literal. Absolute pixel values are truncated to
// integers; viewport-relative values keep their fractional part.
func ParseLiteral(s string) (Literal, error) {
	s = strings.TrimSpace(s)

	var unit Unit
	switch {
	case strings.HasSuffix(s, string(Pixels)):
		unit = Pixels
	case strings.HasSuffix(s, string(ViewportHeight)):
		unit = ViewportHeight
	case strings.HasSuffix(s, string(ViewportWidth)):
		unit = ViewportWidth
	default:
		return Literal{}, &FormatError{Literal: s}
	}

	number := strings.TrimSuffix(s, string(unit))
	value, err := strconv.ParseFloat(number, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return Literal{}, &FormatError{Literal: s}
	}
	if math.Abs(value) > MaxValue {
		return Literal{}, &FormatError{Literal: s, Reason: fmt.Sprintf("magnitude exceeds %d", MaxValue)}
	}
	if unit == Pixels {
		value = math.Trunc(value)
	}
	return Literal{Value: value, Unit: unit}, nil
}

// ToPixels resolves the literal to raw (unquantized) CSS pixels.
func (l Literal) ToPixels(viewportWidth, viewportHeight float64) float64 {
	switch l.Unit {
	case ViewportHeight:
		return viewportHeight * l.Value / 100
	case ViewportWidth:
		return viewportWidth * l.Value / 100
	default:
		return l.Value
	}
}

// ToPixels parses and resolves a literal in one step.
func ToPixels(literal string, viewportWidth, viewportHeight float64) (float64, error) {
	l, err := ParseLiteral(literal)
	if err != nil {
		return 0, err
	}
	return l.ToPixels(viewportWidth, viewportHeight), nil
}

// Quantize scales raw CSS pixels by the device pixel ratio and rounds the
// result away from zero onto the Grid. The magnitude is clamped to
// MaxDevicePixels before rounding.
func Quantize(raw, ratio float64) int {
	device := raw * ratio
	if math.IsNaN(device) {
		return 0
	}
	device = math.Max(-MaxDevicePixels, math.Min(device, MaxDevicePixels))
	switch {
	case device > 0:
		return int(math.Ceil(device/Grid)) * Grid
	case raw < 0:
		return int(math.Floor(device/Grid)) * Grid
	default:
		return 0
	}
}

// RatioSource carries the raw pixel ratio signals a page exposes.
// SystemXDPI and LogicalXDPI are the legacy screen DPI pair; zero means absent.
type RatioSource struct {
	SystemXDPI       float64
	LogicalXDPI      float64
	DevicePixelRatio float64
}

// Ratio derives the effective device pixel ratio from the signals.
func (s RatioSource) Ratio() float64 {
	if s.SystemXDPI > 0 && s.LogicalXDPI > 0 && s.SystemXDPI > s.LogicalXDPI {
		return s.SystemXDPI / s.LogicalXDPI
	}
	if s.DevicePixelRatio > 0 {
		return s.DevicePixelRatio
	}
	return 1
}

// PixelRatio is a lazily computed, then read-only, device pixel ratio.
// The zero value is not usable; build one with NewPixelRatio.
type PixelRatio struct {
	once   sync.Once
	source func() RatioSource
	value  float64
}

// NewPixelRatio memoizes the ratio computed from the first call to source.
func NewPixelRatio(source func() RatioSource) *PixelRatio {
	return &PixelRatio{source: source}
}

// FixedPixelRatio returns a PixelRatio that always reports r.
func FixedPixelRatio(r float64) *PixelRatio {
	return NewPixelRatio(func() RatioSource { return RatioSource{DevicePixelRatio: r} })
}

// Value returns the memoized ratio, computing it on first use.
func (p *PixelRatio) Value() float64 {
	p.once.Do(func() {
		src := RatioSource{}
		if p.source != nil {
			src = p.source()
		}
		p.value = src.Ratio()
	})
	return p.value
}
