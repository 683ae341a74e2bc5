// internal/options/parser.go
package options

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/thumbor-attrs/internal/size"
)

// ErrValidation is the sentinel matched by every ValidationError.
var ErrValidation = errors.New("invalid thumbor attributes")

// ValidationError reports an attribute that is missing, malformed or outside
// its enumerated set of legal values.
type ValidationError struct {
	Attribute string
	Value     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Attribute, e.Reason)
	}
	return fmt.Sprintf("%s=%q: %s", e.Attribute, e.Value, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Attributes is the read-only view of an element's attribute set.
type Attributes interface {
	// Get returns the attribute value and whether the attribute is present.
	Get(name string) (string, bool)
}

// MapAttributes adapts a plain map to Attributes.
type MapAttributes map[string]string

// Get implements Attributes.
func (m MapAttributes) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Parse reads the thumbor attribute grammar off one element. It has no side
// effects; the returned record is fully populated or an error is returned.
func Parse(attrs Attributes) (TransformOptions, error) {
	var o TransformOptions

	src, _ := attrs.Get(AttrSource)
	o.sourceURL = strings.TrimSpace(src)
	if o.sourceURL == "" {
		return TransformOptions{}, &ValidationError{
			Attribute: AttrSource,
			Reason:    `must have a url value, e.g. thumbor="http://img.com/img.jpg"`,
		}
	}

	o.smartCrop = has(attrs, AttrSmart)
	o.filters = parseFilters(value(attrs, AttrFilter))

	sq, err := parseSquare(attrs)
	if err != nil {
		return TransformOptions{}, err
	}
	o.square = sq

	if raw := value(attrs, AttrResize); raw != "" {
		parts := strings.Split(raw, ",")
		if len(parts) != 2 {
			return TransformOptions{}, &ValidationError{
				Attribute: AttrResize,
				Value:     raw,
				Reason:    "you must provide width,height",
			}
		}
		box, err := parseBox(AttrResize, parts[0], parts[1])
		if err != nil {
			return TransformOptions{}, err
		}
		o.resize = &box
	}

	if raw := value(attrs, AttrFit); raw != "" {
		w, h := raw, raw
		if strings.Contains(raw, ",") {
			parts := strings.Split(raw, ",")
			if len(parts) != 2 {
				return TransformOptions{}, &ValidationError{
					Attribute: AttrFit,
					Value:     raw,
					Reason:    "you must provide width,height or a single size",
				}
			}
			w, h = parts[0], parts[1]
		}
		box, err := parseBox(AttrFit, w, h)
		if err != nil {
			return TransformOptions{}, err
		}
		o.fit = &box
	}

	o.flipH = has(attrs, AttrFlipH)
	o.flipV = has(attrs, AttrFlipV)

	if raw := value(attrs, AttrHAlign); raw != "" {
		if !legalHAlign[HAlign(raw)] {
			return TransformOptions{}, &ValidationError{
				Attribute: AttrHAlign,
				Value:     raw,
				Reason:    "must be one of 'left', 'center', 'right'",
			}
		}
		o.hAlign = HAlign(raw)
	}

	if raw := value(attrs, AttrVAlign); raw != "" {
		if !legalVAlign[VAlign(raw)] {
			return TransformOptions{}, &ValidationError{
				Attribute: AttrVAlign,
				Value:     raw,
				Reason:    "must be one of 'top', 'middle', 'bottom'",
			}
		}
		o.vAlign = VAlign(raw)
	}

	if raw := value(attrs, AttrFormat); raw != "" {
		if !legalFormat[Format(raw)] {
			return TransformOptions{}, &ValidationError{
				Attribute: AttrFormat,
				Value:     raw,
				Reason:    "must be one of 'webp', 'jpeg', 'gif', 'png'",
			}
		}
		o.format = Format(raw)
	}

	return o, nil
}

func has(attrs Attributes, name string) bool {
	_, ok := attrs.Get(name)
	return ok
}

func value(attrs Attributes, name string) string {
	v, _ := attrs.Get(name)
	return v
}

func parseFilters(raw string) []string {
	if raw == "" {
		return nil
	}
	var filters []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			filters = append(filters, f)
		}
	}
	return filters
}

func parseSquare(attrs Attributes) (Square, error) {
	raw, ok := attrs.Get(AttrSquare)
	if !ok {
		return Square{}, nil
	}
	if raw == "" {
		return Square{Enabled: true}, nil
	}
	l, err := size.ParseLiteral(raw)
	if err != nil {
		return Square{}, fmt.Errorf("%s: %w", AttrSquare, err)
	}
	return Square{Enabled: true, Size: &l}, nil
}

func parseBox(attr, width, height string) (Box, error) {
	w, err := size.ParseLiteral(width)
	if err != nil {
		return Box{}, fmt.Errorf("%s width: %w", attr, err)
	}
	h, err := size.ParseLiteral(height)
	if err != nil {
		return Box{}, fmt.Errorf("%s height: %w", attr, err)
	}
	return Box{Width: w, Height: h}, nil
}
