// internal/dom/style.go
package dom

import (
	"strconv"
	"strings"
)

// Declaration is one "property: value" pair of an inline style attribute.
// A segment that does not parse as a declaration keeps its text in Raw and
// has no Property; it is written back unchanged.
type Declaration struct {
	Property  string
	Value     string
	Important bool
	Raw       string
}

// InlineStyle is the ordered declaration list of a style attribute.
type InlineStyle []Declaration

// ParseInlineStyle parses the body of a style attribute. Malformed
// declarations are kept verbatim, later duplicates override earlier ones.
// Comments are dropped.
func ParseInlineStyle(input string) InlineStyle {
	p := &styleParser{input: input}
	var style InlineStyle
	for {
		p.consumeWhitespace()
		if p.eof() {
			break
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		start := p.pos
		prop, val, important := p.parseDeclaration()
		if prop != "" && val != "" {
			style = style.set(Declaration{Property: strings.ToLower(prop), Value: val, Important: important})
			continue
		}
		raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p.input[start:p.pos]), ";"))
		if raw != "" {
			style = append(style, Declaration{Raw: raw})
		}
	}
	return style
}

// Get returns the value of prop.
func (s InlineStyle) Get(prop string) (string, bool) {
	for _, d := range s {
		if d.Property != "" && d.Property == prop {
			return d.Value, true
		}
	}
	return "", false
}

func (s InlineStyle) set(d Declaration) InlineStyle {
	for i := range s {
		if s[i].Property != "" && s[i].Property == d.Property {
			s[i] = d
			return s
		}
	}
	return append(s, d)
}

func (s InlineStyle) remove(prop string) InlineStyle {
	out := s[:0]
	for _, d := range s {
		if d.Property == "" || d.Property != prop {
			out = append(out, d)
		}
	}
	return out
}

// String serializes the declarations back into attribute form.
func (s InlineStyle) String() string {
	var sb strings.Builder
	for i, d := range s {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if d.Property == "" {
			sb.WriteString(d.Raw)
			sb.WriteByte(';')
			continue
		}
		sb.WriteString(d.Property)
		sb.WriteString(": ")
		sb.WriteString(d.Value)
		if d.Important {
			sb.WriteString(" !important")
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

// PixelLength parses a CSS length in px (or a bare zero). Percentages, em
// and other relative units are not resolvable without layout and report false.
func PixelLength(v string) (float64, bool) {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "0" {
		return 0, true
	}
	if !strings.HasSuffix(v, "px") {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "px")), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

type styleParser struct {
	input string
	pos   int
}

func (p *styleParser) parseDeclaration() (prop, val string, important bool) {
	if !isIdentifierStart(p.currentChar()) {
		p.skipTo(';')
		p.consumeIf(';')
		return
	}
	prop = p.parseIdentifier()
	p.consumeWhitespace()

	if p.currentChar() != ':' {
		p.skipTo(';')
		p.consumeIf(';')
		return "", "", false
	}
	p.pos++
	p.consumeWhitespace()

	val = p.parseValue()
	if strings.HasSuffix(strings.ToLower(val), "!important") {
		important = true
		val = strings.TrimSpace(val[:len(val)-len("!important")])
	}

	p.consumeWhitespace()
	p.consumeIf(';')
	return
}

func (p *styleParser) parseValue() string {
	start := p.pos
	for !p.eof() {
		ch := p.currentChar()
		if ch == ';' {
			break
		}
		if ch == '"' || ch == '\'' {
			p.skipQuotedString(ch)
			continue
		}
		if ch == '(' {
			p.pos++
			p.skipBlock('(', ')')
			continue
		}
		p.pos++
	}
	return strings.TrimSpace(p.input[start:p.pos])
}

func (p *styleParser) eof() bool { return p.pos >= len(p.input) }

func (p *styleParser) currentChar() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *styleParser) consumeIf(ch byte) {
	if !p.eof() && p.input[p.pos] == ch {
		p.pos++
	}
}

func (p *styleParser) consumeWhitespace() {
	for !p.eof() && isWhitespace(p.currentChar()) {
		p.pos++
	}
}

func (p *styleParser) startsWith(s string) bool {
	return strings.HasPrefix(p.input[p.pos:], s)
}

func (p *styleParser) skipComment() {
	p.pos += 2
	end := strings.Index(p.input[p.pos:], "*/")
	if end == -1 {
		p.pos = len(p.input)
		return
	}
	p.pos += end + 2
}

func (p *styleParser) skipTo(target byte) {
	for !p.eof() && p.currentChar() != target {
		p.pos++
	}
}

// skipBlock expects the opening delimiter to be consumed already.
func (p *styleParser) skipBlock(open, close byte) {
	depth := 1
	for !p.eof() {
		c := p.input[p.pos]
		if c == '"' || c == '\'' {
			p.skipQuotedString(c)
			continue
		}
		p.pos++
		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

func (p *styleParser) skipQuotedString(quote byte) {
	p.pos++
	for !p.eof() {
		ch := p.input[p.pos]
		p.pos++
		if ch == '\\' && !p.eof() {
			p.pos++
		} else if ch == quote {
			return
		}
	}
}

func (p *styleParser) parseIdentifier() string {
	start := p.pos
	for !p.eof() && isIdentifierChar(p.currentChar()) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '-'
}

func isIdentifierChar(ch byte) bool {
	return isIdentifierStart(ch) || (ch >= '0' && ch <= '9')
}
