package execpath

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Agent frameworks log chat messages as repr strings such as
//
//	content='Hello' additional_kwargs={'refusal': None} id='run-1'
//
// parseKV splits such a string into its key=value pairs and evaluates
// each value as a literal (strings, numbers, None/True/False, dicts,
// lists, tuples). Values that are not literals are kept as raw text.
func parseKV(s string) map[string]any {
	result := make(map[string]any)
	i, n := 0, len(s)
	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}
		keyStart := i
		for i < n && s[i] != '=' {
			i++
		}
		key := strings.TrimSpace(s[keyStart:i])
		i++

		valStart := i
		depth := 0
		var quote byte
		escaped := false
	scan:
		for i < n {
			ch := s[i]
			if quote != 0 {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == quote:
					quote = 0
				}
				i++
				continue
			}
			switch {
			case ch == '"' || ch == '\'':
				quote = ch
			case strings.IndexByte("{[(", ch) >= 0:
				depth++
			case strings.IndexByte("}])", ch) >= 0:
				if depth > 0 {
					depth--
				}
			case isSpace(ch) && depth == 0:
				break scan
			}
			i++
		}
		if valStart > n {
			valStart = n
		}
		raw := strings.TrimSpace(s[valStart:min(i, n)])
		raw = decimalRe.ReplaceAllString(raw, "$2")

		var value any = raw
		if v, ok := parseLiteral(raw); ok {
			value = v
		}
		if str, ok := value.(string); ok && key == "content" {
			trimmed := strings.TrimSpace(str)
			if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
				if v, ok := parseLiteral(trimmed); ok {
					value = v
				}
			}
		}
		result[key] = value
	}
	return result
}

var decimalRe = regexp.MustCompile(`Decimal\((['"])(.*?)['"]\)`)

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// parseLiteral evaluates s as a single literal, consuming all of it.
func parseLiteral(s string) (any, bool) {
	p := &literalParser{src: s}
	p.skipSpace()
	v, ok := p.value()
	if !ok {
		return nil, false
	}
	p.skipSpace()
	return v, p.pos == len(p.src)
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) value() (any, bool) {
	switch c := p.peek(); {
	case c == '\'' || c == '"':
		return p.str()
	case c == '{':
		return p.dict()
	case c == '[':
		return p.seq('[', ']')
	case c == '(':
		return p.seq('(', ')')
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case unicode.IsLetter(rune(c)):
		start := p.pos
		for p.pos < len(p.src) && (unicode.IsLetter(rune(p.src[p.pos])) || p.src[p.pos] == '_') {
			p.pos++
		}
		switch p.src[start:p.pos] {
		case "None":
			return nil, true
		case "True":
			return true, true
		case "False":
			return false, true
		}
	}
	return nil, false
}

func (p *literalParser) str() (any, bool) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			p.pos++
			switch e := p.src[p.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(e)
			}
		case c == quote:
			p.pos++
			return b.String(), true
		default:
			b.WriteByte(c)
		}
		p.pos++
	}
	return nil, false
}

func (p *literalParser) number() (any, bool) {
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte("+-.0123456789eE_", p.src[p.pos]) >= 0 {
		p.pos++
	}
	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, true
	}
	return nil, false
}

func (p *literalParser) seq(open, close byte) (any, bool) {
	p.pos++
	out := []any{}
	for {
		p.skipSpace()
		if p.peek() == close {
			p.pos++
			return out, true
		}
		v, ok := p.value()
		if !ok {
			return nil, false
		}
		out = append(out, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case close:
		default:
			return nil, false
		}
	}
}

func (p *literalParser) dict() (any, bool) {
	p.pos++
	out := map[string]any{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return out, true
		}
		k, ok := p.value()
		if !ok {
			return nil, false
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, false
		}
		p.pos++
		p.skipSpace()
		v, ok := p.value()
		if !ok {
			return nil, false
		}
		out[literalKey(k)] = v
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, false
		}
	}
}

func literalKey(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "True"
		}
		return "False"
	case nil:
		return "None"
	}
	return ""
}
