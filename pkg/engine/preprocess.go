package engine

import "strings"

// preprocessSource rewrites a morph script into source zygomys can read.
// Outside string literals:
//
//   - :name becomes the string "__kw_name", so keyword arguments need no
//     symbol table entries.
//   - A hyphen joining two identifier characters becomes an underscore
//     (preserve-volume -> preserve_volume); a leading hyphen stays a minus.
//   - A run of ; starts a line comment, rewritten as //.
func preprocessSource(source string) string {
	s := &rewriter{src: source}
	s.out.Grow(len(source) + len(source)/4)
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '"':
			s.quoted('"', true)
		case c == '`':
			s.quoted('`', false)
		case c == ';':
			s.comment()
		case c == ':' && s.peek(1) == '=':
			s.copy(2)
		case c == ':' && isLetter(s.peek(1)):
			s.keyword()
		case c == '-' && s.pos > 0 && isIdentChar(s.src[s.pos-1]) && isLetter(s.peek(1)):
			s.out.WriteByte('_')
			s.pos++
		default:
			s.copy(1)
		}
	}
	return s.out.String()
}

type rewriter struct {
	src string
	pos int
	out strings.Builder
}

// peek returns the byte n positions ahead, or 0 past the end.
func (s *rewriter) peek(n int) byte {
	if s.pos+n < len(s.src) {
		return s.src[s.pos+n]
	}
	return 0
}

func (s *rewriter) copy(n int) {
	end := s.pos + n
	if end > len(s.src) {
		end = len(s.src)
	}
	s.out.WriteString(s.src[s.pos:end])
	s.pos = end
}

// quoted copies a string literal verbatim, closing quote included. An
// unterminated literal runs to the end of the source.
func (s *rewriter) quoted(q byte, escapes bool) {
	end := s.pos + 1
	for end < len(s.src) && s.src[end] != q {
		if escapes && s.src[end] == '\\' {
			end++
		}
		end++
	}
	s.copy(end + 1 - s.pos)
}

func (s *rewriter) comment() {
	for s.pos < len(s.src) && s.src[s.pos] == ';' {
		s.pos++
	}
	end := strings.IndexByte(s.src[s.pos:], '\n')
	if end < 0 {
		end = len(s.src) - s.pos
	}
	s.out.WriteString("//")
	s.copy(end)
}

func (s *rewriter) keyword() {
	start := s.pos + 1
	end := start
	for end < len(s.src) && isKWChar(s.src[end]) {
		end++
	}
	s.out.WriteByte('"')
	s.out.WriteString(kwPrefix)
	s.out.WriteString(s.src[start:end])
	s.out.WriteByte('"')
	s.pos = end
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}
