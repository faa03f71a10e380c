package extract

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func skipSpace(buf string, i int) int {
	for i < len(buf) && isSpace(buf[i]) {
		i++
	}
	return i
}

// skipString returns the index just past the closing quote of the string
// literal that opens at buf[i]. ok is false when the literal is still open at
// the end of buf, including when buf ends right after a backslash.
func skipString(buf string, i int) (int, bool) {
	for j := i + 1; j < len(buf); j++ {
		switch buf[j] {
		case '\\':
			j++
		case '"':
			return j + 1, true
		}
	}
	return len(buf), false
}

// findValue locates the first string token equal to name that is used as an
// object key and returns the index of the first non-space byte after its
// colon. Keys inside string values never match because their quotes are
// escaped.
func findValue(buf, name string) (int, bool) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != '"' {
			continue
		}
		end, closed := skipString(buf, i)
		if !closed {
			return 0, false
		}
		if buf[i+1:end-1] == name {
			j := skipSpace(buf, end)
			if j < len(buf) && buf[j] == ':' {
				return skipSpace(buf, j+1), true
			}
		}
		i = end - 1
	}
	return 0, false
}

// bracketSpan scans the array opening at buf[start], counting bracket depth
// and ignoring brackets inside strings. It returns the end index (exclusive)
// and whether the depth returned to zero.
func bracketSpan(buf string, start int) (int, bool) {
	return span(buf, start, '[', ']')
}

func braceSpan(buf string, start int) (int, bool) {
	return span(buf, start, '{', '}')
}

func span(buf string, start int, open, close byte) (int, bool) {
	depth := 0
	for i := start; i < len(buf); i++ {
		switch buf[i] {
		case '"':
			end, closed := skipString(buf, i)
			if !closed {
				return len(buf), false
			}
			i = end - 1
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return len(buf), false
}

// unquote decodes a closed string literal including its quotes. Unknown
// escapes keep the escaped character.
func unquote(lit string) (string, bool) {
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return "", false
	}
	body := lit[1 : len(lit)-1]
	if !strings.ContainsRune(body, '\\') {
		return body, true
	}
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", false
		}
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			r, n := decodeUnicode(body[i+1:])
			if n == 0 {
				b.WriteByte('u')
				continue
			}
			b.WriteRune(r)
			i += n
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), true
}

// decodeUnicode reads the hex digits after `\u`, joining surrogate pairs.
// It returns the rune and how many bytes of s were consumed.
func decodeUnicode(s string) (rune, int) {
	if len(s) < 4 {
		return 0, 0
	}
	v, err := strconv.ParseUint(s[:4], 16, 32)
	if err != nil {
		return 0, 0
	}
	r := rune(v)
	if utf16.IsSurrogate(r) && len(s) >= 10 && s[4] == '\\' && s[5] == 'u' {
		if lo, err := strconv.ParseUint(s[6:10], 16, 32); err == nil {
			if pair := utf16.DecodeRune(r, rune(lo)); pair != utf8.RuneError {
				return pair, 10
			}
		}
	}
	if utf16.IsSurrogate(r) {
		return utf8.RuneError, 4
	}
	return r, 4
}

// stringItems collects the closed string literals found directly inside the
// array region, stopping at the first literal that is still open.
func stringItems(region string) []string {
	items := []string{}
	depth := 0
	for i := 0; i < len(region); i++ {
		switch region[i] {
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return items
			}
		case '"':
			end, closed := skipString(region, i)
			if !closed {
				return items
			}
			if depth == 1 {
				if s, ok := unquote(region[i:end]); ok {
					items = append(items, s)
				}
			}
			i = end - 1
		}
	}
	return items
}
