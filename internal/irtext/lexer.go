package irtext

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokName
	tokGlobal
	tokNumber
	tokString
	tokPunct
	tokComment
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of line"
	case tokString:
		return strconv.Quote(t.text)
	case tokGlobal:
		return "@" + t.text
	case tokComment:
		return "comment"
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// punctuation, longest first
var puncts = []string{
	"...", "->", "..", "==", "~=", "<=", ">=", "//",
	"(", ")", "[", "]", "{", "}", ",", "=", ".", ":", "!", "@",
	"#", "+", "-", "*", "/", "%", "^", "<", ">",
}

// lexLine splits one line into tokens. A "--" starts a comment that runs
// to the next "--" or the end of the line.
func lexLine(line string) ([]token, error) {
	var out []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case strings.HasPrefix(line[i:], "--"):
			rest := line[i+2:]
			end := strings.Index(rest, "--")
			if end < 0 {
				end = len(rest)
			}
			out = append(out, token{kind: tokComment, text: strings.TrimSpace(rest[:end])})
			i += 2 + end
		case isNameStart(c):
			j := i + 1
			for j < len(line) && isNamePart(line[j]) {
				j++
			}
			out = append(out, token{kind: tokName, text: line[i:j]})
			i = j
		case c == '@' && i+1 < len(line) && isNameStart(line[i+1]):
			j := i + 2
			for j < len(line) && isNamePart(line[j]) {
				j++
			}
			out = append(out, token{kind: tokGlobal, text: line[i+1 : j]})
			i = j
		case isDigit(c) || (c == '.' && i+1 < len(line) && isDigit(line[i+1])):
			j := i
			for j < len(line) && (isDigit(line[j]) || line[j] == '.' || line[j] == 'e' || line[j] == 'E' ||
				((line[j] == '+' || line[j] == '-') && (line[j-1] == 'e' || line[j-1] == 'E'))) {
				j++
			}
			v, err := strconv.ParseFloat(line[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", line[i:j])
			}
			out = append(out, token{kind: tokNumber, text: line[i:j], num: v})
			i = j
		case c == '"':
			j := i + 1
			for j < len(line) && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated string")
			}
			s, err := strconv.Unquote(line[i : j+1])
			if err != nil {
				return nil, fmt.Errorf("bad string %s: %w", line[i:j+1], err)
			}
			out = append(out, token{kind: tokString, text: s})
			i = j + 1
		default:
			matched := false
			for _, p := range puncts {
				if strings.HasPrefix(line[i:], p) {
					out = append(out, token{kind: tokPunct, text: p})
					i += len(p)
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("unexpected character %q", c)
			}
		}
	}
	return out, nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNamePart(c byte) bool {
	return isNameStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
