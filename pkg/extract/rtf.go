package extract

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// Destination groups whose content is markup, not document text.
var rtfSkipGroups = map[string]bool{
	"fonttbl":    true,
	"colortbl":   true,
	"stylesheet": true,
	"info":       true,
	"pict":       true,
	"themedata":  true,
	"header":     true,
	"footer":     true,
	"footnote":   true,
}

var newlineRuns = regexp.MustCompile(`\n{3,}`)

// extractRTF strips RTF control words and groups, keeping paragraph
// structure and decoding the usual escape forms (\'hh hex bytes and
// \uN unicode with its fallback character).
func extractRTF(data []byte) (*Result, error) {
	const op = "extract.Extract"

	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte(`{\rtf`)) {
		return nil, apperr.New(op, apperr.InvalidInput, "not an rtf document")
	}

	var b strings.Builder
	depth := 0
	skipDepth := 0 // group depth whose close ends the current skip
	i := 0
	for i < len(data) {
		switch c := data[i]; c {
		case '{':
			depth++
			i++
		case '}':
			if skipDepth > 0 && depth == skipDepth {
				skipDepth = 0
			}
			depth--
			i++
		case '\\':
			word, param, hasParam, next := readRTFControl(data, i)
			i = next
			if skipDepth > 0 {
				continue
			}
			switch word {
			case "par":
				b.WriteString("\n\n")
			case "line":
				b.WriteByte('\n')
			case "tab":
				b.WriteByte('\t')
			case "'":
				if hasParam {
					b.WriteRune(charmap.Windows1252.DecodeByte(byte(param)))
				}
			case "u":
				if hasParam {
					if param < 0 {
						param += 65536
					}
					b.WriteRune(rune(param))
					i = skipRTFFallback(data, i)
				}
			case "bin":
				// Raw binary payload of param bytes follows.
				if hasParam && param > 0 {
					i += param
					if i > len(data) {
						i = len(data)
					}
				}
			case "*":
				// Marked destination: skip the enclosing group.
				skipDepth = depth
			case "~":
				b.WriteByte(' ')
			case `\`, "{", "}":
				b.WriteString(word)
			case "\n", "\r":
				b.WriteString("\n\n")
			default:
				if rtfSkipGroups[word] {
					skipDepth = depth
				}
			}
		case '\r', '\n':
			i++
		default:
			if skipDepth == 0 {
				if c >= 0x80 {
					b.WriteRune(charmap.Windows1252.DecodeByte(c))
				} else {
					b.WriteByte(c)
				}
			}
			i++
		}
	}

	text := strings.TrimSpace(newlineRuns.ReplaceAllString(b.String(), "\n\n"))
	return &Result{Text: text, Stats: Stats{Method: MethodDirect}}, nil
}

// readRTFControl parses the control word or escaped symbol starting at
// the backslash at data[i]. It returns the word, its numeric parameter
// if present, and the index after the control (including the optional
// delimiting space).
func readRTFControl(data []byte, i int) (word string, param int, hasParam bool, next int) {
	i++
	if i >= len(data) {
		return "", 0, false, i
	}

	c := data[i]
	if c == '\'' {
		if i+2 < len(data) {
			if v, err := strconv.ParseInt(string(data[i+1:i+3]), 16, 32); err == nil {
				return "'", int(v), true, i + 3
			}
		}
		return "", 0, false, i + 1
	}
	if !isASCIILetter(c) {
		return string(c), 0, false, i + 1
	}

	start := i
	for i < len(data) && isASCIILetter(data[i]) {
		i++
	}
	word = string(data[start:i])

	if i < len(data) && (data[i] == '-' || isASCIIDigit(data[i])) {
		sign := 1
		if data[i] == '-' {
			sign = -1
			i++
		}
		numStart := i
		for i < len(data) && isASCIIDigit(data[i]) {
			i++
		}
		if i > numStart {
			n, _ := strconv.Atoi(string(data[numStart:i]))
			param, hasParam = sign*n, true
		}
	}
	if i < len(data) && data[i] == ' ' {
		i++
	}
	return word, param, hasParam, i
}

// skipRTFFallback advances past the substitute character that follows
// a \uN escape (a plain character or a \'hh escape).
func skipRTFFallback(data []byte, i int) int {
	if i >= len(data) {
		return i
	}
	if data[i] == '\\' && i+3 < len(data) && data[i+1] == '\'' {
		return i + 4
	}
	if data[i] != '{' && data[i] != '}' && data[i] != '\\' {
		return i + 1
	}
	return i
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isASCIIDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
