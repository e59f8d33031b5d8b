package qr

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	keyID        = "id"
	keyStudentNo = "studentNo"
)

// Strategy names the recovery step that produced a Payload.
type Strategy string

const (
	StrategyEmpty   Strategy = "empty"
	StrategyDirect  Strategy = "direct"
	StrategyCleaned Strategy = "cleaned"
	StrategyFuzzy   Strategy = "fuzzy"
	StrategyToken   Strategy = "token"
	StrategyRaw     Strategy = "raw"
)

// Payload holds the identifiers recovered from a scan. ID and StudentNo are
// both kept when the scan carries both, and are tried in that order. Raw is
// only set when neither was found.
type Payload struct {
	ID        string `json:"id,omitempty"`
	StudentNo string `json:"studentNo,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// Empty reports whether nothing was recovered.
func (p Payload) Empty() bool {
	return p.ID == "" && p.StudentNo == "" && p.Raw == ""
}

// fuzzyKeys are tried in order against unstructured scan text.
var fuzzyKeys = []string{"studentno", "student_no", "id", "studentid", "student"}

var (
	braceOpenRun  = regexp.MustCompile(`\{\{+`)
	braceCloseRun = regexp.MustCompile(`\}\}+`)
	colonRun      = regexp.MustCompile(`::+`)
	commaRun      = regexp.MustCompile(`,,+`)
	quoteRun      = regexp.MustCompile(`""+`)
	tokenPattern  = regexp.MustCompile(`[A-Za-z0-9-]{4,}`)
)

// Recover turns raw scanner output into a Payload. It never fails: input that
// no strategy understands comes back as {Raw: input}.
func Recover(raw string) (Payload, Strategy) {
	if strings.TrimSpace(raw) == "" {
		return Payload{}, StrategyEmpty
	}
	if p, ok := parseStructured(raw, trimValue); ok {
		return p, StrategyDirect
	}
	if p, ok := parseStructured(repair(raw), cleanValue); ok {
		return p, StrategyCleaned
	}
	if p, ok := extractFuzzy(raw); ok {
		return p, StrategyFuzzy
	}
	if tok := pickToken(raw); tok != "" {
		return Payload{StudentNo: tok}, StrategyToken
	}
	return Payload{Raw: raw}, StrategyRaw
}

// repair undoes the most common punctuation doubling so that a near-JSON
// payload parses.
func repair(s string) string {
	s = braceOpenRun.ReplaceAllString(s, "{")
	s = braceCloseRun.ReplaceAllString(s, "}")
	s = colonRun.ReplaceAllString(s, ":")
	s = commaRun.ReplaceAllString(s, ",")
	return quoteRun.ReplaceAllString(s, `"`)
}

// parseStructured decodes s as a single JSON object. Well-formed input keeps
// its values verbatim apart from edge punctuation; repaired input has clean
// applied to every value.
func parseStructured(s string, clean func(string) string) (Payload, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Payload{}, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Payload{}, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Payload{}, false
	}
	norm := normalizeObject(obj, clean)
	p := Payload{
		ID:        findString(norm, keyID),
		StudentNo: findString(norm, keyStudentNo),
	}
	return p, !p.Empty()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeObject canonicalizes keys and cleans values, recursing into
// nested objects and arrays. When two keys land on the same name, a key
// already spelled canonically ("id", "studentNo") wins; otherwise the first
// non-empty one in key order is kept.
func normalizeObject(obj map[string]any, clean func(string) string) map[string]any {
	out := make(map[string]any, len(obj))
	for _, k := range sortedKeys(obj) {
		nk := canonicalKey(k)
		nv := normalizeValue(obj[k], clean)
		if prev, exists := out[nk]; exists && !isBlank(prev) && (k != nk || isBlank(nv)) {
			continue
		}
		out[nk] = nv
	}
	return out
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && s == ""
}

func normalizeValue(v any, clean func(string) string) any {
	switch t := v.(type) {
	case string:
		return clean(t)
	case json.Number:
		return clean(t.String())
	case map[string]any:
		return normalizeObject(t, clean)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e, clean)
		}
		return out
	}
	return v
}

// findString looks for a non-empty string under key, first at this level
// and then depth-first through nested objects.
func findString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	for _, k := range sortedKeys(m) {
		if nested, ok := m[k].(map[string]any); ok {
			if s := findString(nested, key); s != "" {
				return s
			}
		}
	}
	return ""
}

// extractFuzzy keeps the first value found for an id key and the first found
// for a student-number key.
func extractFuzzy(raw string) (Payload, bool) {
	text := []rune(raw)
	var p Payload
	for _, key := range fuzzyKeys {
		isID := strings.Contains(key, "id")
		if (isID && p.ID != "") || (!isID && p.StudentNo != "") {
			continue
		}
		v := fuzzyValue(text, []rune(key))
		if v == "" {
			continue
		}
		if isID {
			p.ID = v
		} else {
			p.StudentNo = v
		}
	}
	return p, !p.Empty()
}

// fuzzyValue returns the value following the first occurrence of key that
// has one.
func fuzzyValue(text, key []rune) string {
	for start := range text {
		end, ok := matchRepeated(text, start, key)
		if !ok {
			continue
		}
		if v := valueAfter(text, end); v != "" {
			return v
		}
	}
	return ""
}

// matchRepeated matches key at text[start:] case-insensitively, letting the
// text repeat each expected character any number of times. The key itself
// must not contain doubled characters. It returns the index just past the
// match.
func matchRepeated(text []rune, start int, key []rune) (int, bool) {
	i := start
	for _, want := range key {
		if i >= len(text) || unicode.ToLower(text[i]) != want {
			return 0, false
		}
		i++
		for i < len(text) && unicode.ToLower(text[i]) == want {
			i++
		}
	}
	return i, true
}

func valueAfter(text []rune, from int) string {
	colon := -1
	for i := from; i < len(text); i++ {
		if text[i] == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		return ""
	}
	j := colon + 1
	for j < len(text) && isValueLead(text[j]) {
		j++
	}
	end := j
	for end < len(text) {
		c := text[end]
		if c == ',' || c == '}' || c == '\n' {
			break
		}
		if c == '\\' && end+1 < len(text) && text[end+1] == 'n' {
			break
		}
		end++
	}
	return cleanValue(strings.TrimSpace(string(text[j:end])))
}

func isValueLead(r rune) bool {
	return unicode.IsSpace(r) || r == ':' || r == '\\' || r == '"' || r == '\''
}

// pickToken prefers the first token shaped like a student number (letters
// and digits); otherwise the longest token wins, earliest on ties.
func pickToken(raw string) string {
	tokens := tokenPattern.FindAllString(raw, -1)
	if len(tokens) == 0 {
		return ""
	}
	for _, t := range tokens {
		if hasLetter(t) && hasDigit(t) {
			return Collapse(t)
		}
	}
	best := tokens[0]
	for _, t := range tokens[1:] {
		if len(t) > len(best) {
			best = t
		}
	}
	return Collapse(best)
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}) >= 0
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
}
