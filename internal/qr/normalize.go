package qr

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	dashRun  = regexp.MustCompile(`[-_]{2,}`)
	spaceRun = regexp.MustCompile(`\s{2,}`)
)

// edgeNoise is trimmed from both ends of recovered values.
const edgeNoise = ":\"' \t\r\n{}"

// Collapse replaces every maximal run of one repeated character with a single
// instance, so "SSTTUUDD" becomes "STUD". Collapse(Collapse(s)) == Collapse(s).
func Collapse(s string) string {
	if len(s) < 2 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// StripNonAlnum drops everything except ASCII letters and digits.
func StripNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// trimValue strips stray quote, brace and colon punctuation from the edges
// of a value.
func trimValue(v string) string {
	return strings.Trim(v, edgeNoise)
}

// cleanValue collapses scanner doubling inside a value and trims its edges.
// Record ids are left as they are: a UUID routinely has doubled characters
// of its own.
func cleanValue(v string) string {
	if isUUID(trimValue(v)) {
		return trimValue(v)
	}
	v = Collapse(v)
	v = dashRun.ReplaceAllString(v, "-")
	v = spaceRun.ReplaceAllString(v, " ")
	return trimValue(v)
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// canonicalKey maps a noisy object key onto "studentNo", "id" or its
// normalized form. Only keys naming the record id itself ("id", "_id",
// "studentId") become "id"; "kioskId" and friends keep their own name.
func canonicalKey(k string) string {
	nk := Collapse(StripNonAlnum(strings.ToLower(k)))
	switch {
	case strings.Contains(nk, "studentno"),
		strings.Contains(nk, "student") && strings.Contains(nk, "no"),
		nk == "student":
		return keyStudentNo
	case nk == "id", nk == "studentid", nk == "uid":
		return keyID
	}
	return nk
}
