package student

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"kioskscan/internal/metrics"
	"kioskscan/internal/qr"
)

// minFuzzyLen keeps short, ambiguous numbers out of the pattern search.
const minFuzzyLen = 4

// DefaultMaxFuzzyLen bounds the size of the pattern sent to the directory.
const DefaultMaxFuzzyLen = 32

// Directory is the read side of the student store used during resolution.
// Lookups return (nil, nil) on a miss.
type Directory interface {
	FindByID(ctx context.Context, id string) (*Student, error)
	// FindByStudentNo matches student numbers equal to pattern, or, when
	// fuzzy is set, matching pattern as a case-insensitive regular expression.
	FindByStudentNo(ctx context.Context, pattern string, fuzzy bool) (*Student, error)
	Exists(ctx context.Context, studentNo string) (bool, error)
}

// matcher derives one lookup from a candidate student number.
type matcher struct {
	name  string
	fuzzy bool
	build func(candidate string) (string, bool)
}

// Resolver finds the student behind a recovered scan payload.
type Resolver struct {
	dir      Directory
	matchers []matcher
	log      *zap.Logger
}

// NewResolver builds the exact → collapsed → stripped → collapsed+stripped →
// fuzzy cascade. maxFuzzyLen <= 0 uses DefaultMaxFuzzyLen.
func NewResolver(dir Directory, maxFuzzyLen int, log *zap.Logger) *Resolver {
	if maxFuzzyLen <= 0 {
		maxFuzzyLen = DefaultMaxFuzzyLen
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		dir: dir,
		log: log,
		matchers: []matcher{
			{name: "exact", build: nonEmpty(func(s string) string { return s })},
			{name: "collapsed", build: nonEmpty(qr.Collapse)},
			{name: "stripped", build: nonEmpty(qr.StripNonAlnum)},
			{name: "collapsed_stripped", build: nonEmpty(func(s string) string {
				return qr.StripNonAlnum(qr.Collapse(s))
			})},
			{name: "fuzzy", fuzzy: true, build: func(s string) (string, bool) {
				core := qr.StripNonAlnum(qr.Collapse(s))
				if len(core) < minFuzzyLen || len(core) > maxFuzzyLen {
					return "", false
				}
				return FuzzyPattern(core), true
			}},
		},
	}
}

func nonEmpty(f func(string) string) func(string) (string, bool) {
	return func(s string) (string, bool) {
		out := f(s)
		return out, out != ""
	}
}

// FuzzyPattern lets every character of s recur one or more times, separated
// by optional non-word filler. The result is valid for both Go and Postgres
// regular expressions.
func FuzzyPattern(s string) string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, regexp.QuoteMeta(string(r))+"+")
	}
	return strings.Join(parts, `\W*`)
}

// Resolve returns the matched student and the strategy that found it, or
// ErrNotFound. It tries the id first, then the student number, then the raw
// text, moving on whenever a step finds nobody. Directory failures are
// returned as-is.
func (r *Resolver) Resolve(ctx context.Context, p qr.Payload) (*Student, string, error) {
	if p.ID != "" {
		st, err := r.dir.FindByID(ctx, p.ID)
		if err != nil {
			return nil, "", fmt.Errorf("find student by id: %w", err)
		}
		if st != nil {
			metrics.ResolverMatches.WithLabelValues("id").Inc()
			return st, "id", nil
		}
		r.log.Debug("no student with scanned id", zap.String("id", p.ID))
	}

	var cands []string
	for _, v := range []string{p.StudentNo, p.Raw} {
		cands = append(cands, candidates(v)...)
	}
	for _, cand := range cands {
		st, how, err := r.cascade(ctx, cand)
		if err != nil {
			return nil, "", err
		}
		if st != nil {
			metrics.ResolverMatches.WithLabelValues(how).Inc()
			return st, how, nil
		}
	}
	metrics.ResolverMatches.WithLabelValues("miss").Inc()
	return nil, "", ErrNotFound
}

// candidates yields the value itself and, for values with trailing words
// ("S25-02 status done"), the leading token.
func candidates(sn string) []string {
	sn = strings.TrimSpace(sn)
	if sn == "" {
		return nil
	}
	out := []string{sn}
	if fields := strings.Fields(sn); len(fields) > 1 {
		out = append(out, fields[0])
	}
	return out
}

func (r *Resolver) cascade(ctx context.Context, cand string) (*Student, string, error) {
	type lookup struct {
		pattern string
		fuzzy   bool
	}
	tried := make(map[lookup]bool, len(r.matchers))
	for _, m := range r.matchers {
		pattern, ok := m.build(cand)
		if !ok {
			continue
		}
		key := lookup{pattern, m.fuzzy}
		if tried[key] {
			continue
		}
		tried[key] = true

		st, err := r.dir.FindByStudentNo(ctx, pattern, m.fuzzy)
		if err != nil {
			return nil, "", fmt.Errorf("find student by number (%s): %w", m.name, err)
		}
		if st != nil {
			r.log.Debug("student resolved", zap.String("strategy", m.name), zap.String("candidate", cand))
			return st, m.name, nil
		}
	}
	return nil, "", nil
}
