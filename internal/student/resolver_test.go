package student

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"kioskscan/internal/qr"
)

func TestResolverCascade(t *testing.T) {
	s1 := &Student{ID: "a1", StudentNo: "S25-01"}
	s2 := &Student{ID: "a2", StudentNo: "S2530"}
	s3 := &Student{ID: "a3", StudentNo: "S25-281102"}

	tests := []struct {
		name     string
		payload  qr.Payload
		wantID   string
		strategy string
	}{
		{"id", qr.Payload{ID: "a2"}, "a2", "id"},
		{"exact", qr.Payload{StudentNo: "S25-01"}, "a1", "exact"},
		{"doubled characters", qr.Payload{StudentNo: "S2255--0011"}, "a1", "collapsed"},
		{"stray punctuation", qr.Payload{StudentNo: "S25-30"}, "a2", "stripped"},
		{"doubled and punctuated", qr.Payload{StudentNo: "SS25-330"}, "a2", "collapsed_stripped"},
		{"fuzzy", qr.Payload{StudentNo: "s25 2811 02"}, "a3", "fuzzy"},
		{"raw fallback", qr.Payload{Raw: "S25-01"}, "a1", "exact"},
		{"unknown id falls back to nothing", qr.Payload{ID: "zz"}, "", ""},
		{"id preferred over studentNo", qr.Payload{ID: "a2", StudentNo: "S25-01"}, "a2", "id"},
		{"unknown id falls back to studentNo", qr.Payload{ID: "zz", StudentNo: "S2255--0011"}, "a1", "collapsed"},
		{"trailing words", qr.Payload{StudentNo: "S25-01 status done"}, "a1", "exact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newFakeStore(s1, s2, s3), 0, nil)
			st, how, err := r.Resolve(context.Background(), tt.payload)
			if tt.wantID == "" {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("err = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if st.ID != tt.wantID {
				t.Errorf("resolved %s, want %s", st.ID, tt.wantID)
			}
			if how != tt.strategy {
				t.Errorf("strategy = %s, want %s", how, tt.strategy)
			}
		})
	}
}

func TestResolverShortCandidateNeverFuzzy(t *testing.T) {
	fs := newFakeStore(&Student{ID: "a1", StudentNo: "S25-01"})
	r := NewResolver(fs, 0, nil)

	_, _, err := r.Resolve(context.Background(), qr.Payload{StudentNo: "S2-"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if fs.fuzzyCalls != 0 {
		t.Fatalf("fuzzy lookups = %d, want 0", fs.fuzzyCalls)
	}
}

func TestResolverLongCandidateSkipsFuzzy(t *testing.T) {
	fs := newFakeStore(&Student{ID: "a1", StudentNo: "S25-01"})
	r := NewResolver(fs, 8, nil)

	_, _, _ = r.Resolve(context.Background(), qr.Payload{StudentNo: "S25-0123456789"})
	if fs.fuzzyCalls != 0 {
		t.Fatalf("fuzzy lookups = %d, want 0 above the cap", fs.fuzzyCalls)
	}
}

func TestResolverSkipsDuplicateLookups(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs, 0, nil)

	_, _, _ = r.Resolve(context.Background(), qr.Payload{StudentNo: "ABCD"})
	// exact, then fuzzy; collapsed and stripped forms are identical to exact.
	if len(fs.lookups) != 2 {
		t.Fatalf("lookups = %v, want 2", fs.lookups)
	}
}

func TestResolverPropagatesDirectoryErrors(t *testing.T) {
	fs := newFakeStore()
	fs.failWith = errBoom
	r := NewResolver(fs, 0, nil)

	_, _, err := r.Resolve(context.Background(), qr.Payload{StudentNo: "S25-01"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want wrapped errBoom", err)
	}
}

func TestResolverEmptyPayload(t *testing.T) {
	r := NewResolver(newFakeStore(), 0, nil)
	if _, _, err := r.Resolve(context.Background(), qr.Payload{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFuzzyPattern(t *testing.T) {
	p := FuzzyPattern("S2501")
	if p != `S+\W*2+\W*5+\W*0+\W*1+` {
		t.Fatalf("pattern = %s", p)
	}
	re := regexp.MustCompile("(?i)" + p)
	for _, s := range []string{"S25-01", "ss2255--0011", "s 2 5 0 1"} {
		if !re.MatchString(s) {
			t.Errorf("pattern should match %q", s)
		}
	}
	if re.MatchString("S25-02") {
		t.Error("pattern should not match S25-02")
	}
}
