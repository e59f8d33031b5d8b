package student

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"kioskscan/internal/cloudinary"
)

// ── Fake Store ──

type fakeStore struct {
	byID       map[string]*Student
	lookups    []string
	fuzzyCalls int
	failWith   error
	now        func() time.Time
}

func newFakeStore(students ...*Student) *fakeStore {
	fs := &fakeStore{byID: make(map[string]*Student), now: time.Now}
	for _, st := range students {
		fs.byID[st.ID] = st
	}
	return fs
}

func (f *fakeStore) sorted() []*Student {
	out := make([]*Student, 0, len(f.byID))
	for _, st := range f.byID {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentNo < out[j].StudentNo })
	return out
}

func (f *fakeStore) FindByID(_ context.Context, id string) (*Student, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.byID[id], nil
}

func (f *fakeStore) FindByStudentNo(_ context.Context, pattern string, fuzzy bool) (*Student, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.lookups = append(f.lookups, fmt.Sprintf("%v:%s", fuzzy, pattern))
	if fuzzy {
		f.fuzzyCalls++
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, err
		}
		for _, st := range f.sorted() {
			if re.MatchString(st.StudentNo) {
				return st, nil
			}
		}
		return nil, nil
	}
	for _, st := range f.byID {
		if st.StudentNo == pattern {
			return st, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Exists(ctx context.Context, studentNo string) (bool, error) {
	st, err := f.FindByStudentNo(ctx, studentNo, false)
	return st != nil, err
}

func (f *fakeStore) Create(_ context.Context, st *Student) error {
	for _, other := range f.byID {
		if other.StudentNo == st.StudentNo {
			return ErrDuplicateNumber
		}
	}
	if st.ID == "" {
		st.ID = fmt.Sprintf("st-%d", len(f.byID)+1)
	}
	st.CreatedAt = f.now()
	f.byID[st.ID] = st
	return nil
}

func (f *fakeStore) List(_ context.Context) ([]Student, error) {
	var out []Student
	for _, st := range f.sorted() {
		out = append(out, *st)
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, st *Student) error {
	if _, ok := f.byID[st.ID]; !ok {
		return ErrNotFound
	}
	f.byID[st.ID] = st
	return nil
}

func (f *fakeStore) CountCreatedBetween(_ context.Context, from, to time.Time) (int, error) {
	n := 0
	for _, st := range f.byID {
		if !st.CreatedAt.Before(from) && st.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetPhoto(_ context.Context, id, photoURL string) error {
	st, ok := f.byID[id]
	if !ok {
		return ErrNotFound
	}
	st.Photo = photoURL
	return nil
}

// ── Fake PhotoStore ──

type fakePhotos struct {
	uploaded []string
	err      error
}

func (p *fakePhotos) UploadPhoto(_ context.Context, source, studentNo string) (*cloudinary.Photo, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.uploaded = append(p.uploaded, source)
	return &cloudinary.Photo{PublicID: studentNo, SecureURL: "https://cdn.example/" + studentNo + ".png"}, nil
}

var errBoom = errors.New("boom")
