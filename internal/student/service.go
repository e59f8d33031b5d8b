package student

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"kioskscan/internal/cloudinary"
)

// maxNumberAttempts bounds the search for a free daily sequence number.
const maxNumberAttempts = 1000

const qrSize = 300

var (
	ErrInvalidPhoto     = errors.New("invalid photo format, expected data URL, http(s) URL or file upload")
	ErrPhotoUnavailable = errors.New("photo storage not configured")
)

var dataURLPattern = regexp.MustCompile(`^data:(image/[a-zA-Z]+);base64,(.+)$`)

// Store is everything the service needs from persistence.
type Store interface {
	Directory
	Create(ctx context.Context, st *Student) error
	List(ctx context.Context) ([]Student, error)
	Update(ctx context.Context, st *Student) error
	CountCreatedBetween(ctx context.Context, from, to time.Time) (int, error)
	SetPhoto(ctx context.Context, id, photoURL string) error
}

// PhotoStore uploads student photos and returns where they live.
type PhotoStore interface {
	UploadPhoto(ctx context.Context, source, studentNo string) (*cloudinary.Photo, error)
}

// CreateInput carries enrollment fields. StudentNo is optional.
type CreateInput struct {
	StudentNo  string `json:"studentNo" form:"studentNo"`
	FirstName  string `json:"firstName" form:"firstName"`
	MiddleName string `json:"middleName" form:"middleName"`
	LastName   string `json:"lastName" form:"lastName"`
	Suffix     string `json:"suffix" form:"suffix"`
	Course     string `json:"course" form:"course"`
	Level      string `json:"level" form:"level"`
}

// UpdateInput is a partial profile edit; nil fields are left alone.
type UpdateInput struct {
	StudentNo  *string `json:"studentNo"`
	FirstName  *string `json:"firstName"`
	MiddleName *string `json:"middleName"`
	LastName   *string `json:"lastName"`
	Suffix     *string `json:"suffix"`
	Course     *string `json:"course"`
	Level      *string `json:"level"`
}

// Photo is an upload source: raw bytes from a multipart file, or a URL
// (external http(s) or a base64 data URL).
type Photo struct {
	Data []byte
	MIME string
	URL  string
}

// Service implements enrollment and profile operations.
type Service struct {
	store  Store
	photos PhotoStore
	loc    *time.Location
	now    func() time.Time
	log    *zap.Logger
}

// NewService creates a service. photos may be nil when uploads are disabled.
func NewService(store Store, photos PhotoStore, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, photos: photos, loc: loc, now: time.Now, log: log}
}

// Get returns a student or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Student, error) {
	st, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotFound
	}
	return st, nil
}

// List returns all students ordered by last name.
func (s *Service) List(ctx context.Context) ([]Student, error) {
	students, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if students == nil {
		students = []Student{}
	}
	return students, nil
}

// NextStudentNo proposes the next free S<YY>-<DD><MM><NN> number for today
// without reserving it.
func (s *Service) NextStudentNo(ctx context.Context) (string, error) {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	count, err := s.store.CountCreatedBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return "", fmt.Errorf("count today's enrollments: %w", err)
	}
	seq := count + 1
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		no := FormatStudentNo(now, seq)
		taken, err := s.store.Exists(ctx, no)
		if err != nil {
			return "", fmt.Errorf("check student number %s: %w", no, err)
		}
		if !taken {
			return no, nil
		}
		seq++
	}
	return "", fmt.Errorf("no free student number for %s after %d attempts", now.Format("2006-01-02"), maxNumberAttempts)
}

// Create enrolls a student, generating a number when none is given. A photo
// that fails to upload does not fail enrollment.
func (s *Service) Create(ctx context.Context, in CreateInput, photo *Photo) (*Student, error) {
	in = trimCreate(in)
	if in.FirstName == "" || in.LastName == "" || in.Course == "" || in.Level == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}

	no := in.StudentNo
	if no == "" {
		var err error
		if no, err = s.NextStudentNo(ctx); err != nil {
			return nil, err
		}
	}
	taken, err := s.store.Exists(ctx, no)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateNumber
	}

	st := &Student{
		StudentNo:     no,
		FirstName:     in.FirstName,
		MiddleName:    in.MiddleName,
		MiddleInitial: MiddleInitial(in.MiddleName),
		LastName:      in.LastName,
		Suffix:        in.Suffix,
		Course:        in.Course,
		Level:         in.Level,
		Visits:        []VisitEntry{},
	}
	if err := s.store.Create(ctx, st); err != nil {
		return nil, err
	}

	if png, err := QRCodePNG(st); err != nil {
		s.log.Warn("qr generation failed", zap.String("student_id", st.ID), zap.Error(err))
	} else {
		st.QRCode = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	}

	if photo != nil {
		url, err := s.storePhoto(ctx, st, *photo)
		if err != nil {
			s.log.Error("photo upload during enrollment failed", zap.String("student_id", st.ID), zap.Error(err))
			return st, nil
		}
		if err := s.store.SetPhoto(ctx, st.ID, url); err != nil {
			s.log.Error("saving photo url failed", zap.String("student_id", st.ID), zap.Error(err))
			return st, nil
		}
		st.Photo = url
	}
	return st, nil
}

func trimCreate(in CreateInput) CreateInput {
	in.StudentNo = strings.TrimSpace(in.StudentNo)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.MiddleName = strings.TrimSpace(in.MiddleName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Suffix = strings.TrimSpace(in.Suffix)
	in.Course = strings.TrimSpace(in.Course)
	in.Level = strings.TrimSpace(in.Level)
	return in
}

// Update applies a partial edit. Changing the middle name recomputes the
// middle initial.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Student, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&st.StudentNo, in.StudentNo)
	set(&st.FirstName, in.FirstName)
	set(&st.LastName, in.LastName)
	set(&st.Suffix, in.Suffix)
	set(&st.Course, in.Course)
	set(&st.Level, in.Level)
	if in.MiddleName != nil {
		st.MiddleName = strings.TrimSpace(*in.MiddleName)
		st.MiddleInitial = MiddleInitial(st.MiddleName)
	}
	if st.StudentNo == "" {
		return nil, fmt.Errorf("%w: studentNo cannot be empty", ErrInvalidInput)
	}
	if err := s.store.Update(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// UploadPhoto replaces a student's photo.
func (s *Service) UploadPhoto(ctx context.Context, id string, photo Photo) (*Student, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	url, err := s.storePhoto(ctx, st, photo)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetPhoto(ctx, st.ID, url); err != nil {
		return nil, err
	}
	st.Photo = url
	return st, nil
}

func (s *Service) storePhoto(ctx context.Context, st *Student, photo Photo) (string, error) {
	var dataURI string
	switch {
	case len(photo.Data) > 0:
		mime := photo.MIME
		if mime == "" {
			mime = "image/png"
		}
		dataURI = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(photo.Data)
	case strings.HasPrefix(strings.ToLower(photo.URL), "http://"), strings.HasPrefix(strings.ToLower(photo.URL), "https://"):
		return photo.URL, nil
	case dataURLPattern.MatchString(photo.URL):
		dataURI = photo.URL
	default:
		return "", ErrInvalidPhoto
	}
	if s.photos == nil {
		return "", ErrPhotoUnavailable
	}
	res, err := s.photos.UploadPhoto(ctx, dataURI, st.StudentNo)
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	if res.SecureURL == "" {
		return "", errors.New("upload photo: storage returned no url")
	}
	return res.SecureURL, nil
}

// QRPayload is the JSON encoded into a student's QR code.
func QRPayload(st *Student) string {
	b, _ := json.Marshal(struct {
		ID        string `json:"id"`
		StudentNo string `json:"studentNo"`
	}{st.ID, st.StudentNo})
	return string(b)
}

// QRCodePNG renders the student's QR code.
func QRCodePNG(st *Student) ([]byte, error) {
	return qrcode.Encode(QRPayload(st), qrcode.Medium, qrSize)
}

// QRCode renders the QR code for a stored student.
func (s *Service) QRCode(ctx context.Context, id string) ([]byte, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return QRCodePNG(st)
}
