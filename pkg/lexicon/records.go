// Package lexicon holds the buzz.bookhive.* record shapes as they are stored
// in users' repos, plus runtime validation of records arriving from the
// network.
package lexicon

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const (
	NSIDBook = "buzz.bookhive.book"
	NSIDBuzz = "buzz.bookhive.buzz"

	statusTokenPrefix = "buzz.bookhive.defs#"
)

var statuses = map[string]struct{}{
	models.StatusWantToRead: {},
	models.StatusReading:    {},
	models.StatusFinished:   {},
	models.StatusAbandoned:  {},
	models.StatusOwned:      {},
}

// StatusToken converts a bare status into its lexicon token.
func StatusToken(status string) string {
	if status == "" {
		return ""
	}
	return statusTokenPrefix + status
}

// ParseStatus accepts either a bare status or a lexicon token and returns
// the bare status.
func ParseStatus(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), statusTokenPrefix)
	if _, ok := statuses[s]; !ok {
		return "", errors.Errorf("unknown status %q", s)
	}
	return s, nil
}

// StrongRef is a content-addressed reference to another record.
type StrongRef struct {
	URI string `json:"uri" validate:"required,startswith=at://"`
	CID string `json:"cid" validate:"required"`
}

type BlobRef struct {
	Type     string          `json:"$type"`
	Ref      json.RawMessage `json:"ref"`
	MimeType string          `json:"mimeType"`
	Size     int64           `json:"size"`
}

type BookProgress struct {
	Percent        *int   `json:"percent,omitempty" validate:"omitempty,min=0,max=100"`
	CurrentPage    *int   `json:"currentPage,omitempty" validate:"omitempty,min=0"`
	TotalPages     *int   `json:"totalPages,omitempty" validate:"omitempty,min=1"`
	CurrentChapter *int   `json:"currentChapter,omitempty" validate:"omitempty,min=0"`
	TotalChapters  *int   `json:"totalChapters,omitempty" validate:"omitempty,min=1"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

// Check enforces the constraints between fields that struct tags can't
// express.
func (p *BookProgress) Check() error {
	if p == nil {
		return nil
	}
	if err := validate.Struct(p); err != nil {
		return validationError(NSIDBook, err)
	}
	if p.CurrentPage != nil && p.TotalPages != nil && *p.CurrentPage > *p.TotalPages {
		return &ValidationError{Collection: NSIDBook, Field: "bookProgress.currentPage", Reason: "exceeds totalPages"}
	}
	if p.CurrentChapter != nil && p.TotalChapters != nil && *p.CurrentChapter > *p.TotalChapters {
		return &ValidationError{Collection: NSIDBook, Field: "bookProgress.currentChapter", Reason: "exceeds totalChapters"}
	}
	if p.UpdatedAt != "" && !validDatetime(p.UpdatedAt) {
		return &ValidationError{Collection: NSIDBook, Field: "bookProgress.updatedAt", Reason: "is not a datetime"}
	}
	return nil
}

// BookRecord is a buzz.bookhive.book record.
type BookRecord struct {
	Type         string              `json:"$type"`
	Title        string              `json:"title" validate:"required,max=512"`
	Authors      string              `json:"authors" validate:"required,max=2048"`
	HiveID       string              `json:"hiveId" validate:"required"`
	CreatedAt    string              `json:"createdAt" validate:"required"`
	StartedAt    *string             `json:"startedAt,omitempty"`
	FinishedAt   *string             `json:"finishedAt,omitempty"`
	Cover        *BlobRef            `json:"cover,omitempty"`
	Status       *string             `json:"status,omitempty"`
	Stars        *int                `json:"stars,omitempty" validate:"omitempty,min=1,max=10"`
	Review       *string             `json:"review,omitempty" validate:"omitempty,max=15000"`
	BookProgress *BookProgress       `json:"bookProgress,omitempty"`
	Identifiers  *models.Identifiers `json:"identifiers,omitempty"`
}

// BuzzRecord is a buzz.bookhive.buzz record: a comment on a review or on
// another comment.
type BuzzRecord struct {
	Type      string    `json:"$type"`
	Comment   string    `json:"comment" validate:"required,max=3000"`
	Parent    StrongRef `json:"parent"`
	Book      StrongRef `json:"book"`
	CreatedAt string    `json:"createdAt" validate:"required"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// ValidationError describes why a record failed validation.
type ValidationError struct {
	Collection string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s record: %s %s", e.Collection, e.Field, e.Reason)
}

func validationError(collection string, err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		fe := errs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &ValidationError{Collection: collection, Field: fe.Namespace(), Reason: reason}
	}
	return errors.WithStack(err)
}

func validDatetime(s string) bool {
	_, err := time.Parse(time.RFC3339Nano, s)
	return err == nil
}

// Validate checks the record against the lexicon constraints.
func (r *BookRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(NSIDBook, err)
	}
	if !validDatetime(r.CreatedAt) {
		return &ValidationError{Collection: NSIDBook, Field: "createdAt", Reason: "is not a datetime"}
	}
	if r.StartedAt != nil && !validDatetime(*r.StartedAt) {
		return &ValidationError{Collection: NSIDBook, Field: "startedAt", Reason: "is not a datetime"}
	}
	if r.FinishedAt != nil && !validDatetime(*r.FinishedAt) {
		return &ValidationError{Collection: NSIDBook, Field: "finishedAt", Reason: "is not a datetime"}
	}
	if r.Status != nil {
		if _, err := ParseStatus(*r.Status); err != nil {
			return &ValidationError{Collection: NSIDBook, Field: "status", Reason: "is not a known status"}
		}
	}
	return r.BookProgress.Check()
}

func (r *BuzzRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(NSIDBuzz, err)
	}
	if !validDatetime(r.CreatedAt) {
		return &ValidationError{Collection: NSIDBuzz, Field: "createdAt", Reason: "is not a datetime"}
	}
	return nil
}

// DecodeBookRecord parses and validates a raw record.
func DecodeBookRecord(raw []byte) (*BookRecord, error) {
	r := &BookRecord{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, errors.Wrap(err, "failed to decode book record")
	}
	if r.Type != "" && r.Type != NSIDBook {
		return nil, &ValidationError{Collection: NSIDBook, Field: "$type", Reason: "is " + r.Type}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func DecodeBuzzRecord(raw []byte) (*BuzzRecord, error) {
	r := &BuzzRecord{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, errors.Wrap(err, "failed to decode buzz record")
	}
	if r.Type != "" && r.Type != NSIDBuzz {
		return nil, &ValidationError{Collection: NSIDBuzz, Field: "$type", Reason: "is " + r.Type}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// ProgressFromModel converts the mirror's progress shape to the record's.
func ProgressFromModel(p *models.BookProgress) *BookProgress {
	if p == nil {
		return nil
	}
	out := &BookProgress{
		Percent:        p.Percent,
		CurrentPage:    p.CurrentPage,
		TotalPages:     p.TotalPages,
		CurrentChapter: p.CurrentChapter,
		TotalChapters:  p.TotalChapters,
	}
	if p.UpdatedAt != nil {
		out.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// ToModel converts the record's progress shape to the mirror's.
func (p *BookProgress) ToModel() *models.BookProgress {
	if p == nil {
		return nil
	}
	out := &models.BookProgress{
		Percent:        p.Percent,
		CurrentPage:    p.CurrentPage,
		TotalPages:     p.TotalPages,
		CurrentChapter: p.CurrentChapter,
		TotalChapters:  p.TotalChapters,
	}
	if t, err := time.Parse(time.RFC3339Nano, p.UpdatedAt); err == nil {
		out.UpdatedAt = &t
	}
	return out
}

// ToUserBook builds the mirror row for a book record stored at uri.
func (r *BookRecord) ToUserBook(uri, cid, did string) *models.UserBook {
	ub := &models.UserBook{
		URI:          uri,
		CID:          cid,
		UserDID:      did,
		HiveID:       r.HiveID,
		Title:        r.Title,
		Authors:      r.Authors,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Stars:        r.Stars,
		Review:       r.Review,
		BookProgress: r.BookProgress.ToModel(),
		Identifiers:  r.Identifiers,
		IndexedAt:    time.Now(),
	}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		ub.CreatedAt = t
	} else {
		ub.CreatedAt = ub.IndexedAt
	}
	if r.Status != nil {
		if s, err := ParseStatus(*r.Status); err == nil {
			ub.Status = &s
		}
	}
	return ub
}

// ToBuzz builds the mirror row for a buzz record. hiveID comes from the book
// the buzz is attached to.
func (r *BuzzRecord) ToBuzz(uri, cid, did, hiveID string) *models.Buzz {
	bz := &models.Buzz{
		URI:       uri,
		CID:       cid,
		UserDID:   did,
		HiveID:    hiveID,
		Comment:   r.Comment,
		ParentURI: r.Parent.URI,
		ParentCID: r.Parent.CID,
		BookURI:   r.Book.URI,
		BookCID:   r.Book.CID,
		IndexedAt: time.Now(),
	}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		bz.CreatedAt = t
	} else {
		bz.CreatedAt = bz.IndexedAt
	}
	return bz
}
