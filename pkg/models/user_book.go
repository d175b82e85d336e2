package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	StatusWantToRead = "wantToRead"
	StatusReading    = "reading"
	StatusFinished   = "finished"
	StatusAbandoned  = "abandoned"
	StatusOwned      = "owned"
)

// UserBook is a user's copy of a book, mirrored from their PDS. The URI is
// the record's at:// URI and never changes once created.
type UserBook struct {
	bun.BaseModel `bun:"table:user_book,alias:ub"`

	URI          string        `bun:",pk" json:"uri"`
	CID          string        `bun:"cid,nullzero" json:"cid"`
	UserDID      string        `bun:"user_did,nullzero" json:"user_did"`
	HiveID       string        `bun:"hive_id,nullzero" json:"hive_id"`
	CreatedAt    time.Time     `json:"created_at"`
	IndexedAt    time.Time     `json:"indexed_at"`
	Title        string        `bun:",nullzero" json:"title"`
	Authors      string        `bun:",nullzero" json:"authors"`
	Cover        *string       `json:"cover,omitempty"`
	Thumbnail    *string       `json:"thumbnail,omitempty"`
	Status       *string       `json:"status,omitempty"`
	StartedAt    *string       `bun:"started_at" json:"started_at,omitempty"`
	FinishedAt   *string       `bun:"finished_at" json:"finished_at,omitempty"`
	Stars        *int          `json:"stars,omitempty"`
	Review       *string       `json:"review,omitempty"`
	BookProgress *BookProgress `bun:"book_progress" json:"book_progress,omitempty"`
	Identifiers  *Identifiers  `json:"identifiers,omitempty"`

	HiveBook *HiveBook `bun:"rel:belongs-to,join:hive_id=id" json:"hive_book,omitempty"`
}

// BookProgress tracks how far into a book the user is.
type BookProgress struct {
	Percent        *int       `json:"percent,omitempty"`
	CurrentPage    *int       `json:"currentPage,omitempty"`
	TotalPages     *int       `json:"totalPages,omitempty"`
	CurrentChapter *int       `json:"currentChapter,omitempty"`
	TotalChapters  *int       `json:"totalChapters,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// DisplayStars converts the 1-10 internal scale to 0.5-5.
func (ub *UserBook) DisplayStars() float64 {
	if ub.Stars == nil {
		return 0
	}
	return float64(*ub.Stars) / 2
}

// StatusOrEmpty returns the status or "" for books on the shelf without one.
func (ub *UserBook) StatusOrEmpty() string {
	if ub.Status == nil {
		return ""
	}
	return *ub.Status
}
