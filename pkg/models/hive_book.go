package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// SourceGoodreads is the only external catalog source BookHive scrapes.
const SourceGoodreads = "Goodreads"

// HiveBook is a canonical catalog entry. Its ID is derived from the
// normalized title and author so that repeated searches converge on one row.
type HiveBook struct {
	bun.BaseModel `bun:"table:hive_book,alias:hb"`

	ID          string          `bun:",pk" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Title       string          `bun:",nullzero" json:"title"`
	Authors     string          `bun:",nullzero" json:"authors"`
	Source      string          `bun:",nullzero" json:"source"`
	SourceURL   *string         `bun:"source_url" json:"source_url,omitempty"`
	SourceID    *string         `bun:"source_id" json:"source_id,omitempty"`
	Cover       *string         `json:"cover,omitempty"`
	Thumbnail   string          `bun:",nullzero" json:"thumbnail"`
	Description *string         `json:"description,omitempty"`
	Rating      *int            `json:"rating,omitempty"`
	RatingCount *int            `bun:"rating_count" json:"rating_count,omitempty"`
	Meta        *HiveBookMeta   `json:"meta,omitempty"`
	Genres      []string        `json:"genres,omitempty"`
	Series      *HiveBookSeries `json:"series,omitempty"`
	Identifiers *Identifiers    `json:"identifiers,omitempty"`
	EnrichedAt  *time.Time      `bun:"enriched_at" json:"enriched_at,omitempty"`
}

// HiveBookMeta is the free-form metadata blob stored as JSON.
type HiveBookMeta struct {
	Publisher           string   `json:"publisher,omitempty"`
	PublicationYear     *int     `json:"publicationYear,omitempty"`
	Language            string   `json:"language,omitempty"`
	NumPages            *int     `json:"numPages,omitempty"`
	ISBN                string   `json:"isbn,omitempty"`
	ISBN13              string   `json:"isbn13,omitempty"`
	SecondaryAuthors    []string `json:"secondaryAuthors,omitempty"`
	RatingsDistribution []int    `json:"ratingsDistribution,omitempty"`
}

type HiveBookSeries struct {
	Title    string   `json:"title"`
	Position *float64 `json:"position,omitempty"`
	URL      string   `json:"url,omitempty"`
}

// Identifiers is the bag of external identifiers known for a book. It is
// embedded in catalog rows and in user book records.
type Identifiers struct {
	HiveID      string `json:"hiveId,omitempty"`
	ISBN10      string `json:"isbn10,omitempty"`
	ISBN13      string `json:"isbn13,omitempty"`
	GoodreadsID string `json:"goodreadsId,omitempty"`
}

// IsEmpty reports whether no external identifier is set. The hive ID alone
// doesn't count.
func (ids *Identifiers) IsEmpty() bool {
	return ids == nil || (ids.ISBN10 == "" && ids.ISBN13 == "" && ids.GoodreadsID == "")
}

// AuthorList splits the tab-separated authors column.
func (b *HiveBook) AuthorList() []string {
	if b.Authors == "" {
		return nil
	}
	return strings.Split(b.Authors, "\t")
}

// PrimaryAuthor is the first listed author.
func (b *HiveBook) PrimaryAuthor() string {
	authors := b.AuthorList()
	if len(authors) == 0 {
		return ""
	}
	return authors[0]
}

// StarRating converts the 0-1000 rating to the 0-5 display scale.
func (b *HiveBook) StarRating() float64 {
	if b.Rating == nil {
		return 0
	}
	return float64(*b.Rating) / 1000
}

// HiveBookGenre is the denormalized genre join row, rebuilt whenever a book's
// genres change.
type HiveBookGenre struct {
	bun.BaseModel `bun:"table:hive_book_genre,alias:hbg"`

	HiveID string `bun:"hive_id,pk" json:"hive_id"`
	Genre  string `bun:",pk" json:"genre"`
}

// BookIdentifiersRow maps a hive ID to its normalized external identifiers.
type BookIdentifiersRow struct {
	bun.BaseModel `bun:"table:book_id_map,alias:bim"`

	HiveID      string    `bun:"hive_id,pk" json:"hive_id"`
	ISBN10      *string   `bun:"isbn10" json:"isbn10,omitempty"`
	ISBN13      *string   `bun:"isbn13" json:"isbn13,omitempty"`
	GoodreadsID *string   `bun:"goodreads_id" json:"goodreads_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToIdentifiers flattens the row into the identifier bag.
func (r *BookIdentifiersRow) ToIdentifiers() *Identifiers {
	ids := &Identifiers{HiveID: r.HiveID}
	if r.ISBN10 != nil {
		ids.ISBN10 = *r.ISBN10
	}
	if r.ISBN13 != nil {
		ids.ISBN13 = *r.ISBN13
	}
	if r.GoodreadsID != nil {
		ids.GoodreadsID = *r.GoodreadsID
	}
	return ids
}
