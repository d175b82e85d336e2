package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Buzz is a comment on a review or on another buzz.
type Buzz struct {
	bun.BaseModel `bun:"table:buzz,alias:bz"`

	URI       string    `bun:",pk" json:"uri"`
	CID       string    `bun:"cid,nullzero" json:"cid"`
	UserDID   string    `bun:"user_did,nullzero" json:"user_did"`
	HiveID    string    `bun:"hive_id,nullzero" json:"hive_id"`
	Comment   string    `bun:",nullzero" json:"comment"`
	ParentURI string    `bun:"parent_uri,nullzero" json:"parent_uri"`
	ParentCID string    `bun:"parent_cid,nullzero" json:"parent_cid"`
	BookURI   string    `bun:"book_uri,nullzero" json:"book_uri"`
	BookCID   string    `bun:"book_cid,nullzero" json:"book_cid"`
	CreatedAt time.Time `json:"created_at"`
	IndexedAt time.Time `json:"indexed_at"`
}

// RKey is the record key, the last segment of the URI.
func (b *Buzz) RKey() string {
	return b.URI[strings.LastIndex(b.URI, "/")+1:]
}

// UserFollow is one edge of a user's social graph as last synced from their
// repo.
type UserFollow struct {
	bun.BaseModel `bun:"table:user_follows,alias:uf"`

	UserDID      string    `bun:"user_did,pk" json:"user_did"`
	FollowingDID string    `bun:"following_did,pk" json:"following_did"`
	FollowedAt   time.Time `json:"followed_at"`
	IsActive     bool      `json:"is_active"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// FirehoseCursor is the single-row resume point for Jetstream ingestion.
type FirehoseCursor struct {
	bun.BaseModel `bun:"table:firehose_cursor,alias:fc"`

	ID        int       `bun:",pk"`
	TimeUS    int64     `bun:"time_us"`
	UpdatedAt time.Time `bun:"updated_at"`
}
