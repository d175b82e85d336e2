// Package follows mirrors users' Bluesky follow graph, which drives the
// friend activity feed.
package follows

import (
	"context"
	"database/sql"
	"time"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/readingstate"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// NSIDFollow is the Bluesky follow record collection.
const NSIDFollow = "app.bsky.graph.follow"

const (
	pageSize = 100
	// maxPages caps a sync at 10k follows.
	maxPages = 100
)

// Source lists the accounts an actor follows.
type Source interface {
	GetFollows(ctx context.Context, actor, cursor string, limit int) (*atproto.FollowsPage, error)
}

type followRecord struct {
	Type      string `json:"$type"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

type Service struct {
	db     *bun.DB
	source Source
	repos  userbooks.RepoProvider
	now    func() time.Time

	maxPages int
}

func NewService(db *bun.DB, source Source, repos userbooks.RepoProvider) *Service {
	return &Service{db: db, source: source, repos: repos, now: time.Now, maxPages: maxPages}
}

// Sync replaces did's follows with what the AppView reports. Every edge is
// first marked inactive, the ones still present are reactivated, and the
// rest are purged, all in one transaction. A listing cut short by the page
// cap only adds edges: what wasn't fetched can't be told apart from an
// unfollow.
func (svc *Service) Sync(ctx context.Context, did string) (int, error) {
	var following []string
	cursor := ""
	complete := false
	for i := 0; i < svc.maxPages; i++ {
		page, err := svc.source.GetFollows(ctx, did, cursor, pageSize)
		if err != nil {
			return 0, err
		}
		for _, p := range page.Follows {
			if atproto.IsDID(p.DID) {
				following = append(following, p.DID)
			}
		}
		if page.Cursor == "" || len(page.Follows) == 0 {
			complete = true
			break
		}
		cursor = page.Cursor
	}
	if !complete {
		logger.FromContext(ctx).Warn("follow listing hit the page cap, keeping unseen follows", logger.Data{"did": did, "count": len(following)})
	}

	now := svc.now()
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if complete {
			_, err := tx.NewUpdate().
				Model((*models.UserFollow)(nil)).
				Set("is_active = ?", false).
				Where("user_did = ?", did).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		for _, f := range following {
			if err := upsertFollow(ctx, tx, did, f, now); err != nil {
				return err
			}
		}
		if !complete {
			return nil
		}

		_, err := tx.NewDelete().
			Model((*models.UserFollow)(nil)).
			Where("user_did = ?", did).
			Where("NOT is_active").
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return 0, err
	}

	logger.FromContext(ctx).Info("synced follows", logger.Data{"did": did, "count": len(following)})
	return len(following), nil
}

func upsertFollow(ctx context.Context, db bun.IDB, did, following string, now time.Time) error {
	_, err := db.NewInsert().
		Model(&models.UserFollow{
			UserDID:      did,
			FollowingDID: following,
			FollowedAt:   now,
			IsActive:     true,
			LastSeenAt:   now,
		}).
		On("CONFLICT (user_did, following_did) DO UPDATE").
		Set("is_active = EXCLUDED.is_active").
		Set("last_seen_at = EXCLUDED.last_seen_at").
		Exec(ctx)
	return errors.WithStack(err)
}

// Follow writes a follow record to the user's repo and records the edge
// locally so the feed picks it up before the next sync.
func (svc *Service) Follow(ctx context.Context, sess *models.Session, target string) error {
	if !atproto.IsDID(target) {
		return errcodes.ValidationError("A DID is required.")
	}
	if target == sess.DID {
		return errcodes.ValidationError("You can't follow yourself.")
	}

	following, err := svc.IsFollowing(ctx, sess.DID, target)
	if err != nil {
		return err
	}
	if following {
		return nil
	}

	repo, err := svc.repos.Repo(ctx, sess)
	if err != nil {
		return err
	}
	now := svc.now()
	_, err = repo.CreateRecord(ctx, NSIDFollow, atproto.NewTID(now), &followRecord{
		Type:      NSIDFollow,
		Subject:   target,
		CreatedAt: now.UTC().Format(readingstate.TimestampLayout),
	})
	if err != nil {
		return err
	}
	return upsertFollow(ctx, svc.db, sess.DID, target, now)
}

func (svc *Service) IsFollowing(ctx context.Context, did, target string) (bool, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.UserFollow)(nil)).
		Where("user_did = ?", did).
		Where("following_did = ?", target).
		Where("is_active").
		Exists(ctx)
	return exists, errors.WithStack(err)
}
