// Package buzzes handles comments ("buzzes") on reviews and on other
// comments.
package buzzes

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/lexicon"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/readingstate"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

type ListBuzzesOptions struct {
	Limit     *int
	HiveID    *string
	BookURI   *string
	ParentURI *string
	UserDID   *string
}

type Service struct {
	db    *bun.DB
	repos userbooks.RepoProvider
	now   func() time.Time
}

func NewService(db *bun.DB, repos userbooks.RepoProvider) *Service {
	return &Service{db: db, repos: repos, now: time.Now}
}

// CommentInput is a new comment. ParentURI/ParentCID point at the review
// (a user book record) or comment being replied to.
type CommentInput struct {
	ParentURI string
	ParentCID string
	Comment   string
}

// target is what a new comment hangs off: its parent and the book record
// the thread belongs to.
type target struct {
	parent lexicon.StrongRef
	book   lexicon.StrongRef
	hiveID string
}

// resolveTarget finds the parent in the mirror. Replies to a comment inherit
// the comment's book.
func (svc *Service) resolveTarget(ctx context.Context, in CommentInput) (*target, error) {
	uri, err := atproto.ParseURI(in.ParentURI)
	if err != nil {
		return nil, errcodes.ValidationError("Invalid parent URI.")
	}

	switch uri.Collection {
	case lexicon.NSIDBook:
		ub := &models.UserBook{}
		err := svc.db.NewSelect().Model(ub).Where("ub.uri = ?", in.ParentURI).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Review")
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		ref := lexicon.StrongRef{URI: ub.URI, CID: ub.CID}
		return &target{parent: ref, book: ref, hiveID: ub.HiveID}, nil
	case lexicon.NSIDBuzz:
		parent, err := svc.RetrieveBuzz(ctx, in.ParentURI)
		if err != nil {
			return nil, err
		}
		return &target{
			parent: lexicon.StrongRef{URI: parent.URI, CID: parent.CID},
			book:   lexicon.StrongRef{URI: parent.BookURI, CID: parent.BookCID},
			hiveID: parent.HiveID,
		}, nil
	default:
		return nil, errcodes.ValidationError("Comments can only reply to reviews or comments.")
	}
}

// PostComment writes a buzz record to the user's repo and mirrors it.
func (svc *Service) PostComment(ctx context.Context, sess *models.Session, in CommentInput) (*models.Buzz, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	t, err := svc.resolveTarget(ctx, in)
	if err != nil {
		return nil, err
	}
	if in.ParentCID != "" && in.ParentCID != t.parent.CID {
		// Reference the version the client was looking at.
		t.parent.CID = in.ParentCID
	}

	now := svc.now()
	record := &lexicon.BuzzRecord{
		Type:      lexicon.NSIDBuzz,
		Comment:   in.Comment,
		Parent:    t.parent,
		Book:      t.book,
		CreatedAt: now.UTC().Format(readingstate.TimestampLayout),
	}
	if err := record.Validate(); err != nil {
		return nil, errcodes.ValidationError(err.Error())
	}

	repo, err := svc.repos.Repo(ctx, sess)
	if err != nil {
		return nil, err
	}
	written, err := repo.CreateRecord(ctx, lexicon.NSIDBuzz, atproto.NewTID(now), record)
	if err != nil {
		return nil, err
	}

	bz := record.ToBuzz(written.URI, written.CID, sess.DID, t.hiveID)
	if err := svc.Mirror(ctx, bz); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("posted comment", logger.Data{"uri": bz.URI, "parent": bz.ParentURI})
	return bz, nil
}

// DeleteComment removes one of the user's comments by record key.
func (svc *Service) DeleteComment(ctx context.Context, sess *models.Session, rkey string) (*models.Buzz, error) {
	uri := atproto.URI{DID: sess.DID, Collection: lexicon.NSIDBuzz, RKey: rkey}.String()
	if _, err := atproto.ParseURI(uri); err != nil {
		return nil, errcodes.NotFound("Comment")
	}

	existing, err := svc.RetrieveBuzz(ctx, uri)
	if err != nil && !errors.Is(err, errcodes.NotFound("Comment")) {
		return nil, err
	}

	repo, err := svc.repos.Repo(ctx, sess)
	if err != nil {
		return nil, err
	}
	err = repo.DeleteRecord(ctx, lexicon.NSIDBuzz, rkey)
	if atproto.IsNotFound(err) {
		if existing == nil {
			return nil, errcodes.NotFound("Comment")
		}
	} else if err != nil {
		return nil, err
	}

	if err := svc.DeleteByURI(ctx, uri); err != nil {
		return nil, err
	}
	if existing == nil {
		existing = &models.Buzz{URI: uri, UserDID: sess.DID}
	}
	return existing, nil
}

// IngestRecord mirrors a buzz record seen outside the write path. The hive
// ID is taken from the mirrored book record when known.
func (svc *Service) IngestRecord(ctx context.Context, uri, cid, did string, record *lexicon.BuzzRecord) error {
	var hiveID string
	err := svc.db.NewSelect().
		Model((*models.UserBook)(nil)).
		Column("hive_id").
		Where("uri = ?", record.Book.URI).
		Scan(ctx, &hiveID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.WithStack(err)
	}
	return svc.Mirror(ctx, record.ToBuzz(uri, cid, did, hiveID))
}

func (svc *Service) Mirror(ctx context.Context, bz *models.Buzz) error {
	_, err := svc.db.NewInsert().
		Model(bz).
		On("CONFLICT (uri) DO UPDATE").
		Set("cid = EXCLUDED.cid").
		Set("hive_id = COALESCE(EXCLUDED.hive_id, hive_id)").
		Set("comment = EXCLUDED.comment").
		Set("parent_uri = EXCLUDED.parent_uri").
		Set("parent_cid = EXCLUDED.parent_cid").
		Set("book_uri = EXCLUDED.book_uri").
		Set("book_cid = EXCLUDED.book_cid").
		Set("indexed_at = EXCLUDED.indexed_at").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) DeleteByURI(ctx context.Context, uri string) error {
	_, err := svc.db.NewDelete().
		Model((*models.Buzz)(nil)).
		Where("uri = ?", uri).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveBuzz(ctx context.Context, uri string) (*models.Buzz, error) {
	bz := &models.Buzz{}
	err := svc.db.NewSelect().Model(bz).Where("bz.uri = ?", uri).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Comment")
		}
		return nil, errors.WithStack(err)
	}
	return bz, nil
}

// ListBuzzes returns comments oldest first so threads read top to bottom.
func (svc *Service) ListBuzzes(ctx context.Context, opts ListBuzzesOptions) ([]*models.Buzz, error) {
	var buzzes []*models.Buzz
	q := svc.db.NewSelect().
		Model(&buzzes).
		Order("bz.created_at ASC")

	if opts.HiveID != nil {
		q = q.Where("bz.hive_id = ?", *opts.HiveID)
	}
	if opts.BookURI != nil {
		q = q.Where("bz.book_uri = ?", *opts.BookURI)
	}
	if opts.ParentURI != nil {
		q = q.Where("bz.parent_uri = ?", *opts.ParentURI)
	}
	if opts.UserDID != nil {
		q = q.Where("bz.user_did = ?", *opts.UserDID)
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}

	err := q.Scan(ctx)
	return buzzes, errors.WithStack(err)
}
