// Package userbooks owns users' personal book records: the add/update/remove
// write path against their PDS, the local mirror of those records and the
// queries pages run against it.
package userbooks

import (
	"context"
	"database/sql"
	"time"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/lexicon"
	"github.com/bookhive/bookhive/pkg/locks"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/readingstate"
	"github.com/bookhive/bookhive/pkg/tasks"
	"github.com/bookhive/bookhive/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("userbooks")

const (
	// identifierWait bounds how long an update waits for enrichment to
	// discover identifiers for a book that has none.
	identifierWait = 5 * time.Second

	listRecordsPageSize = 100
)

// RepoProvider opens a signed-in user's repository.
type RepoProvider interface {
	Repo(ctx context.Context, sess *models.Session) (atproto.Repo, error)
}

// Enricher schedules catalog enrichment.
type Enricher interface {
	Submit(book *models.HiveBook) *tasks.Handle
}

type RetrieveUserBookOptions struct {
	URI     *string
	UserDID *string
	HiveID  *string
}

type ListUserBooksOptions struct {
	Limit    *int
	Offset   *int
	UserDID  *string
	HiveID   *string
	Status   *string
	Reviewed bool

	includeTotal bool
}

type Service struct {
	db       *bun.DB
	catalog  *catalog.Service
	locker   *locks.Locker
	repos    RepoProvider
	enricher Enricher
	now      func() time.Time
}

func NewService(db *bun.DB, catalogService *catalog.Service, locker *locks.Locker, repos RepoProvider, enricher Enricher) *Service {
	return &Service{
		db:       db,
		catalog:  catalogService,
		locker:   locker,
		repos:    repos,
		enricher: enricher,
		now:      time.Now,
	}
}

// UpdateInput is a user's add-or-update request for one book. The book is
// found by HiveID or any of the identifiers.
type UpdateInput struct {
	Lookup       catalog.Lookup
	Status       *string
	StartedAt    *string
	FinishedAt   *string
	Stars        *int
	Review       *string
	BookProgress *models.BookProgress
}

// UpdateBook adds a book to the user's library or updates their record of
// it. Under the user's write lease it reads the stored record from the PDS,
// merges the update into it, writes it back and mirrors the result.
func (svc *Service) UpdateBook(ctx context.Context, sess *models.Session, in UpdateInput) (*models.UserBook, error) {
	ctx, span := tracer.Start(ctx, "userbooks.update_book", trace.WithAttributes(attribute.String("user.did", sess.DID)))
	defer span.End()
	log := logger.FromContext(ctx)

	res, err := svc.catalog.Resolve(ctx, in.Lookup)
	if err != nil {
		return nil, err
	}
	book := res.Book
	span.SetAttributes(attribute.String("book.hive_id", book.ID), attribute.String("book.match", string(res.Kind)))
	catalogIDs := svc.identifiersFor(ctx, book)

	var ub *models.UserBook
	err = svc.locker.WithLease(ctx, sess.DID, book.Title, func(ctx context.Context) error {
		repo, err := svc.repos.Repo(ctx, sess)
		if err != nil {
			return err
		}

		existing, remote, err := svc.loadRemote(ctx, repo, book.ID)
		if err != nil {
			return err
		}

		record, err := readingstate.Merge(remote, readingstate.Draft{
			HiveID:  book.ID,
			Title:   book.Title,
			Authors: book.Authors,
			Stars:   in.Stars,
			Review:  in.Review,
			Update: readingstate.Update{
				Status:       in.Status,
				StartedAt:    in.StartedAt,
				FinishedAt:   in.FinishedAt,
				BookProgress: in.BookProgress,
			},
		}, catalogIDs, svc.now())
		if err != nil {
			return err
		}
		if err := record.Validate(); err != nil {
			return errcodes.ValidationError(err.Error())
		}

		var written *atproto.WriteResult
		if existing != nil {
			written, err = repo.PutRecord(ctx, lexicon.NSIDBook, existing.RKey, record)
		} else {
			written, err = repo.CreateRecord(ctx, lexicon.NSIDBook, atproto.NewTID(svc.now()), record)
		}
		if err != nil {
			return err
		}

		ub = record.ToUserBook(written.URI, written.CID, sess.DID)
		ub.Cover = book.Cover
		if book.Thumbnail != "" {
			ub.Thumbnail = &book.Thumbnail
		}
		ub.HiveBook = book
		return svc.Mirror(ctx, ub)
	})
	if err != nil {
		return nil, err
	}

	log.Info("updated user book", logger.Data{"hive_id": book.ID, "uri": ub.URI, "status": ub.StatusOrEmpty()})
	return ub, nil
}

// identifiersFor returns the book's identifiers, giving enrichment a short
// window to find some when the catalog has none. Otherwise enrichment is
// only kicked off in the background.
func (svc *Service) identifiersFor(ctx context.Context, book *models.HiveBook) *models.Identifiers {
	if svc.enricher == nil {
		return book.Identifiers
	}
	handle := svc.enricher.Submit(book)
	if !book.Identifiers.IsEmpty() {
		return book.Identifiers
	}

	waitCtx, cancel := context.WithTimeout(ctx, identifierWait)
	defer cancel()
	if err := handle.Wait(waitCtx); err != nil {
		logger.FromContext(ctx).Err(err).Warn("enrichment did not finish", logger.Data{"hive_id": book.ID})
		return book.Identifiers
	}
	refreshed, err := svc.catalog.RetrieveBook(ctx, catalog.RetrieveBookOptions{ID: &book.ID})
	if err != nil {
		return book.Identifiers
	}
	return refreshed.Identifiers
}

// loadRemote finds the user's stored record for hiveID via the mirror and
// fetches it from the PDS. A mirror row whose record is gone from the PDS is
// dropped, and the book is treated as new.
func (svc *Service) loadRemote(ctx context.Context, repo atproto.Repo, hiveID string) (*atproto.URI, *lexicon.BookRecord, error) {
	did := repo.DID()
	row, err := svc.RetrieveUserBook(ctx, RetrieveUserBookOptions{UserDID: &did, HiveID: &hiveID})
	if errors.Is(err, errcodes.NotFound("Book")) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	uri, err := atproto.ParseURI(row.URI)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	rec, err := repo.GetRecord(ctx, lexicon.NSIDBook, uri.RKey)
	if atproto.IsNotFound(err) {
		logger.FromContext(ctx).Info("mirrored record is gone from the pds", logger.Data{"uri": row.URI})
		return nil, nil, svc.DeleteByURI(ctx, row.URI)
	}
	if err != nil {
		return nil, nil, err
	}

	remote, err := lexicon.DecodeBookRecord(rec.Value)
	if err != nil {
		// A record we can't read is overwritten rather than merged.
		logger.FromContext(ctx).Err(err).Warn("stored book record is invalid", logger.Data{"uri": row.URI})
		return &uri, nil, nil
	}
	return &uri, remote, nil
}

// RemoveBook deletes the user's record(s) of a book from their PDS and the
// mirror.
func (svc *Service) RemoveBook(ctx context.Context, sess *models.Session, hiveID string) error {
	rows, err := svc.ListUserBooks(ctx, ListUserBooksOptions{UserDID: &sess.DID, HiveID: &hiveID})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errcodes.NotFound("Book")
	}

	return svc.locker.WithLease(ctx, sess.DID, rows[0].Title, func(ctx context.Context) error {
		repo, err := svc.repos.Repo(ctx, sess)
		if err != nil {
			return err
		}
		for _, row := range rows {
			uri, err := atproto.ParseURI(row.URI)
			if err != nil {
				return errors.WithStack(err)
			}
			err = repo.DeleteRecord(ctx, lexicon.NSIDBook, uri.RKey)
			if err != nil && !atproto.IsNotFound(err) {
				return err
			}
			if err := svc.DeleteByURI(ctx, row.URI); err != nil {
				return err
			}
		}
		return nil
	})
}

// Mirror upserts a user book into the local mirror, keyed by its URI.
func (svc *Service) Mirror(ctx context.Context, ub *models.UserBook) error {
	return mirror(ctx, svc.db, ub)
}

func mirror(ctx context.Context, db bun.IDB, ub *models.UserBook) error {
	if ub.IndexedAt.IsZero() {
		ub.IndexedAt = time.Now()
	}
	_, err := db.NewInsert().
		Model(ub).
		On("CONFLICT (uri) DO UPDATE").
		Set("cid = EXCLUDED.cid").
		Set("hive_id = EXCLUDED.hive_id").
		Set("indexed_at = EXCLUDED.indexed_at").
		Set("title = EXCLUDED.title").
		Set("authors = EXCLUDED.authors").
		Set("cover = COALESCE(EXCLUDED.cover, cover)").
		Set("thumbnail = COALESCE(EXCLUDED.thumbnail, thumbnail)").
		Set("status = EXCLUDED.status").
		Set("started_at = EXCLUDED.started_at").
		Set("finished_at = EXCLUDED.finished_at").
		Set("stars = EXCLUDED.stars").
		Set("review = EXCLUDED.review").
		Set("book_progress = EXCLUDED.book_progress").
		Set("identifiers = EXCLUDED.identifiers").
		Exec(ctx)
	return errors.WithStack(err)
}

// DeleteByURI removes a mirrored record. Missing rows are not an error.
func (svc *Service) DeleteByURI(ctx context.Context, uri string) error {
	_, err := svc.db.NewDelete().
		Model((*models.UserBook)(nil)).
		Where("uri = ?", uri).
		Exec(ctx)
	return errors.WithStack(err)
}

// SyncLibrary mirrors every book record in the user's repo and drops mirror
// rows the repo no longer has. It returns how many records were mirrored.
func (svc *Service) SyncLibrary(ctx context.Context, sess *models.Session) (int, error) {
	log := logger.FromContext(ctx)
	repo, err := svc.repos.Repo(ctx, sess)
	if err != nil {
		return 0, err
	}

	var books []*models.UserBook
	cursor := ""
	for {
		page, err := repo.ListRecords(ctx, lexicon.NSIDBook, cursor, listRecordsPageSize)
		if err != nil {
			return 0, err
		}
		for _, rec := range page.Records {
			record, err := lexicon.DecodeBookRecord(rec.Value)
			if err != nil {
				log.Err(err).Warn("skipping invalid book record", logger.Data{"uri": rec.URI})
				continue
			}
			books = append(books, record.ToUserBook(rec.URI, rec.CID, sess.DID))
		}
		if page.Cursor == "" || len(page.Records) == 0 {
			break
		}
		cursor = page.Cursor
	}

	err = svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		uris := make([]string, 0, len(books))
		for _, ub := range books {
			if err := mirror(ctx, tx, ub); err != nil {
				return err
			}
			uris = append(uris, ub.URI)
		}
		q := tx.NewDelete().
			Model((*models.UserBook)(nil)).
			Where("user_did = ?", sess.DID)
		if len(uris) > 0 {
			q = q.Where("uri NOT IN (?)", bun.In(uris))
		}
		_, err := q.Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return 0, err
	}

	log.Info("synced library", logger.Data{"did": sess.DID, "count": len(books)})
	return len(books), nil
}

func (svc *Service) RetrieveUserBook(ctx context.Context, opts RetrieveUserBookOptions) (*models.UserBook, error) {
	ub := &models.UserBook{}

	q := svc.db.
		NewSelect().
		Model(ub).
		Relation("HiveBook").
		Order("ub.indexed_at DESC").
		Limit(1)

	if opts.URI != nil {
		q = q.Where("ub.uri = ?", *opts.URI)
	}
	if opts.UserDID != nil {
		q = q.Where("ub.user_did = ?", *opts.UserDID)
	}
	if opts.HiveID != nil {
		q = q.Where("ub.hive_id = ?", *opts.HiveID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	return ub, nil
}

func (svc *Service) ListUserBooks(ctx context.Context, opts ListUserBooksOptions) ([]*models.UserBook, error) {
	b, _, err := svc.listUserBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListUserBooksWithTotal(ctx context.Context, opts ListUserBooksOptions) ([]*models.UserBook, int, error) {
	opts.includeTotal = true
	return svc.listUserBooksWithTotal(ctx, opts)
}

func (svc *Service) listUserBooksWithTotal(ctx context.Context, opts ListUserBooksOptions) ([]*models.UserBook, int, error) {
	var books []*models.UserBook
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&books).
		Relation("HiveBook").
		Order("ub.indexed_at DESC")

	if opts.UserDID != nil {
		q = q.Where("ub.user_did = ?", *opts.UserDID)
	}
	if opts.HiveID != nil {
		q = q.Where("ub.hive_id = ?", *opts.HiveID)
	}
	if opts.Status != nil {
		q = q.Where("ub.status = ?", *opts.Status)
	}
	if opts.Reviewed {
		q = q.Where("ub.review IS NOT NULL AND ub.review != ''")
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return books, total, nil
}

// FriendActivity lists the most recent book activity of the accounts did
// actively follows.
func (svc *Service) FriendActivity(ctx context.Context, did string, limit int) ([]*models.UserBook, error) {
	var books []*models.UserBook
	err := svc.db.
		NewSelect().
		Model(&books).
		Relation("HiveBook").
		Where("ub.user_did IN (SELECT following_did FROM user_follows WHERE user_did = ? AND is_active)", did).
		Order("ub.indexed_at DESC").
		Limit(limit).
		Scan(ctx)
	return books, errors.WithStack(err)
}
