package catalog

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/identifiers"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveBookOptions struct {
	ID *string
}

type ListBooksOptions struct {
	Limit  *int
	Offset *int
	IDs    []string
	Genre  *string
	// OrderByRating sorts by rating_count instead of most recently updated.
	OrderByRating bool

	includeTotal bool
}

type UpdateBookOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// UpsertBook inserts a catalog row or, when one with the same ID exists,
// refreshes the fields a search result carries. Enrichment-owned columns
// (meta, genres, series, enriched_at) are left untouched on conflict.
func (svc *Service) UpsertBook(ctx context.Context, book *models.HiveBook) error {
	if book.ID == "" {
		book.ID = HiveID(book.Title, book.PrimaryAuthor())
	}
	now := time.Now()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = now
	if book.Identifiers == nil {
		book.Identifiers = identifiers.Derive(book)
	}

	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(book).
			On("CONFLICT (id) DO UPDATE").
			Set("updated_at = EXCLUDED.updated_at").
			Set("title = EXCLUDED.title").
			Set("authors = EXCLUDED.authors").
			Set("source_url = COALESCE(EXCLUDED.source_url, source_url)").
			Set("source_id = COALESCE(EXCLUDED.source_id, source_id)").
			Set("cover = COALESCE(EXCLUDED.cover, cover)").
			Set("thumbnail = EXCLUDED.thumbnail").
			Set("rating = COALESCE(EXCLUDED.rating, rating)").
			Set("rating_count = COALESCE(EXCLUDED.rating_count, rating_count)").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		if len(book.Genres) > 0 {
			if err := replaceGenres(ctx, tx, book.ID, book.Genres); err != nil {
				return err
			}
		}

		if !book.Identifiers.IsEmpty() {
			if err := upsertIdentifiers(ctx, tx, *book.Identifiers); err != nil {
				return err
			}
		}
		return nil
	})
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.HiveBook, error) {
	book := &models.HiveBook{}

	q := svc.db.
		NewSelect().
		Model(book)

	if opts.ID != nil {
		q = q.Where("hb.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.HiveBook, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.HiveBook, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.HiveBook, int, error) {
	var books []*models.HiveBook
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&books)

	if opts.OrderByRating {
		q = q.OrderExpr("hb.rating_count DESC NULLS LAST, hb.id ASC")
	} else {
		q = q.Order("hb.updated_at DESC")
	}
	if len(opts.IDs) > 0 {
		q = q.Where("hb.id IN (?)", bun.In(opts.IDs))
	}
	if opts.Genre != nil {
		q = q.Where("hb.id IN (SELECT hive_id FROM hive_book_genre WHERE genre = ?)", *opts.Genre)
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

func (svc *Service) UpdateBook(ctx context.Context, book *models.HiveBook, opts UpdateBookOptions) error {
	return updateBook(ctx, svc.db, book, opts)
}

func updateBook(ctx context.Context, db bun.IDB, book *models.HiveBook, opts UpdateBookOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	book.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	res, err := db.
		NewUpdate().
		Model(book).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Book")
	}
	return nil
}

// ListStaleBookIDs returns IDs of books never enriched or last enriched
// before the cutoff, least recently enriched first.
func (svc *Service) ListStaleBookIDs(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	err := svc.db.NewSelect().
		Model((*models.HiveBook)(nil)).
		Column("id").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("enriched_at IS NULL").WhereOr("enriched_at < ?", before)
		}).
		OrderExpr("enriched_at ASC NULLS FIRST, id ASC").
		Limit(limit).
		Scan(ctx, &ids)
	return ids, errors.WithStack(err)
}

// SaveEnrichment writes freshly enriched metadata for a book. The genre join
// rows and identifier row are rebuilt in the same transaction so readers
// never see a book whose genres disagree with its join rows.
func (svc *Service) SaveEnrichment(ctx context.Context, book *models.HiveBook) error {
	book.Identifiers = identifiers.Derive(book)

	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := updateBook(ctx, tx, book, UpdateBookOptions{
			Columns: []string{"description", "rating", "rating_count", "meta", "genres", "series", "identifiers", "enriched_at"},
		})
		if err != nil {
			return err
		}
		if err := replaceGenres(ctx, tx, book.ID, book.Genres); err != nil {
			return err
		}
		if book.Identifiers.IsEmpty() {
			return nil
		}
		return upsertIdentifiers(ctx, tx, *book.Identifiers)
	})
}

func replaceGenres(ctx context.Context, db bun.IDB, hiveID string, genres []string) error {
	_, err := db.NewDelete().
		Model((*models.HiveBookGenre)(nil)).
		Where("hive_id = ?", hiveID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	seen := make(map[string]struct{}, len(genres))
	rows := make([]*models.HiveBookGenre, 0, len(genres))
	for _, g := range genres {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		rows = append(rows, &models.HiveBookGenre{HiveID: hiveID, Genre: g})
	}
	if len(rows) == 0 {
		return nil
	}

	_, err = db.NewInsert().Model(&rows).Exec(ctx)
	return errors.WithStack(err)
}
