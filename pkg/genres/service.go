// Package genres serves genre browsing over the hive_book_genre join table
// that enrichment maintains.
package genres

import (
	"context"
	"strings"

	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Genre is a genre name with the number of catalog books tagged with it.
type Genre struct {
	Name      string `bun:"genre" json:"name"`
	BookCount int    `bun:"book_count" json:"bookCount"`
}

type ListGenresOptions struct {
	Limit  *int
	Offset *int
	Search *string
	// MinBooks hides genres with fewer books.
	MinBooks int

	includeTotal bool
}

type Service struct {
	db      *bun.DB
	catalog *catalog.Service
}

func NewService(db *bun.DB, catalogService *catalog.Service) *Service {
	return &Service{db, catalogService}
}

func (svc *Service) ListGenres(ctx context.Context, opts ListGenresOptions) ([]*Genre, error) {
	g, _, err := svc.listGenresWithTotal(ctx, opts)
	return g, errors.WithStack(err)
}

func (svc *Service) ListGenresWithTotal(ctx context.Context, opts ListGenresOptions) ([]*Genre, int, error) {
	opts.includeTotal = true
	return svc.listGenresWithTotal(ctx, opts)
}

func (svc *Service) listGenresWithTotal(ctx context.Context, opts ListGenresOptions) ([]*Genre, int, error) {
	genres := []*Genre{}

	q := svc.db.
		NewSelect().
		Model((*models.HiveBookGenre)(nil)).
		ColumnExpr("hbg.genre").
		ColumnExpr("COUNT(*) AS book_count").
		Group("hbg.genre").
		OrderExpr("book_count DESC, hbg.genre ASC")

	if opts.Search != nil && strings.TrimSpace(*opts.Search) != "" {
		q = q.Where("hbg.genre LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.TrimSpace(*opts.Search))+"%")
	}
	if opts.MinBooks > 1 {
		q = q.Having("COUNT(*) >= ?", opts.MinBooks)
	}

	var total int
	if opts.includeTotal {
		n, err := svc.db.NewSelect().TableExpr("(?) AS g", q).Count(ctx)
		if err != nil {
			return nil, 0, errors.WithStack(err)
		}
		total = n
	}

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if err := q.Scan(ctx, &genres); err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return genres, total, nil
}

// Books lists the catalog books in a genre, most rated first.
func (svc *Service) Books(ctx context.Context, genre string, limit, offset int) ([]*models.HiveBook, int, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.HiveBookGenre)(nil)).
		Where("genre = ?", genre).
		Exists(ctx)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	if !exists {
		return nil, 0, errcodes.NotFound("Genre")
	}

	return svc.catalog.ListBooksWithTotal(ctx, catalog.ListBooksOptions{
		Limit:         &limit,
		Offset:        &offset,
		Genre:         &genre,
		OrderByRating: true,
	})
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
