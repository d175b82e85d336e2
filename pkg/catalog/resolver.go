package catalog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/identifiers"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// ErrNoIdentifiers is returned by Resolve when the lookup carries nothing to
// match on. It's an input error, distinct from a lookup that matched nothing.
var ErrNoIdentifiers = errcodes.BadRequest("At least one of hiveId, isbn10, isbn13 or goodreadsId is required.")

// MatchKind records which strategy found a book.
type MatchKind string

const (
	// MatchExact means the identifier store had a row for one of the keys.
	MatchExact MatchKind = "exact"
	// MatchHeuristic means the book was found by scanning catalog rows that
	// predate the identifier store.
	MatchHeuristic MatchKind = "heuristic"
)

// Lookup is the bag of identifiers a caller knows for a book. Values are
// normalized before matching.
type Lookup = models.Identifiers

type Resolution struct {
	Book *models.HiveBook
	Kind MatchKind
}

// Resolve finds the canonical book for a lookup. The identifier store is
// consulted first; failing that, catalog rows are matched by ID, Goodreads
// source, then ISBNs stored in meta. A heuristic hit back-fills the store so
// the same lookup resolves exactly next time.
func (svc *Service) Resolve(ctx context.Context, lookup Lookup) (*Resolution, error) {
	ids := identifiers.Normalize(lookup)
	if ids.HiveID == "" && ids.IsEmpty() {
		return nil, ErrNoIdentifiers
	}

	row, err := svc.LookupIdentifiers(ctx, ids)
	if err != nil {
		return nil, err
	}
	if row != nil {
		book, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &row.HiveID})
		if err == nil {
			return &Resolution{Book: book, Kind: MatchExact}, nil
		}
		if !errors.Is(err, errcodes.NotFound("Book")) {
			return nil, err
		}
	}

	book, err := svc.resolveHeuristic(ctx, ids)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, errcodes.NotFound("Book")
	}

	derived := identifiers.Derive(book)
	if !derived.IsEmpty() {
		if err := svc.UpsertIdentifiers(ctx, *derived); err != nil {
			logger.FromContext(ctx).Err(err).Warn("failed to back-fill identifiers", logger.Data{"hive_id": book.ID})
		}
	}

	return &Resolution{Book: book, Kind: MatchHeuristic}, nil
}

func (svc *Service) resolveHeuristic(ctx context.Context, ids models.Identifiers) (*models.HiveBook, error) {
	if ids.HiveID != "" {
		book, err := svc.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("hb.id = ?", ids.HiveID)
		})
		if book != nil || err != nil {
			return book, err
		}
	}

	if ids.GoodreadsID != "" {
		gid := ids.GoodreadsID
		book, err := svc.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("hb.source = ?", models.SourceGoodreads).
				WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
					// The ID must end the path segment so /show/123 doesn't
					// match /show/1234.
					lit := "%/book/show/" + escapeLike(gid)
					return q.
						Where("hb.source_id = ?", gid).
						WhereOr(`hb.source_url LIKE ? ESCAPE '\'`, lit).
						WhereOr(`hb.source_url LIKE ? ESCAPE '\'`, lit+".%").
						WhereOr(`hb.source_url LIKE ? ESCAPE '\'`, lit+"-%").
						WhereOr(`hb.source_url LIKE ? ESCAPE '\'`, lit+"?%")
				})
		})
		if book != nil || err != nil {
			return book, err
		}
	}

	if ids.ISBN10 != "" || ids.ISBN13 != "" {
		book, err := svc.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				// Mirror NormalizeISBN / NormalizeISBN13 in SQL for rows whose
				// meta was written before normalization existed.
				if ids.ISBN10 != "" {
					q = q.WhereOr(`UPPER(REPLACE(REPLACE(REPLACE(TRIM(json_extract(hb.meta, '$.isbn')), '-', ''), ' ', ''), char(9), '')) = ?`, ids.ISBN10)
				}
				if ids.ISBN13 != "" {
					q = q.WhereOr(`REPLACE(REPLACE(REPLACE(TRIM(json_extract(hb.meta, '$.isbn13')), '-', ''), ' ', ''), char(9), '') = ?`, ids.ISBN13)
				}
				return q
			})
		})
		if book != nil || err != nil {
			return book, err
		}
	}

	return nil, nil
}

func (svc *Service) findOne(ctx context.Context, apply func(*bun.SelectQuery) *bun.SelectQuery) (*models.HiveBook, error) {
	book := &models.HiveBook{}
	err := apply(svc.db.NewSelect().Model(book)).
		Order("hb.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	return book, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
