package search

import (
	"context"
	"strings"

	"github.com/bookhive/bookhive/pkg/identifiers"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

type Service struct {
	db    *bun.DB
	index *Index
}

func NewService(db *bun.DB, index *Index) *Service {
	return &Service{db, index}
}

// Index exposes the underlying index for writers such as enrichment.
func (svc *Service) Index() *Index {
	return svc.index
}

// SearchBooks searches the local catalog. A query that is itself an ISBN or
// Goodreads ID puts the exactly matching book first.
func (svc *Service) SearchBooks(ctx context.Context, query string, limit, offset int) ([]*models.HiveBook, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*models.HiveBook{}, 0, nil
	}

	ids := []string{}
	seen := map[string]bool{}

	// Identifier matches only go on the first page.
	if offset == 0 {
		idMatches, err := svc.searchByIdentifier(ctx, query)
		if err != nil {
			return nil, 0, errors.WithStack(err)
		}
		for _, id := range idMatches {
			ids = append(ids, id)
			seen[id] = true
		}
	}

	hits, total, err := svc.index.Search(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	for _, h := range hits {
		if !seen[h.ID] && len(ids) < limit {
			ids = append(ids, h.ID)
			seen[h.ID] = true
		}
	}

	books, err := svc.loadInOrder(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	count := int(total)
	if count < len(books) {
		count = len(books)
	}
	return books, count, nil
}

func (svc *Service) searchByIdentifier(ctx context.Context, query string) ([]string, error) {
	var column, value string
	switch identifiers.DetectType(query) {
	case identifiers.TypeHiveID:
		return []string{query}, nil
	case identifiers.TypeISBN10:
		column, value = "isbn10", identifiers.BareISBN(query)
	case identifiers.TypeISBN13:
		column, value = "isbn13", identifiers.BareISBN(query)
	case identifiers.TypeGoodreads:
		column, value = "goodreads_id", identifiers.NormalizeGoodreadsID(query)
	default:
		return nil, nil
	}

	var ids []string
	err := svc.db.NewSelect().
		Model((*models.BookIdentifiersRow)(nil)).
		Column("hive_id").
		Where("? = ?", bun.Ident(column), value).
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ids, nil
}

// loadInOrder fetches catalog rows for ids, keeping the given order and
// skipping IDs that are no longer in the catalog.
func (svc *Service) loadInOrder(ctx context.Context, ids []string) ([]*models.HiveBook, error) {
	if len(ids) == 0 {
		return []*models.HiveBook{}, nil
	}

	var rows []*models.HiveBook
	err := svc.db.NewSelect().
		Model(&rows).
		Where("hb.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	byID := make(map[string]*models.HiveBook, len(rows))
	for _, b := range rows {
		byID[b.ID] = b
	}
	books := make([]*models.HiveBook, 0, len(ids))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			books = append(books, b)
		}
	}
	return books, nil
}

// Reindex rebuilds the index from every catalog row.
func (svc *Service) Reindex(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)
	total := 0

	for offset := 0; ; offset += batchSize {
		var books []*models.HiveBook
		err := svc.db.NewSelect().
			Model(&books).
			Order("hb.id ASC").
			Limit(batchSize).
			Offset(offset).
			Scan(ctx)
		if err != nil {
			return total, errors.WithStack(err)
		}
		if len(books) == 0 {
			break
		}
		if err := svc.index.IndexBooks(books); err != nil {
			return total, err
		}
		total += len(books)
	}

	log.Info("reindexed catalog", logger.Data{"count": total})
	return total, nil
}
