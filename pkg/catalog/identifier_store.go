package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/bookhive/bookhive/pkg/identifiers"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func identifierRow(ids models.Identifiers, now time.Time) *models.BookIdentifiersRow {
	ids = identifiers.Normalize(ids)
	return &models.BookIdentifiersRow{
		HiveID:      ids.HiveID,
		ISBN10:      nullable(ids.ISBN10),
		ISBN13:      nullable(ids.ISBN13),
		GoodreadsID: nullable(ids.GoodreadsID),
		UpdatedAt:   now,
	}
}

// UpsertIdentifiers records the external identifiers of one book. Values
// already known are kept when the new bag leaves them out.
func (svc *Service) UpsertIdentifiers(ctx context.Context, ids models.Identifiers) error {
	return upsertIdentifiers(ctx, svc.db, ids)
}

// UpsertIdentifiersBatch records identifiers for many books in one statement.
func (svc *Service) UpsertIdentifiersBatch(ctx context.Context, batch []models.Identifiers) error {
	now := time.Now()
	rows := make([]*models.BookIdentifiersRow, 0, len(batch))
	seen := make(map[string]int, len(batch))
	for _, ids := range batch {
		if ids.HiveID == "" {
			continue
		}
		row := identifierRow(ids, now)
		// A statement can't upsert the same key twice, so later bags win.
		if i, ok := seen[row.HiveID]; ok {
			rows[i] = row
			continue
		}
		seen[row.HiveID] = len(rows)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := upsertIdentifierQuery(svc.db.NewInsert().Model(&rows)).Exec(ctx)
	return errors.WithStack(err)
}

func upsertIdentifiers(ctx context.Context, db bun.IDB, ids models.Identifiers) error {
	if ids.HiveID == "" {
		return errors.New("identifiers require a hive id")
	}
	row := identifierRow(ids, time.Now())
	_, err := upsertIdentifierQuery(db.NewInsert().Model(row)).Exec(ctx)
	return errors.WithStack(err)
}

func upsertIdentifierQuery(q *bun.InsertQuery) *bun.InsertQuery {
	return q.
		On("CONFLICT (hive_id) DO UPDATE").
		Set("isbn10 = COALESCE(EXCLUDED.isbn10, isbn10)").
		Set("isbn13 = COALESCE(EXCLUDED.isbn13, isbn13)").
		Set("goodreads_id = COALESCE(EXCLUDED.goodreads_id, goodreads_id)").
		Set("updated_at = EXCLUDED.updated_at")
}

// LookupIdentifiers finds the identifier row matching any of the supplied
// keys. The hive ID is tried on its own first; the external keys are then
// matched together. It returns nil when nothing matches.
func (svc *Service) LookupIdentifiers(ctx context.Context, ids models.Identifiers) (*models.BookIdentifiersRow, error) {
	ids = identifiers.Normalize(ids)

	if ids.HiveID != "" {
		row := &models.BookIdentifiersRow{}
		err := svc.db.NewSelect().Model(row).Where("bim.hive_id = ?", ids.HiveID).Scan(ctx)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithStack(err)
		}
	}

	if ids.IsEmpty() {
		return nil, nil
	}

	row := &models.BookIdentifiersRow{}
	err := svc.db.NewSelect().
		Model(row).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			if ids.ISBN10 != "" {
				q = q.WhereOr("bim.isbn10 = ?", ids.ISBN10)
			}
			if ids.ISBN13 != "" {
				q = q.WhereOr("bim.isbn13 = ?", ids.ISBN13)
			}
			if ids.GoodreadsID != "" {
				q = q.WhereOr("bim.goodreads_id = ?", ids.GoodreadsID)
			}
			return q
		}).
		OrderExpr("bim.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	return row, nil
}
