package catalog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/migrations"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newGoodreadsBook(title, author, gid string) *models.HiveBook {
	return &models.HiveBook{
		Title:     title,
		Authors:   author,
		Source:    models.SourceGoodreads,
		SourceURL: pointerutil.String("https://www.goodreads.com/book/show/" + gid + ".Slug"),
		SourceID:  pointerutil.String(gid),
		Thumbnail: "https://images.example.com/" + gid + ".jpg",
	}
}

func TestHiveID_StableAcrossCase(t *testing.T) {
	t.Parallel()
	a := HiveID("Dune", "Frank Herbert")
	b := HiveID("DUNE", "frank herbert")
	assert.Equal(t, a, b)
	assert.Len(t, a, len("bk_")+20)
	assert.Regexp(t, `^bk_[A-Za-z0-9_-]{20}$`, a)
	assert.NotEqual(t, a, HiveID("Dune Messiah", "Frank Herbert"))
}

func TestUpsertBook_KeepsEnrichedColumns(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(db)

	book := newGoodreadsBook("Dune", "Frank Herbert", "44767458")
	require.NoError(t, svc.UpsertBook(ctx, book))
	assert.Equal(t, HiveID("Dune", "Frank Herbert"), book.ID)

	now := time.Now()
	book.Meta = &models.HiveBookMeta{Publisher: "Ace"}
	book.Genres = []string{"Science Fiction", "Classics"}
	book.EnrichedAt = &now
	require.NoError(t, svc.SaveEnrichment(ctx, book))

	again := newGoodreadsBook("Dune", "Frank Herbert", "44767458")
	again.Rating = pointerutil.Int(4270)
	require.NoError(t, svc.UpsertBook(ctx, again))

	stored, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	require.NotNil(t, stored.Meta)
	assert.Equal(t, "Ace", stored.Meta.Publisher)
	assert.NotNil(t, stored.EnrichedAt)
	assert.Equal(t, 4270, *stored.Rating)

	books, err := svc.ListBooks(ctx, ListBooksOptions{Genre: pointerutil.String("Classics")})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, book.ID, books[0].ID)
}

func TestRetrieveBook_NotFound(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := NewService(db)

	_, err := svc.RetrieveBook(context.Background(), RetrieveBookOptions{ID: pointerutil.String("bk_missing")})
	assert.ErrorIs(t, err, errcodes.NotFound("Book"))
}

func TestSaveEnrichment_ReplacesGenreRows(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(db)

	book := newGoodreadsBook("Emma", "Jane Austen", "6969")
	book.Genres = []string{"Romance", "Classics"}
	require.NoError(t, svc.UpsertBook(ctx, book))

	book.Genres = []string{"Classics", "Fiction", "Classics", " "}
	require.NoError(t, svc.SaveEnrichment(ctx, book))

	var rows []*models.HiveBookGenre
	require.NoError(t, db.NewSelect().Model(&rows).Where("hive_id = ?", book.ID).Order("genre").Scan(ctx))
	require.Len(t, rows, 2)
	assert.Equal(t, "Classics", rows[0].Genre)
	assert.Equal(t, "Fiction", rows[1].Genre)
}

func TestUpdateBook_Missing(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := NewService(db)

	err := svc.UpdateBook(context.Background(), &models.HiveBook{ID: "bk_missing"}, UpdateBookOptions{Columns: []string{"title"}})
	assert.ErrorIs(t, err, errcodes.NotFound("Book"))
}
