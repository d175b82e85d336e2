package genres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/bookhive/bookhive/pkg/catalog"
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

func seed(t *testing.T) *Service {
	t.Helper()
	db := setupTestDB(t)
	cat := catalog.NewService(db)
	ctx := context.Background()

	for _, b := range []*models.HiveBook{
		{Title: "Dune", Authors: "Frank Herbert", Source: "Manual", Genres: []string{"Science Fiction", "Classics"}, RatingCount: pointerutil.Int(900)},
		{Title: "Hyperion", Authors: "Dan Simmons", Source: "Manual", Genres: []string{"Science Fiction"}, RatingCount: pointerutil.Int(300)},
		{Title: "Emma", Authors: "Jane Austen", Source: "Manual", Genres: []string{"Classics", "Romance"}, RatingCount: pointerutil.Int(500)},
		{Title: "Solaris", Authors: "Stanisław Lem", Source: "Manual", Genres: []string{"Science Fiction"}},
	} {
		require.NoError(t, cat.UpsertBook(ctx, b))
	}
	return NewService(db, cat)
}

func TestListGenres(t *testing.T) {
	t.Parallel()
	svc := seed(t)
	ctx := context.Background()

	genres, total, err := svc.ListGenresWithTotal(ctx, ListGenresOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, genres, 3)
	assert.Equal(t, &Genre{Name: "Science Fiction", BookCount: 3}, genres[0])
	assert.Equal(t, &Genre{Name: "Classics", BookCount: 2}, genres[1])
	assert.Equal(t, &Genre{Name: "Romance", BookCount: 1}, genres[2])

	genres, err = svc.ListGenres(ctx, ListGenresOptions{Search: pointerutil.String("sci")})
	require.NoError(t, err)
	require.Len(t, genres, 1)
	assert.Equal(t, "Science Fiction", genres[0].Name)

	genres, err = svc.ListGenres(ctx, ListGenresOptions{MinBooks: 2})
	require.NoError(t, err)
	assert.Len(t, genres, 2)
}

func TestBooks(t *testing.T) {
	t.Parallel()
	svc := seed(t)
	ctx := context.Background()

	books, total, err := svc.Books(ctx, "Science Fiction", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, books, 2)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, "Hyperion", books[1].Title)

	_, _, err = svc.Books(ctx, "Westerns", 10, 0)
	assert.ErrorIs(t, err, errcodes.NotFound("Genre"))
}
