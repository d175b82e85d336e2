package books

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/bookhive/bookhive/pkg/buzzes"
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/goodreads"
	"github.com/bookhive/bookhive/pkg/migrations"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/search"
	"github.com/bookhive/bookhive/pkg/tasks"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type stubSearcher struct {
	results []*goodreads.SearchResult
	err     error
	calls   int
}

func (s *stubSearcher) Search(context.Context, string) ([]*goodreads.SearchResult, error) {
	s.calls++
	return s.results, s.err
}

type fixture struct {
	db      *bun.DB
	catalog *catalog.Service
	svc     *Service
	scraper *stubSearcher
}

func setup(t *testing.T) *fixture {
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

	idx, err := search.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	pool := tasks.NewPool(2)
	t.Cleanup(pool.Shutdown)

	catalogService := catalog.NewService(db)
	scraper := &stubSearcher{}
	svc := NewService(
		catalogService,
		search.NewService(db, idx),
		scraper,
		pool,
		nil,
		userbooks.NewService(db, catalogService, nil, nil, nil),
		buzzes.NewService(db, nil),
	)
	return &fixture{db: db, catalog: catalogService, svc: svc, scraper: scraper}
}

func TestSearchBooks_FallsBackToGoodreadsAndPopulatesCatalog(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()
	f.scraper.results = []*goodreads.SearchResult{
		{Title: "Piranesi", Authors: []string{"Susanna Clarke"}, URL: "https://www.goodreads.com/book/show/50202953-piranesi", GoodreadsID: "50202953", Rating: 4.2, RatingCount: 1000},
		{Title: "Piranesi", Authors: []string{"Susanna Clarke"}, URL: "https://www.goodreads.com/book/show/1-dup", GoodreadsID: "1"},
		{Title: "", Authors: []string{"Nobody"}},
	}

	res, err := f.svc.SearchBooks(ctx, "piranesi", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, SourceGoodreads, res.Source)
	require.Len(t, res.Books, 1)
	assert.Equal(t, catalog.HiveID("Piranesi", "Susanna Clarke"), res.Books[0].ID)
	assert.Equal(t, 4200, *res.Books[0].Rating)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, res.populate.Wait(waitCtx))

	stored, err := f.catalog.RetrieveBook(ctx, catalog.RetrieveBookOptions{ID: &res.Books[0].ID})
	require.NoError(t, err)
	assert.Equal(t, "50202953", *stored.SourceID)

	again, err := f.svc.SearchBooks(ctx, "piranesi", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, SourceCatalog, again.Source)
	require.Len(t, again.Books, 1)
	assert.Equal(t, 1, f.scraper.calls)
}

func TestSearchBooks_GoodreadsFailureIsNotAnError(t *testing.T) {
	t.Parallel()
	f := setup(t)
	f.scraper.err = errors.New("blocked")

	res, err := f.svc.SearchBooks(context.Background(), "anything", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Books)
	assert.Equal(t, SourceCatalog, res.Source)
}

func TestDetail(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	book := &models.HiveBook{Title: "Dune", Authors: "Frank Herbert", Source: models.SourceGoodreads}
	require.NoError(t, f.catalog.UpsertBook(ctx, book))

	now := time.Now()
	for _, ub := range []*models.UserBook{
		{URI: "at://did:plc:bob/buzz.bookhive.book/1", UserDID: "did:plc:bob", HiveID: book.ID, Title: "Dune", Authors: "Frank Herbert", Review: pointerutil.String("Great"), IndexedAt: now},
		{URI: "at://did:plc:alice/buzz.bookhive.book/2", UserDID: "did:plc:alice", HiveID: book.ID, Title: "Dune", Authors: "Frank Herbert", IndexedAt: now},
	} {
		_, err := f.db.NewInsert().Model(ub).Exec(ctx)
		require.NoError(t, err)
	}

	detail, err := f.svc.Detail(ctx, book.ID, "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, "Dune", detail.Book.Title)
	require.Len(t, detail.Reviews, 1)
	assert.Equal(t, "did:plc:bob", detail.Reviews[0].UserDID)
	require.NotNil(t, detail.UserBook)
	assert.Equal(t, "did:plc:alice", detail.UserBook.UserDID)
	assert.Empty(t, detail.Comments)

	anon, err := f.svc.Detail(ctx, book.ID, "")
	require.NoError(t, err)
	assert.Nil(t, anon.UserBook)

	_, err = f.svc.Detail(ctx, "bk_missing", "")
	assert.ErrorIs(t, err, errcodes.NotFound("Book"))
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	book := &models.HiveBook{
		Title:     "Dune",
		Authors:   "Frank Herbert",
		Source:    models.SourceGoodreads,
		SourceURL: pointerutil.String("https://www.goodreads.com/book/show/44767458-dune"),
		SourceID:  pointerutil.String("44767458"),
	}
	require.NoError(t, f.catalog.UpsertBook(ctx, book))

	ids, err := f.svc.Identifiers(ctx, catalog.Lookup{GoodreadsID: "44767458"})
	require.NoError(t, err)
	assert.Equal(t, book.ID, ids.HiveID)
	assert.Equal(t, "44767458", ids.GoodreadsID)

	_, err = f.svc.Identifiers(ctx, catalog.Lookup{})
	assert.ErrorIs(t, err, catalog.ErrNoIdentifiers)
}
