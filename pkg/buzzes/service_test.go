package buzzes

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/lexicon"
	"github.com/bookhive/bookhive/pkg/migrations"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type fakeRepo struct {
	mu      sync.Mutex
	did     string
	created map[string]interface{}
}

func (r *fakeRepo) DID() string { return r.did }

func (r *fakeRepo) GetRecord(context.Context, string, string) (*atproto.Record, error) {
	return nil, &atproto.Error{Status: http.StatusBadRequest, Name: "RecordNotFound"}
}

func (r *fakeRepo) ListRecords(context.Context, string, string, int) (*atproto.RecordPage, error) {
	return &atproto.RecordPage{}, nil
}

func (r *fakeRepo) CreateRecord(_ context.Context, collection, rkey string, record interface{}) (*atproto.WriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[rkey] = record
	return &atproto.WriteResult{URI: atproto.URI{DID: r.did, Collection: collection, RKey: rkey}.String(), CID: "cid-" + rkey}, nil
}

func (r *fakeRepo) PutRecord(ctx context.Context, collection, rkey string, record interface{}) (*atproto.WriteResult, error) {
	return r.CreateRecord(ctx, collection, rkey, record)
}

func (r *fakeRepo) DeleteRecord(_ context.Context, _, rkey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.created[rkey]; !ok {
		return &atproto.Error{Status: http.StatusBadRequest, Name: "RecordNotFound"}
	}
	delete(r.created, rkey)
	return nil
}

type provider struct{ repo *fakeRepo }

func (p provider) Repo(context.Context, *models.Session) (atproto.Repo, error) {
	return p.repo, nil
}

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

const reviewURI = "at://did:plc:bob/buzz.bookhive.book/3kreview"

func setup(t *testing.T) (*Service, *fakeRepo, *models.Session) {
	t.Helper()
	db := setupTestDB(t)

	review := &models.UserBook{
		URI:       reviewURI,
		CID:       "cid-review",
		UserDID:   "did:plc:bob",
		HiveID:    "bk_dune",
		Title:     "Dune",
		Authors:   "Frank Herbert",
		IndexedAt: time.Now(),
	}
	_, err := db.NewInsert().Model(review).Exec(context.Background())
	require.NoError(t, err)

	repo := &fakeRepo{did: "did:plc:alice", created: map[string]interface{}{}}
	svc := NewService(db, provider{repo})
	return svc, repo, &models.Session{DID: "did:plc:alice"}
}

func TestPostComment_OnReview(t *testing.T) {
	t.Parallel()
	svc, repo, sess := setup(t)
	ctx := context.Background()

	bz, err := svc.PostComment(ctx, sess, CommentInput{ParentURI: reviewURI, Comment: "  Loved this review  "})
	require.NoError(t, err)

	assert.Equal(t, "bk_dune", bz.HiveID)
	assert.Equal(t, "Loved this review", bz.Comment)
	assert.Equal(t, reviewURI, bz.ParentURI)
	assert.Equal(t, reviewURI, bz.BookURI)
	assert.Equal(t, "cid-review", bz.BookCID)
	require.Len(t, repo.created, 1)

	buzzes, err := svc.ListBuzzes(ctx, ListBuzzesOptions{HiveID: &bz.HiveID})
	require.NoError(t, err)
	require.Len(t, buzzes, 1)
	assert.Equal(t, bz.URI, buzzes[0].URI)
}

func TestPostComment_ReplyInheritsBook(t *testing.T) {
	t.Parallel()
	svc, _, sess := setup(t)
	ctx := context.Background()

	first, err := svc.PostComment(ctx, sess, CommentInput{ParentURI: reviewURI, Comment: "First"})
	require.NoError(t, err)

	reply, err := svc.PostComment(ctx, sess, CommentInput{ParentURI: first.URI, Comment: "Reply"})
	require.NoError(t, err)
	assert.Equal(t, first.URI, reply.ParentURI)
	assert.Equal(t, reviewURI, reply.BookURI)
	assert.Equal(t, "bk_dune", reply.HiveID)
}

func TestPostComment_Invalid(t *testing.T) {
	t.Parallel()
	svc, repo, sess := setup(t)
	ctx := context.Background()

	_, err := svc.PostComment(ctx, sess, CommentInput{ParentURI: "not-a-uri", Comment: "x"})
	assert.True(t, errcodes.HasCode(err, "validation_error"))

	_, err = svc.PostComment(ctx, sess, CommentInput{ParentURI: "at://did:plc:bob/buzz.bookhive.book/3kmissing", Comment: "x"})
	assert.ErrorIs(t, err, errcodes.NotFound("Review"))

	_, err = svc.PostComment(ctx, sess, CommentInput{ParentURI: reviewURI, Comment: "   "})
	assert.True(t, errcodes.HasCode(err, "validation_error"))

	assert.Empty(t, repo.created)
}

func TestDeleteComment(t *testing.T) {
	t.Parallel()
	svc, repo, sess := setup(t)
	ctx := context.Background()

	bz, err := svc.PostComment(ctx, sess, CommentInput{ParentURI: reviewURI, Comment: "Oops"})
	require.NoError(t, err)
	uri, err := atproto.ParseURI(bz.URI)
	require.NoError(t, err)

	deleted, err := svc.DeleteComment(ctx, sess, uri.RKey)
	require.NoError(t, err)
	assert.Equal(t, "bk_dune", deleted.HiveID)
	assert.Empty(t, repo.created)

	_, err = svc.RetrieveBuzz(ctx, bz.URI)
	assert.ErrorIs(t, err, errcodes.NotFound("Comment"))

	_, err = svc.DeleteComment(ctx, sess, uri.RKey)
	assert.ErrorIs(t, err, errcodes.NotFound("Comment"))
}

func TestIngestRecord_FillsHiveIDFromBook(t *testing.T) {
	t.Parallel()
	svc, _, _ := setup(t)
	ctx := context.Background()

	rec := &lexicon.BuzzRecord{
		Type:      lexicon.NSIDBuzz,
		Comment:   "From elsewhere",
		Parent:    lexicon.StrongRef{URI: reviewURI, CID: "cid-review"},
		Book:      lexicon.StrongRef{URI: reviewURI, CID: "cid-review"},
		CreatedAt: "2025-01-01T00:00:00.000Z",
	}
	uri := "at://did:plc:carol/buzz.bookhive.buzz/3kcarol"
	require.NoError(t, svc.IngestRecord(ctx, uri, "cid-1", "did:plc:carol", rec))

	bz, err := svc.RetrieveBuzz(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "bk_dune", bz.HiveID)
	assert.Equal(t, "did:plc:carol", bz.UserDID)
}
