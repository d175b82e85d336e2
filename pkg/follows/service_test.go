package follows

import (
	"context"
	"database/sql"
	"testing"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/migrations"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// pagedSource serves follows two per page.
type pagedSource struct {
	follows []string
}

func (s *pagedSource) GetFollows(_ context.Context, _, cursor string, _ int) (*atproto.FollowsPage, error) {
	start := 0
	if cursor != "" {
		start = int(cursor[0] - '0')
	}
	end := start + 2
	if end > len(s.follows) {
		end = len(s.follows)
	}
	page := &atproto.FollowsPage{}
	for _, did := range s.follows[start:end] {
		page.Follows = append(page.Follows, &atproto.Profile{DID: did})
	}
	if end < len(s.follows) {
		page.Cursor = string(rune('0' + end))
	}
	return page, nil
}

type recordingRepo struct {
	atproto.Repo
	created []interface{}
}

func (r *recordingRepo) CreateRecord(_ context.Context, collection, rkey string, record interface{}) (*atproto.WriteResult, error) {
	r.created = append(r.created, record)
	return &atproto.WriteResult{URI: "at://did:plc:alice/" + collection + "/" + rkey, CID: "cid"}, nil
}

type provider struct{ repo *recordingRepo }

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

func followingDIDs(t *testing.T, svc *Service, did string) []string {
	t.Helper()
	var follows []*models.UserFollow
	err := svc.db.NewSelect().
		Model(&follows).
		Where("uf.user_did = ?", did).
		Where("uf.is_active").
		Scan(context.Background())
	require.NoError(t, err)
	dids := make([]string, 0, len(follows))
	for _, f := range follows {
		dids = append(dids, f.FollowingDID)
	}
	return dids
}

func TestSync_ReplacesGraph(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	source := &pagedSource{follows: []string{"did:plc:bob", "did:plc:carol", "did:plc:dave", "not-a-did"}}
	svc := NewService(db, source, nil)

	n, err := svc.Sync(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"did:plc:bob", "did:plc:carol", "did:plc:dave"}, followingDIDs(t, svc, "did:plc:alice"))

	source.follows = []string{"did:plc:carol", "did:plc:erin"}
	_, err = svc.Sync(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"did:plc:carol", "did:plc:erin"}, followingDIDs(t, svc, "did:plc:alice"))

	count, err := db.NewSelect().Model((*models.UserFollow)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "unfollowed edges are purged")
}

func TestSync_PageCapKeepsUnseenFollows(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	alice := "did:plc:alice"

	full := &pagedSource{follows: []string{"did:plc:bob", "did:plc:carol", "did:plc:dave"}}
	svc := NewService(db, full, nil)
	_, err := svc.Sync(ctx, alice)
	require.NoError(t, err)

	// Only the first page of a longer listing comes back.
	svc.source = &pagedSource{follows: []string{"did:plc:erin", "did:plc:bob", "did:plc:carol"}}
	svc.maxPages = 1
	n, err := svc.Sync(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t,
		[]string{"did:plc:bob", "did:plc:carol", "did:plc:dave", "did:plc:erin"},
		followingDIDs(t, svc, alice),
	)

	// A listing that finishes still purges.
	svc.maxPages = maxPages
	_, err = svc.Sync(ctx, alice)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"did:plc:erin", "did:plc:bob", "did:plc:carol"},
		followingDIDs(t, svc, alice),
	)
}

func TestFollow(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	repo := &recordingRepo{}
	svc := NewService(db, &pagedSource{}, provider{repo})
	sess := &models.Session{DID: "did:plc:alice"}

	require.NoError(t, svc.Follow(ctx, sess, "did:plc:bob"))
	require.NoError(t, svc.Follow(ctx, sess, "did:plc:bob"))
	assert.Len(t, repo.created, 1, "following twice writes one record")

	ok, err := svc.IsFollowing(ctx, "did:plc:alice", "did:plc:bob")
	require.NoError(t, err)
	assert.True(t, ok)

	err = svc.Follow(ctx, sess, "did:plc:alice")
	assert.True(t, errcodes.HasCode(err, "validation_error"))
	err = svc.Follow(ctx, sess, "bob.test")
	assert.True(t, errcodes.HasCode(err, "validation_error"))
}
