package pages

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/books"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/profiles"
	"github.com/labstack/echo/v4"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_AllPages(t *testing.T) {
	t.Parallel()
	r, err := NewRenderer()
	require.NoError(t, err)

	sess := &models.Session{DID: "did:plc:alice", Handle: "alice.test"}
	dune := &models.HiveBook{
		ID:          "bk_dune",
		Title:       "Dune",
		Authors:     "Frank Herbert",
		Rating:      pointerutil.Int(4270),
		RatingCount: pointerutil.Int(1200000),
		Description: pointerutil.String("<b>not</b> escaped?"),
		Genres:      []string{"Science Fiction"},
	}
	mine := &models.UserBook{
		URI:     "at://did:plc:alice/buzz.bookhive.book/3kdune",
		UserDID: "did:plc:alice",
		HiveID:  "bk_dune",
		Title:   "Dune",
		Authors: "Frank Herbert",
		Status:  pointerutil.String(models.StatusFinished),
		Stars:   pointerutil.Int(9),
		Review:  pointerutil.String("Great"),
	}
	comment := &models.Buzz{URI: "at://did:plc:alice/buzz.bookhive.buzz/3kc", UserDID: "did:plc:alice", Comment: "Agreed"}

	cases := []struct {
		name string
		data page
		want []string
	}{
		{"home", page{Session: sess, Data: struct {
			Mine, Activity []*models.UserBook
			Recent         []*models.HiveBook
		}{[]*models.UserBook{mine}, nil, []*models.HiveBook{dune}}}, []string{"Your books", "/books/bk_dune", "@alice.test"}},
		{"home", page{Data: struct {
			Mine, Activity []*models.UserBook
			Recent         []*models.HiveBook
		}{}}, []string{"Log in"}},
		{"book", page{Title: "Dune", Session: sess, Data: &books.BookDetail{
			Book:     dune,
			UserBook: mine,
			Reviews:  []*models.UserBook{mine},
			Comments: []*models.Buzz{comment},
		}}, []string{"Dune", "&lt;b&gt;not&lt;/b&gt;", `value="finished" selected`, "/comments/3kc", "★★★★½"}},
		{"book", page{Data: &books.BookDetail{Book: dune}}, []string{"No reviews yet."}},
		{"profile", page{Session: sess, Data: struct{ View *profiles.View }{&profiles.View{
			Profile: &atproto.Profile{DID: "did:plc:bob", Handle: "bob.test"},
			Books:   []*models.UserBook{mine},
			Total:   1,
		}}}, []string{"@bob.test", `action="/follow"`, "Books (1)"}},
		{"error", page{Data: struct {
			Status  int
			Message string
		}{404, "Book not found."}}, []string{"404", "Book not found."}},
		{"login", page{}, []string{`name="handle"`}},
	}

	for _, tc := range cases {
		buf := &bytes.Buffer{}
		require.NoError(t, r.Render(buf, tc.name, tc.data, nil), tc.name)
		for _, w := range tc.want {
			assert.Contains(t, buf.String(), w, tc.name)
		}
	}

	assert.Error(t, r.Render(&bytes.Buffer{}, "missing", page{}, nil))
}

func TestRenderError_ForBrowsers(t *testing.T) {
	t.Parallel()
	r, err := NewRenderer()
	require.NoError(t, err)

	e := echo.New()
	e.Renderer = r
	e.HTTPErrorHandler = errcodes.NewHandler(RenderError).Handle
	e.GET("/books/:hiveId", func(echo.Context) error {
		return errcodes.NotFound("Book")
	})

	req := httptest.NewRequest(http.MethodGet, "/books/bk_missing", nil)
	req.Header.Set(echo.HeaderAccept, "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Book not found.")
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
}
