package goodreads

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bookhive/bookhive/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.NewForTest()
	cfg.GoodreadsBaseURL = srv.URL
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func serveFixture(t *testing.T, name string) http.HandlerFunc {
	t.Helper()
	body, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(body)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	fixture := serveFixture(t, "search.html")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "the hobbit", r.URL.Query().Get("q"))
		assert.Equal(t, "/search", r.URL.Path)
		fixture(w, r)
	})

	results, err := client.Search(context.Background(), "  the hobbit ")
	require.NoError(t, err)
	require.Len(t, results, 2, "rows without an author are dropped")

	hobbit := results[0]
	assert.Equal(t, "The Hobbit", hobbit.Title)
	assert.Equal(t, []string{"J.R.R. Tolkien"}, hobbit.Authors)
	assert.Equal(t, "5907", hobbit.GoodreadsID)
	assert.NotContains(t, hobbit.URL, "from_search")
	assert.Contains(t, hobbit.URL, "/book/show/5907.The_Hobbit")
	assert.Equal(t, "https://images.example.com/books/1546071216i/5907._SY75_.jpg", hobbit.Thumbnail)
	assert.Equal(t, "https://images.example.com/books/1546071216i/5907.jpg", hobbit.Cover)
	assert.InDelta(t, 4.29, hobbit.Rating, 0.0001)
	assert.Equal(t, 4123456, hobbit.RatingCount)
	require.NotNil(t, hobbit.PublishYear)
	assert.Equal(t, 1937, *hobbit.PublishYear)

	towers := results[1]
	assert.Equal(t, []string{"J.R.R. Tolkien", "Alan Lee"}, towers.Authors)
	assert.Equal(t, 812, towers.RatingCount)
	assert.Nil(t, towers.PublishYear)
}

func TestSearch_EmptyQuery(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for an empty query")
	})

	results, err := client.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDetail(t *testing.T) {
	t.Parallel()
	fixture := serveFixture(t, "detail.html")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book/show/5907.The_Hobbit", r.URL.Path)
		fixture(w, r)
	})

	d, err := client.Detail(context.Background(), "https://www.goodreads.com/book/show/5907.The_Hobbit")
	require.NoError(t, err)

	assert.Equal(t, "The Hobbit", d.Title)
	assert.Equal(t, []string{"J.R.R. Tolkien"}, d.Authors)
	assert.Equal(t, []string{"Fantasy", "Classics"}, d.Genres)
	assert.InDelta(t, 4.29, d.Rating, 0.0001)
	assert.Equal(t, 4123456, d.RatingCount)
	assert.Equal(t, []int{50000, 100000, 500000, 1400000, 2073456}, d.Meta.RatingsDistribution)

	assert.Contains(t, d.Description, "**In a hole in the ground**")
	assert.NotContains(t, d.Description, "<b>")

	require.NotNil(t, d.Series)
	assert.Equal(t, "Middle Earth", d.Series.Title)
	require.NotNil(t, d.Series.Position)
	assert.InDelta(t, 0, *d.Series.Position, 0.0001)

	assert.Equal(t, "0618260307", d.Meta.ISBN)
	assert.Equal(t, "9780618260300", d.Meta.ISBN13)
	assert.Equal(t, "Houghton Mifflin", d.Meta.Publisher)
	assert.Equal(t, "English", d.Meta.Language)
	require.NotNil(t, d.Meta.NumPages)
	assert.Equal(t, 366, *d.Meta.NumPages)
	require.NotNil(t, d.Meta.PublicationYear)
	assert.Equal(t, 1937, *d.Meta.PublicationYear)
	assert.Equal(t, []string{"Alan Lee"}, d.Meta.SecondaryAuthors)
}

func TestDetail_NoBookData(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>nothing here</p></body></html>"))
	})

	_, err := client.Detail(context.Background(), "https://www.goodreads.com/book/show/1")
	assert.ErrorIs(t, err, ErrNoBookData)
}

func TestDetail_UnexpectedStatus(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Detail(context.Background(), "https://www.goodreads.com/book/show/1")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestDescriptionMarkdown_PlainTextUnchanged(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Just words & more.", descriptionMarkdown("  Just words & more. "))
}

func TestScaledRating(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 4290, ScaledRating(4.29))
	assert.Equal(t, 0, ScaledRating(0))
	assert.Equal(t, 5000, ScaledRating(5))
}
