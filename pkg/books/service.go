// Package books is the read side of the catalog: search with Goodreads
// fallback and the assembled book view behind getBook and the book page.
package books

import (
	"context"

	"github.com/bookhive/bookhive/pkg/buzzes"
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/goodreads"
	"github.com/bookhive/bookhive/pkg/identifiers"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/search"
	"github.com/bookhive/bookhive/pkg/tasks"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	SourceCatalog   = "catalog"
	SourceGoodreads = "goodreads"

	reviewsLimit = 50
)

// Searcher runs an external title/author search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]*goodreads.SearchResult, error)
}

type Service struct {
	catalog   *catalog.Service
	search    *search.Service
	external  Searcher
	pool      *tasks.Pool
	enricher  userbooks.Enricher
	userBooks *userbooks.Service
	buzzes    *buzzes.Service
}

func NewService(
	catalogService *catalog.Service,
	searchService *search.Service,
	external Searcher,
	pool *tasks.Pool,
	enricher userbooks.Enricher,
	userBookService *userbooks.Service,
	buzzService *buzzes.Service,
) *Service {
	return &Service{
		catalog:   catalogService,
		search:    searchService,
		external:  external,
		pool:      pool,
		enricher:  enricher,
		userBooks: userBookService,
		buzzes:    buzzService,
	}
}

type SearchResult struct {
	Books  []*models.HiveBook `json:"books"`
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Source string             `json:"source"`

	populate *tasks.Handle
}

// SearchBooks searches the local catalog. When the first page comes back
// empty the query goes to Goodreads instead, and the scraped rows are added
// to the catalog in the background.
func (svc *Service) SearchBooks(ctx context.Context, query string, limit, offset int) (*SearchResult, error) {
	books, total, err := svc.search.SearchBooks(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	res := &SearchResult{Books: books, Total: total, Offset: offset, Source: SourceCatalog}
	if len(books) > 0 || offset > 0 || svc.external == nil {
		return res, nil
	}

	scraped, err := svc.external.Search(ctx, query)
	if err != nil {
		logger.FromContext(ctx).Err(err).Warn("goodreads search failed", logger.Data{"query": query})
		return res, nil
	}

	seen := map[string]bool{}
	found := []*models.HiveBook{}
	for _, r := range scraped {
		book := r.HiveBook()
		if book.Title == "" || book.Authors == "" {
			continue
		}
		book.ID = catalog.HiveID(book.Title, book.PrimaryAuthor())
		if seen[book.ID] {
			continue
		}
		seen[book.ID] = true
		book.Identifiers = identifiers.Derive(book)
		found = append(found, book)
	}

	res.populate = svc.populate(found)
	res.Source = SourceGoodreads
	res.Total = len(found)
	if len(found) > limit {
		found = found[:limit]
	}
	res.Books = found
	return res, nil
}

// populate upserts scraped rows into the catalog and the search index.
func (svc *Service) populate(books []*models.HiveBook) *tasks.Handle {
	if len(books) == 0 || svc.pool == nil {
		return tasks.Completed("populate-catalog", nil)
	}
	rows := make([]*models.HiveBook, len(books))
	for i, b := range books {
		c := *b
		rows[i] = &c
	}
	return svc.pool.Submit("populate-catalog", func(ctx context.Context) error {
		for _, book := range rows {
			if err := svc.catalog.UpsertBook(ctx, book); err != nil {
				return err
			}
		}
		return errors.WithStack(svc.search.Index().IndexBooks(rows))
	})
}

// BookDetail is a catalog book with its community data and, for a signed-in
// viewer, their own record of it.
type BookDetail struct {
	Book     *models.HiveBook   `json:"book"`
	UserBook *models.UserBook   `json:"userBook,omitempty"`
	Reviews  []*models.UserBook `json:"reviews"`
	Comments []*models.Buzz     `json:"comments"`
}

// Detail assembles the book view. Stale catalog rows are queued for
// enrichment without waiting for it.
func (svc *Service) Detail(ctx context.Context, hiveID, viewerDID string) (*BookDetail, error) {
	book, err := svc.catalog.RetrieveBook(ctx, catalog.RetrieveBookOptions{ID: &hiveID})
	if err != nil {
		return nil, err
	}
	if svc.enricher != nil {
		svc.enricher.Submit(book)
	}

	limit := reviewsLimit
	reviews, err := svc.userBooks.ListUserBooks(ctx, userbooks.ListUserBooksOptions{
		HiveID:   &hiveID,
		Reviewed: true,
		Limit:    &limit,
	})
	if err != nil {
		return nil, err
	}

	comments, err := svc.buzzes.ListBuzzes(ctx, buzzes.ListBuzzesOptions{HiveID: &hiveID})
	if err != nil {
		return nil, err
	}

	detail := &BookDetail{Book: book, Reviews: reviews, Comments: comments}
	if viewerDID != "" {
		ub, err := svc.userBooks.RetrieveUserBook(ctx, userbooks.RetrieveUserBookOptions{UserDID: &viewerDID, HiveID: &hiveID})
		if err != nil && !errors.Is(err, errcodes.NotFound("Book")) {
			return nil, err
		}
		detail.UserBook = ub
	}
	if detail.Reviews == nil {
		detail.Reviews = []*models.UserBook{}
	}
	if detail.Comments == nil {
		detail.Comments = []*models.Buzz{}
	}
	return detail, nil
}

// Identifiers resolves any known identifier of a book to the full set.
func (svc *Service) Identifiers(ctx context.Context, lookup catalog.Lookup) (*models.Identifiers, error) {
	res, err := svc.catalog.Resolve(ctx, lookup)
	if err != nil {
		return nil, err
	}
	ids := res.Book.Identifiers
	if ids.IsEmpty() {
		ids = identifiers.Derive(res.Book)
	}
	out := *ids
	out.HiveID = res.Book.ID
	return &out, nil
}
