// Package enrichment fills catalog rows with the metadata only a Goodreads
// book page has: description, genres, series, ISBNs and rating stats.
package enrichment

import (
	"context"
	"time"

	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/goodreads"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/tasks"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

type Outcome string

const (
	OutcomeEnriched Outcome = "enriched"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

const (
	ReasonFresh        = "recently enriched"
	ReasonNotGoodreads = "source is not Goodreads"
	ReasonNoSourceURL  = "no source url"
	ReasonFetchFailed  = "fetch failed"
)

const defaultStaleAfter = 30 * 24 * time.Hour

// Result describes what happened to one book. Fetch failures are reported
// here rather than as errors.
type Result struct {
	HiveID  string
	Outcome Outcome
	Reason  string
	Err     error
}

// DetailFetcher loads a Goodreads book page.
type DetailFetcher interface {
	Detail(ctx context.Context, sourceURL string) (*goodreads.Detail, error)
}

// Indexer receives enriched books.
type Indexer interface {
	IndexBook(book *models.HiveBook) error
}

type Service struct {
	catalog    *catalog.Service
	fetcher    DetailFetcher
	index      Indexer
	pool       *tasks.Pool
	staleAfter time.Duration
	now        func() time.Time
}

func NewService(cfg *config.Config, catalogService *catalog.Service, fetcher DetailFetcher, index Indexer, pool *tasks.Pool) *Service {
	staleAfter := cfg.EnrichmentStaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Service{
		catalog:    catalogService,
		fetcher:    fetcher,
		index:      index,
		pool:       pool,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Submit enriches book in the background. Callers may drop the handle.
func (svc *Service) Submit(book *models.HiveBook) *tasks.Handle {
	if book == nil {
		return tasks.Completed("enrich", nil)
	}
	if svc.skipReason(book) != "" {
		return tasks.Completed("enrich", nil)
	}
	// The task works on its own copy; the caller keeps using book.
	b := *book
	return svc.pool.Submit("enrich:"+b.ID, func(ctx context.Context) error {
		_, err := svc.Enrich(ctx, &b)
		return err
	})
}

func (svc *Service) skipReason(book *models.HiveBook) string {
	if book.Source != models.SourceGoodreads {
		return ReasonNotGoodreads
	}
	if book.EnrichedAt != nil && svc.now().Sub(*book.EnrichedAt) < svc.staleAfter {
		return ReasonFresh
	}
	if book.SourceURL == nil || *book.SourceURL == "" {
		return ReasonNoSourceURL
	}
	return ""
}

// Enrich fetches the book's Goodreads page and saves what it finds. The
// returned error is only set when the result couldn't be stored.
func (svc *Service) Enrich(ctx context.Context, book *models.HiveBook) (*Result, error) {
	log := logger.FromContext(ctx).Root(logger.Data{"hive_id": book.ID})
	result := &Result{HiveID: book.ID}

	if reason := svc.skipReason(book); reason != "" {
		log.Debug("skipping enrichment", logger.Data{"reason": reason})
		result.Outcome = OutcomeSkipped
		result.Reason = reason
		return result, nil
	}

	detail, err := svc.fetcher.Detail(ctx, *book.SourceURL)
	if err != nil {
		log.Err(err).Warn("goodreads detail fetch failed", logger.Data{"source_url": *book.SourceURL})
		result.Outcome = OutcomeFailed
		result.Reason = ReasonFetchFailed
		result.Err = err
		return result, nil
	}

	now := svc.now()
	apply(book, detail)
	book.EnrichedAt = &now

	if err := svc.catalog.SaveEnrichment(ctx, book); err != nil {
		return nil, errors.WithStack(err)
	}

	if svc.index != nil {
		if err := svc.index.IndexBook(book); err != nil {
			log.Err(err).Warn("failed to reindex enriched book")
		}
	}

	log.Info("enriched book", logger.Data{"genres": len(book.Genres)})
	result.Outcome = OutcomeEnriched
	return result, nil
}

// EnrichByID loads a catalog row and enriches it. Used by enrich jobs.
func (svc *Service) EnrichByID(ctx context.Context, hiveID string) (*Result, error) {
	book, err := svc.catalog.RetrieveBook(ctx, catalog.RetrieveBookOptions{ID: &hiveID})
	if err != nil {
		return nil, err
	}
	return svc.Enrich(ctx, book)
}

func apply(book *models.HiveBook, d *goodreads.Detail) {
	if d.Description != "" {
		desc := d.Description
		book.Description = &desc
	}
	if book.Cover == nil && d.Cover != "" {
		cover := d.Cover
		book.Cover = &cover
	}
	if d.Rating > 0 || d.RatingCount > 0 {
		rating := goodreads.ScaledRating(d.Rating)
		count := d.RatingCount
		book.Rating = &rating
		book.RatingCount = &count
	}
	if len(d.Genres) > 0 {
		book.Genres = d.Genres
	}
	if d.Series != nil {
		book.Series = d.Series
	}
	book.Meta = mergeMeta(book.Meta, d.Meta)
}

// mergeMeta overlays scraped values onto the stored meta. Empty scraped
// fields keep what was there.
func mergeMeta(prior *models.HiveBookMeta, scraped models.HiveBookMeta) *models.HiveBookMeta {
	m := models.HiveBookMeta{}
	if prior != nil {
		m = *prior
	}
	if scraped.Publisher != "" {
		m.Publisher = scraped.Publisher
	}
	if scraped.PublicationYear != nil {
		m.PublicationYear = scraped.PublicationYear
	}
	if scraped.Language != "" {
		m.Language = scraped.Language
	}
	if scraped.NumPages != nil {
		m.NumPages = scraped.NumPages
	}
	if scraped.ISBN != "" {
		m.ISBN = scraped.ISBN
	}
	if scraped.ISBN13 != "" {
		m.ISBN13 = scraped.ISBN13
	}
	if len(scraped.SecondaryAuthors) > 0 {
		m.SecondaryAuthors = scraped.SecondaryAuthors
	}
	if len(scraped.RatingsDistribution) > 0 {
		m.RatingsDistribution = scraped.RatingsDistribution
	}
	return &m
}
