package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const batchSize = 500

// Index is the full-text index over catalog books. All methods are safe for
// concurrent use.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

// Hit is one matching catalog book ID with its score.
type Hit struct {
	ID    string
	Score float64
}

// Open opens the index under dir, creating or rebuilding it when missing,
// corrupt or built with an older mapping. An empty dir gives an in-memory
// index.
func Open(dir string) (*Index, error) {
	log := logger.New()

	if dir == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return &Index{index: idx}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	indexPath := filepath.Join(dir, "catalog.bleve")
	versionPath := filepath.Join(dir, "catalog.version")

	var idx bleve.Index
	if _, err := os.Stat(indexPath); err == nil {
		version, readErr := os.ReadFile(versionPath)
		if readErr == nil && strings.TrimSpace(string(version)) == mappingVersion {
			idx, err = bleve.Open(indexPath)
			if err != nil {
				log.Err(err).Warn("failed to open search index, recreating", logger.Data{"path": indexPath})
				idx = nil
			}
		} else {
			log.Info("search index mapping changed, recreating", logger.Data{"path": indexPath, "version": mappingVersion})
		}
		if idx == nil {
			if err := os.RemoveAll(indexPath); err != nil {
				return nil, errors.WithStack(err)
			}
		}
	}

	if idx == nil {
		var err error
		idx, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create search index")
		}
		if err := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); err != nil {
			log.Err(err).Warn("failed to write search index version")
		}
		log.Info("created search index", logger.Data{"path": indexPath})
	}

	return &Index{index: idx, path: indexPath}, nil
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return errors.WithStack(i.index.Close())
}

func toDocument(book *models.HiveBook) map[string]interface{} {
	doc := map[string]interface{}{
		"title":   book.Title,
		"authors": strings.Join(book.AuthorList(), " "),
	}
	if book.Series != nil {
		doc["series"] = book.Series.Title
	}
	if book.Description != nil {
		doc["description"] = *book.Description
	}
	if len(book.Genres) > 0 {
		doc["genres"] = book.Genres
	}
	if book.RatingCount != nil {
		doc["rating_count"] = float64(*book.RatingCount)
	}
	return doc
}

// IndexBook adds or replaces a single book.
func (i *Index) IndexBook(book *models.HiveBook) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return errors.WithStack(i.index.Index(book.ID, toDocument(book)))
}

// IndexBooks adds or replaces books in batches.
func (i *Index) IndexBooks(books []*models.HiveBook) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	for start := 0; start < len(books); start += batchSize {
		end := min(start+batchSize, len(books))
		batch := i.index.NewBatch()
		for _, book := range books[start:end] {
			if err := batch.Index(book.ID, toDocument(book)); err != nil {
				return errors.Wrapf(err, "failed to index %s", book.ID)
			}
		}
		if err := i.index.Batch(batch); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (i *Index) Delete(id string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return errors.WithStack(i.index.Delete(id))
}

func (i *Index) DocCount() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n, err := i.index.DocCount()
	return n, errors.WithStack(err)
}

// Search matches q against titles, authors and series. Results are ordered
// by relevance.
func (i *Index) Search(ctx context.Context, q string, limit, offset int) ([]Hit, uint64, error) {
	q = SanitizeQuery(q)
	if q == "" {
		return nil, 0, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(buildQuery(q), limit, offset, false)
	req.SortBy([]string{"-_score", "-rating_count"})

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, res.Total, nil
}

func buildQuery(q string) query.Query {
	titleMatch := bleve.NewMatchQuery(q)
	titleMatch.SetField("title")
	titleMatch.SetBoost(3.0)

	authorMatch := bleve.NewMatchQuery(q)
	authorMatch.SetField("authors")
	authorMatch.SetBoost(2.0)

	seriesMatch := bleve.NewMatchQuery(q)
	seriesMatch.SetField("series")
	seriesMatch.SetBoost(1.5)

	fuzzy := bleve.NewFuzzyQuery(strings.ToLower(q))
	fuzzy.SetFuzziness(1)
	fuzzy.SetField("title")
	fuzzy.SetBoost(0.8)

	queries := []query.Query{titleMatch, authorMatch, seriesMatch, fuzzy}

	// Prefix on the last word for type-ahead.
	words := strings.Fields(strings.ToLower(q))
	if last := words[len(words)-1]; len(last) >= 2 {
		prefix := bleve.NewPrefixQuery(last)
		prefix.SetField("title")
		prefix.SetBoost(0.5)
		queries = append(queries, prefix)
	}

	return bleve.NewDisjunctionQuery(queries...)
}
