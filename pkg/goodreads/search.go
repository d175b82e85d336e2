package goodreads

import (
	"context"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/bookhive/bookhive/pkg/identifiers"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// SearchResult is one row of a Goodreads search results page.
type SearchResult struct {
	Title       string
	Authors     []string
	URL         string
	GoodreadsID string
	Cover       string
	Thumbnail   string
	// Rating is on Goodreads' 0-5 scale.
	Rating      float64
	RatingCount int
	PublishYear *int
}

var (
	miniratingRE    = regexp.MustCompile(`([\d.]+)\s+avg rating\D+([\d,]+)\s+rating`)
	publishedRE     = regexp.MustCompile(`published\s+(\d{4})`)
	thumbnailSizeRE = regexp.MustCompile(`\._[A-Z]{2}\d+_\.`)
)

// Search runs a title/author query and returns the parsed result rows.
func (c *Client) Search(ctx context.Context, query string) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	u := *c.baseURL
	u.Path = "/search"
	u.RawQuery = url.Values{"q": {query}, "search_type": {"books"}}.Encode()

	doc, err := c.fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return c.parseSearch(doc)
}

func (c *Client) parseSearch(doc *html.Node) ([]*SearchResult, error) {
	rows := findAll(doc, byAttr("tr", "itemtype", "http://schema.org/Book"))
	results := make([]*SearchResult, 0, len(rows))

	for _, row := range rows {
		titleLink := findFirst(row, byClass("a", "bookTitle"))
		if titleLink == nil {
			continue
		}
		r := &SearchResult{
			Title: text(findFirst(titleLink, byAttr("span", "itemprop", "name"))),
			URL:   cleanBookURL(c.absolute(attr(titleLink, "href"))),
		}
		if r.Title == "" {
			r.Title = text(titleLink)
		}
		r.GoodreadsID = identifiers.GoodreadsIDFromURL(r.URL)

		for _, a := range findAll(row, byClass("a", "authorName")) {
			if name := text(findFirst(a, byAttr("span", "itemprop", "name"))); name != "" {
				r.Authors = append(r.Authors, name)
			}
		}

		if img := findFirst(row, byClass("img", "bookCover")); img != nil {
			r.Thumbnail = attr(img, "src")
			r.Cover = thumbnailSizeRE.ReplaceAllString(r.Thumbnail, ".")
		}

		if m := miniratingRE.FindStringSubmatch(text(findFirst(row, byClass("span", "minirating")))); m != nil {
			r.Rating, _ = strconv.ParseFloat(m[1], 64)
			r.RatingCount, _ = strconv.Atoi(strings.ReplaceAll(m[2], ",", ""))
		}

		if m := publishedRE.FindStringSubmatch(text(findFirst(row, byClass("span", "greyText")))); m != nil {
			if y, err := strconv.Atoi(m[1]); err == nil {
				r.PublishYear = &y
			}
		}

		if r.Title == "" || len(r.Authors) == 0 || r.GoodreadsID == "" {
			continue
		}
		results = append(results, r)
	}

	if len(rows) > 0 && len(results) == 0 {
		return nil, errors.New("goodreads search page layout not recognized")
	}
	return results, nil
}

// ScaledRating converts a 0-5 rating to the catalog's integer scale
// (rating × 1000).
func ScaledRating(rating float64) int {
	return int(math.Round(rating * 1000))
}

// HiveBook converts a search row into a catalog row. The ID is left for the
// catalog to derive.
func (r *SearchResult) HiveBook() *models.HiveBook {
	book := &models.HiveBook{
		Title:     r.Title,
		Authors:   strings.Join(r.Authors, "\t"),
		Source:    models.SourceGoodreads,
		Thumbnail: r.Thumbnail,
	}
	if r.URL != "" {
		book.SourceURL = &r.URL
	}
	if r.GoodreadsID != "" {
		book.SourceID = &r.GoodreadsID
	}
	if r.Cover != "" {
		book.Cover = &r.Cover
	}
	if r.Rating > 0 {
		rating := ScaledRating(r.Rating)
		book.Rating = &rating
	}
	if r.RatingCount > 0 {
		count := r.RatingCount
		book.RatingCount = &count
	}
	if r.PublishYear != nil {
		book.Meta = &models.HiveBookMeta{PublicationYear: r.PublishYear}
	}
	return book
}
