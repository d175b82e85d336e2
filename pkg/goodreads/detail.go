package goodreads

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/html"
)

// Detail is everything scraped from a single book page.
type Detail struct {
	Title       string
	Authors     []string
	Description string
	Cover       string
	// Rating is on Goodreads' 0-5 scale.
	Rating      float64
	RatingCount int
	Genres      []string
	Series      *models.HiveBookSeries
	Meta        models.HiveBookMeta
}

// ErrNoBookData is returned when a page has neither structured data block.
var ErrNoBookData = errors.New("no book data found on goodreads page")

var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote)[\s>/]`)

// Detail fetches and parses the book page at sourceURL.
func (c *Client) Detail(ctx context.Context, sourceURL string) (*Detail, error) {
	target, err := c.resolve(sourceURL)
	if err != nil {
		return nil, err
	}
	doc, err := c.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return parseDetail(doc)
}

type ldBook struct {
	Type          string `json:"@type"`
	Name          string `json:"name"`
	Image         string `json:"image"`
	NumberOfPages int    `json:"numberOfPages"`
	InLanguage    string `json:"inLanguage"`
	ISBN          string `json:"isbn"`
	Author        []struct {
		Name string `json:"name"`
	} `json:"author"`
	AggregateRating *struct {
		RatingValue float64 `json:"ratingValue"`
		RatingCount int     `json:"ratingCount"`
	} `json:"aggregateRating"`
}

type nextData struct {
	Props struct {
		PageProps struct {
			ApolloState map[string]json.RawMessage `json:"apolloState"`
		} `json:"pageProps"`
	} `json:"props"`
}

type apolloRef struct {
	Ref string `json:"__ref"`
}

type apolloBook struct {
	Typename    string `json:"__typename"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	BookGenres  []struct {
		Genre struct {
			Name string `json:"name"`
		} `json:"genre"`
	} `json:"bookGenres"`
	BookSeries []struct {
		UserPosition string    `json:"userPosition"`
		Series       apolloRef `json:"series"`
	} `json:"bookSeries"`
	PrimaryContributorEdge *struct {
		Node apolloRef `json:"node"`
	} `json:"primaryContributorEdge"`
	SecondaryContributorEdges []struct {
		Node apolloRef `json:"node"`
		Role string    `json:"role"`
	} `json:"secondaryContributorEdges"`
	Details *struct {
		ISBN            string   `json:"isbn"`
		ISBN13          string   `json:"isbn13"`
		Publisher       string   `json:"publisher"`
		NumPages        int      `json:"numPages"`
		PublicationTime *float64 `json:"publicationTime"`
		Language        *struct {
			Name string `json:"name"`
		} `json:"language"`
	} `json:"details"`
	Work *apolloRef `json:"work"`
}

type apolloWork struct {
	Stats *struct {
		AverageRating    float64 `json:"averageRating"`
		RatingsCount     int     `json:"ratingsCount"`
		RatingsCountDist []int   `json:"ratingsCountDist"`
	} `json:"stats"`
}

type apolloNamed struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	WebURL string `json:"webUrl"`
}

func parseDetail(doc *html.Node) (*Detail, error) {
	d := &Detail{}
	found := false

	for _, script := range findAll(doc, byAttr("script", "type", "application/ld+json")) {
		var ld ldBook
		if err := json.Unmarshal([]byte(rawText(script)), &ld); err != nil || ld.Type != "Book" {
			continue
		}
		found = true
		d.Title = ld.Name
		d.Cover = ld.Image
		for _, a := range ld.Author {
			d.Authors = append(d.Authors, a.Name)
		}
		if ld.AggregateRating != nil {
			d.Rating = ld.AggregateRating.RatingValue
			d.RatingCount = ld.AggregateRating.RatingCount
		}
		if ld.NumberOfPages > 0 {
			n := ld.NumberOfPages
			d.Meta.NumPages = &n
		}
		d.Meta.Language = ld.InLanguage
		d.Meta.ISBN13 = ld.ISBN
		break
	}

	if script := findFirst(doc, byAttr("script", "id", "__NEXT_DATA__")); script != nil {
		var nd nextData
		if err := json.Unmarshal([]byte(rawText(script)), &nd); err == nil {
			if applyApollo(d, nd.Props.PageProps.ApolloState) {
				found = true
			}
		}
	}

	if !found {
		return nil, errors.WithStack(ErrNoBookData)
	}
	return d, nil
}

// applyApollo fills d from the page's Apollo cache. It reports whether a
// book entry was present.
func applyApollo(d *Detail, state map[string]json.RawMessage) bool {
	var book *apolloBook
	for key, raw := range state {
		if !strings.HasPrefix(key, "Book:") {
			continue
		}
		var b apolloBook
		if err := json.Unmarshal(raw, &b); err != nil || b.Title == "" {
			continue
		}
		// The page's own book is the one carrying details; related books
		// are stubs.
		if b.Details != nil {
			book = &b
			break
		}
		if book == nil {
			book = &b
		}
	}
	if book == nil {
		return false
	}

	lookup := func(ref apolloRef, v interface{}) bool {
		raw, ok := state[ref.Ref]
		if !ok {
			return false
		}
		return json.Unmarshal(raw, v) == nil
	}

	if d.Title == "" {
		d.Title = book.Title
	}
	if d.Cover == "" {
		d.Cover = book.ImageURL
	}
	d.Description = descriptionMarkdown(book.Description)

	seen := map[string]bool{}
	for _, g := range book.BookGenres {
		name := strings.TrimSpace(g.Genre.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		d.Genres = append(d.Genres, name)
	}

	if len(book.BookSeries) > 0 {
		var s apolloNamed
		if lookup(book.BookSeries[0].Series, &s) && s.Title != "" {
			d.Series = &models.HiveBookSeries{Title: s.Title, URL: s.WebURL}
			if pos, ok := parsePosition(book.BookSeries[0].UserPosition); ok {
				d.Series.Position = &pos
			}
		}
	}

	if len(d.Authors) == 0 && book.PrimaryContributorEdge != nil {
		var c apolloNamed
		if lookup(book.PrimaryContributorEdge.Node, &c) && c.Name != "" {
			d.Authors = append(d.Authors, c.Name)
		}
	}
	for _, edge := range book.SecondaryContributorEdges {
		var c apolloNamed
		if lookup(edge.Node, &c) && c.Name != "" {
			d.Meta.SecondaryAuthors = append(d.Meta.SecondaryAuthors, c.Name)
		}
	}

	if det := book.Details; det != nil {
		if det.ISBN != "" {
			d.Meta.ISBN = det.ISBN
		}
		if det.ISBN13 != "" {
			d.Meta.ISBN13 = det.ISBN13
		}
		d.Meta.Publisher = det.Publisher
		if det.NumPages > 0 {
			n := det.NumPages
			d.Meta.NumPages = &n
		}
		if det.Language != nil && det.Language.Name != "" {
			d.Meta.Language = det.Language.Name
		}
		if det.PublicationTime != nil {
			y := time.UnixMilli(int64(*det.PublicationTime)).UTC().Year()
			d.Meta.PublicationYear = &y
		}
	}

	if book.Work != nil {
		var w apolloWork
		if lookup(*book.Work, &w) && w.Stats != nil {
			d.Rating = w.Stats.AverageRating
			d.RatingCount = w.Stats.RatingsCount
			d.Meta.RatingsDistribution = w.Stats.RatingsCountDist
		}
	}

	return true
}

func parsePosition(s string) (float64, bool) {
	pos, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return pos, true
}

// descriptionMarkdown converts an HTML description to markdown. Plain text is
// returned unchanged.
func descriptionMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !htmlTagPattern.MatchString(strings.ToLower(s)) {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(md)
}
