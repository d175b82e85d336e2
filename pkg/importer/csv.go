package importer

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/identifiers"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/pkg/errors"
)

// Columns of a Goodreads library export that the import reads.
const (
	colBookID        = "Book Id"
	colTitle         = "Title"
	colAuthor        = "Author"
	colAdditional    = "Additional Authors"
	colISBN          = "ISBN"
	colISBN13        = "ISBN13"
	colMyRating      = "My Rating"
	colPublisher     = "Publisher"
	colPages         = "Number of Pages"
	colYear          = "Original Publication Year"
	colDateRead      = "Date Read"
	colExclusive     = "Exclusive Shelf"
	colReview        = "My Review"
	colOwnedCopies   = "Owned Copies"
	goodreadsDateFmt = "2006/01/02"
)

var requiredColumns = []string{colBookID, colTitle, colAuthor, colExclusive}

// Row is one book from a Goodreads export.
type Row struct {
	GoodreadsID       string
	Title             string
	Author            string
	AdditionalAuthors []string
	ISBN              string
	ISBN13            string
	Rating            int
	Publisher         string
	Pages             *int
	Year              *int
	DateRead          string
	Shelf             string
	Review            string
	Owned             bool
}

// ParseCSV reads a Goodreads export. Columns are found by header name so
// exports with extra or reordered columns still parse.
func ParseCSV(r io.Reader) ([]*Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errcodes.ValidationError("The file is empty.")
	}
	if err != nil {
		return nil, errcodes.ValidationError("The file is not a valid CSV export.")
	}
	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, errcodes.ValidationError("The file is missing the " + col + " column. Is it a Goodreads library export?")
		}
	}

	var rows []*Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errcodes.ValidationError(errors.Wrap(err, "malformed CSV").Error())
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return unquoteExcel(rec[i])
		}

		row := &Row{
			GoodreadsID: get(colBookID),
			Title:       get(colTitle),
			Author:      get(colAuthor),
			ISBN:        get(colISBN),
			ISBN13:      get(colISBN13),
			Publisher:   get(colPublisher),
			Pages:       atoiPtr(get(colPages)),
			Year:        atoiPtr(get(colYear)),
			DateRead:    get(colDateRead),
			Shelf:       get(colExclusive),
			Review:      get(colReview),
		}
		if row.Title == "" {
			continue
		}
		if extra := get(colAdditional); extra != "" {
			for _, a := range strings.Split(extra, ",") {
				if a = strings.TrimSpace(a); a != "" {
					row.AdditionalAuthors = append(row.AdditionalAuthors, a)
				}
			}
		}
		row.Rating, _ = strconv.Atoi(get(colMyRating))
		if n, _ := strconv.Atoi(get(colOwnedCopies)); n > 0 {
			row.Owned = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// unquoteExcel strips the ="..." wrapping Goodreads puts around ISBNs.
func unquoteExcel(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	}
	return s
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// Lookup is the identifier set the row can be resolved by.
func (r *Row) Lookup() catalog.Lookup {
	return identifiers.Normalize(catalog.Lookup{
		ISBN10:      r.ISBN,
		ISBN13:      r.ISBN13,
		GoodreadsID: r.GoodreadsID,
	})
}

// HiveBook builds a catalog row for a book the catalog doesn't know yet.
func (r *Row) HiveBook() *models.HiveBook {
	authors := append([]string{r.Author}, r.AdditionalAuthors...)
	book := &models.HiveBook{
		Title:   r.Title,
		Authors: strings.Join(authors, "\t"),
		Source:  "goodreads",
		Meta: &models.HiveBookMeta{
			Publisher:        r.Publisher,
			PublicationYear:  r.Year,
			NumPages:         r.Pages,
			ISBN:             r.ISBN,
			ISBN13:           r.ISBN13,
			SecondaryAuthors: r.AdditionalAuthors,
		},
	}
	if r.GoodreadsID != "" {
		id := r.GoodreadsID
		u := "https://www.goodreads.com/book/show/" + id
		book.SourceID = &id
		book.SourceURL = &u
	}
	ids := r.Lookup()
	book.ID = catalog.HiveID(book.Title, book.PrimaryAuthor())
	ids.HiveID = book.ID
	book.Identifiers = &ids
	return book
}

// Input maps the row's shelf, rating, read date and review onto an update.
func (r *Row) Input(hiveID string) userbooks.UpdateInput {
	in := userbooks.UpdateInput{Lookup: catalog.Lookup{HiveID: hiveID}}

	var status string
	switch r.Shelf {
	case "read":
		status = models.StatusFinished
	case "currently-reading":
		status = models.StatusReading
	case "to-read":
		status = models.StatusWantToRead
	default:
		if r.Owned {
			status = models.StatusOwned
		}
	}
	if status != "" {
		in.Status = &status
	}

	if status == models.StatusFinished && r.DateRead != "" {
		if t, err := time.Parse(goodreadsDateFmt, r.DateRead); err == nil {
			d := t.Format(time.DateOnly)
			in.FinishedAt = &d
		}
	}
	if r.Rating >= 1 && r.Rating <= 5 {
		stars := r.Rating * 2
		in.Stars = &stars
	}
	if review := reviewMarkdown(r.Review); review != "" {
		in.Review = &review
	}
	return in
}

// reviewMarkdown converts the HTML Goodreads stores reviews as.
func reviewMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "<") {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(md)
}
