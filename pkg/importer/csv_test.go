package importer

import (
	"strings"
	"testing"

	"github.com/bookhive/bookhive/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `Book Id,Title,Author,Author l-f,Additional Authors,ISBN,ISBN13,My Rating,Average Rating,Publisher,Binding,Number of Pages,Year Published,Original Publication Year,Date Read,Date Added,Bookshelves,Bookshelves with positions,Exclusive Shelf,My Review,Spoiler,Private Notes,Read Count,Owned Copies
234225,Dune,Frank Herbert,"Herbert, Frank",,"=""0441013597""","=""9780441013593""",5,4.27,Ace,Paperback,658,2005,1965,2024/02/11,2023/12/01,,,read,"Worth it.<br/><br/>The <b>spice</b> must flow.",,,1,0
77566,Hyperion,Dan Simmons,"Simmons, Dan",,"=""""","=""""",0,4.25,Bantam,Paperback,482,1990,1989,,2024/01/05,,,to-read,,,,0,0
1234,Good Omens,Terry Pratchett,"Pratchett, Terry",Neil Gaiman,"=""""","=""""",4,4.25,,Paperback,,2006,1990,,2024/01/05,owned,,owned,,,,0,1
`

func TestParseCSV(t *testing.T) {
	t.Parallel()

	rows, err := ParseCSV(strings.NewReader(sampleExport))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	dune := rows[0]
	assert.Equal(t, "234225", dune.GoodreadsID)
	assert.Equal(t, "0441013597", dune.ISBN)
	assert.Equal(t, "9780441013593", dune.ISBN13)
	assert.Equal(t, 5, dune.Rating)
	require.NotNil(t, dune.Pages)
	assert.Equal(t, 658, *dune.Pages)
	assert.Equal(t, "read", dune.Shelf)

	assert.Empty(t, rows[1].ISBN)
	assert.Equal(t, []string{"Neil Gaiman"}, rows[2].AdditionalAuthors)
	assert.True(t, rows[2].Owned)
}

func TestParseCSV_RejectsOtherFiles(t *testing.T) {
	t.Parallel()

	_, err := ParseCSV(strings.NewReader("name,email\nalice,a@example.com\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Book Id")

	_, err = ParseCSV(strings.NewReader(""))
	require.Error(t, err)
}

func TestRowInput(t *testing.T) {
	t.Parallel()

	rows, err := ParseCSV(strings.NewReader(sampleExport))
	require.NoError(t, err)

	in := rows[0].Input("bk_dune")
	assert.Equal(t, "bk_dune", in.Lookup.HiveID)
	require.NotNil(t, in.Status)
	assert.Equal(t, models.StatusFinished, *in.Status)
	require.NotNil(t, in.FinishedAt)
	assert.Equal(t, "2024-02-11", *in.FinishedAt)
	require.NotNil(t, in.Stars)
	assert.Equal(t, 10, *in.Stars)
	require.NotNil(t, in.Review)
	assert.Contains(t, *in.Review, "**spice**")
	assert.NotContains(t, *in.Review, "<br")

	in = rows[1].Input("bk_hyperion")
	assert.Equal(t, models.StatusWantToRead, *in.Status)
	assert.Nil(t, in.Stars)
	assert.Nil(t, in.FinishedAt)
	assert.Nil(t, in.Review)

	in = rows[2].Input("bk_omens")
	assert.Equal(t, models.StatusOwned, *in.Status)
}

func TestRowHiveBook(t *testing.T) {
	t.Parallel()

	rows, err := ParseCSV(strings.NewReader(sampleExport))
	require.NoError(t, err)

	book := rows[2].HiveBook()
	assert.Equal(t, "Good Omens", book.Title)
	assert.Equal(t, []string{"Terry Pratchett", "Neil Gaiman"}, book.AuthorList())
	assert.NotEmpty(t, book.ID)
	assert.Equal(t, book.ID, book.Identifiers.HiveID)
	assert.Equal(t, "1234", book.Identifiers.GoodreadsID)
	require.NotNil(t, book.SourceURL)
	assert.Equal(t, "https://www.goodreads.com/book/show/1234", *book.SourceURL)
}
