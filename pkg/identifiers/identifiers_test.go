package identifiers

import (
	"strings"
	"testing"

	"github.com/bookhive/bookhive/pkg/models"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNormalizeISBN(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{"0316769487", "0316769487"},
		{" 0-316-76948-7 ", "0316769487"},
		{"080442957x", "080442957X"},
		{"0 8044 2957 X", "080442957X"},
		{"   ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeISBN(tt.value))
		})
	}
}

func TestNormalizeISBN13(t *testing.T) {
	assert.Equal(t, "9780316769488", NormalizeISBN13("978-0-316-76948-8"))
	assert.Equal(t, "9780316769488", NormalizeISBN13("\t978 0316769488\n"))
	assert.Equal(t, "", NormalizeISBN13(" - "))
}

func TestNormalizeISBN_IgnoresSeparatorsAndCase(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		digits := rapid.StringMatching(`[0-9]{9}[0-9xX]`).Draw(t, "isbn")

		var decorated strings.Builder
		decorated.WriteString(rapid.StringMatching(`[ \t]{0,2}`).Draw(t, "prefix"))
		for i, r := range digits {
			decorated.WriteRune(r)
			if i < len(digits)-1 {
				decorated.WriteString(rapid.SampledFrom([]string{"", "-", " ", "- "}).Draw(t, "sep"))
			}
		}
		decorated.WriteString(rapid.StringMatching(`[ \t]{0,2}`).Draw(t, "suffix"))

		upper := strings.ToUpper(digits)
		if NormalizeISBN(decorated.String()) != NormalizeISBN(upper) {
			t.Fatalf("%q and %q normalized differently", decorated.String(), upper)
		}
	})
}

func TestNormalizeISBN13_IgnoresSeparators(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		digits := rapid.StringMatching(`97[89][0-9]{10}`).Draw(t, "isbn13")

		var decorated strings.Builder
		for _, r := range digits {
			decorated.WriteString(rapid.SampledFrom([]string{"", "-", " "}).Draw(t, "sep"))
			decorated.WriteRune(r)
		}

		if got := NormalizeISBN13(decorated.String()); got != digits {
			t.Fatalf("expected %q, got %q", digits, got)
		}
	})
}

func TestNormalizeGoodreadsID(t *testing.T) {
	assert.Equal(t, "12345", NormalizeGoodreadsID("12345.some-slug"))
	assert.Equal(t, "12345", NormalizeGoodreadsID("12345"))
	assert.Equal(t, "12345", NormalizeGoodreadsID("  12345.The_Book.v2 "))
	assert.Equal(t, "", NormalizeGoodreadsID(""))

	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[1-9][0-9]{0,9}`).Draw(t, "id")
		slug := rapid.StringMatching(`[A-Za-z0-9_.-]{1,30}`).Draw(t, "slug")
		if got := NormalizeGoodreadsID(id + "." + slug); got != id {
			t.Fatalf("expected %q, got %q", id, got)
		}
		if got := NormalizeGoodreadsID(id); got != id {
			t.Fatalf("expected %q unchanged, got %q", id, got)
		}
	})
}

func TestGoodreadsIDFromURL(t *testing.T) {
	assert.Equal(t, "5107", GoodreadsIDFromURL("https://www.goodreads.com/book/show/5107.The_Catcher_in_the_Rye"))
	assert.Equal(t, "5107", GoodreadsIDFromURL("https://www.goodreads.com/book/show/5107-the-catcher"))
	assert.Equal(t, "", GoodreadsIDFromURL("https://www.goodreads.com/author/show/819"))
}

func TestDerive(t *testing.T) {
	book := &models.HiveBook{
		ID:        "bk_abcdefghijklmnopqrst",
		Source:    models.SourceGoodreads,
		SourceURL: pointerutil.String("https://www.goodreads.com/book/show/5107.The_Catcher_in_the_Rye"),
		Meta: &models.HiveBookMeta{
			ISBN:   "0-316-76948-7",
			ISBN13: "978-0316769488",
		},
	}

	ids := Derive(book)
	assert.Equal(t, &models.Identifiers{
		HiveID:      "bk_abcdefghijklmnopqrst",
		ISBN10:      "0316769487",
		ISBN13:      "9780316769488",
		GoodreadsID: "5107",
	}, ids)

	book.SourceID = pointerutil.String("999.other")
	assert.Equal(t, "999", Derive(book).GoodreadsID)

	book.Source = "Other"
	assert.Equal(t, "", Derive(book).GoodreadsID)
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected Type
	}{
		{"isbn13", "9780316769488", TypeISBN13},
		{"isbn13 hyphens", "978-0-316-76948-8", TypeISBN13},
		{"isbn10", "0316769487", TypeISBN10},
		{"isbn10 with X", "080442957X", TypeISBN10},
		{"isbn prefix", "ISBN 0316769487", TypeISBN10},
		{"goodreads", "5107", TypeGoodreads},
		{"goodreads composite", "5107.The_Catcher", TypeGoodreads},
		{"hive id", "bk_abcdefghijklmnopqrst", TypeHiveID},
		{"random", "random text", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectType(tt.value))
		})
	}
}

func TestValidateISBN10(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"0316769487", true},
		{"080442957X", true},
		{"0451524934", true},
		{"0316769488", false},
		{"123456789", false},
		{"X123456789", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateISBN10(tt.value))
		})
	}
}

func TestValidateISBN13(t *testing.T) {
	assert.True(t, ValidateISBN13("9780316769488"))
	assert.False(t, ValidateISBN13("9780316769489"))
	assert.False(t, ValidateISBN13("978031676948"))
}
