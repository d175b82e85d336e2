package identifiers

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bookhive/bookhive/pkg/models"
)

// Type represents the type of identifier.
type Type string

const (
	TypeISBN10    Type = "isbn10"
	TypeISBN13    Type = "isbn13"
	TypeGoodreads Type = "goodreadsId"
	TypeHiveID    Type = "hiveId"
	TypeUnknown   Type = ""
)

var (
	goodreadsShowRegex = regexp.MustCompile(`/book/show/(\d+)`)
	goodreadsIDRegex   = regexp.MustCompile(`^\d+$`)
	hiveIDRegex        = regexp.MustCompile(`^bk_[A-Za-z0-9_-]{20}$`)
)

// stripISBN trims the value and removes all whitespace and hyphens.
func stripISBN(value string) string {
	var result strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}

// NormalizeISBN canonicalizes an ISBN-10. An empty result means the value is
// absent.
func NormalizeISBN(value string) string {
	return strings.ToUpper(stripISBN(value))
}

// NormalizeISBN13 canonicalizes an ISBN-13. ISBN-13s are all digits, so no
// case folding happens.
func NormalizeISBN13(value string) string {
	return stripISBN(value)
}

// NormalizeGoodreadsID reduces composite "id.slug" Goodreads identifiers to
// their numeric prefix.
func NormalizeGoodreadsID(value string) string {
	value = strings.TrimSpace(value)
	if i := strings.Index(value, "."); i >= 0 {
		value = value[:i]
	}
	return value
}

// GoodreadsIDFromURL extracts the numeric ID from a /book/show/ URL.
func GoodreadsIDFromURL(url string) string {
	m := goodreadsShowRegex.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// Normalize returns a copy of ids with every field in canonical form.
func Normalize(ids models.Identifiers) models.Identifiers {
	return models.Identifiers{
		HiveID:      strings.TrimSpace(ids.HiveID),
		ISBN10:      NormalizeISBN(ids.ISBN10),
		ISBN13:      NormalizeISBN13(ids.ISBN13),
		GoodreadsID: NormalizeGoodreadsID(ids.GoodreadsID),
	}
}

// Derive computes the identifier bag of a catalog row from its metadata and
// source fields.
func Derive(book *models.HiveBook) *models.Identifiers {
	ids := &models.Identifiers{HiveID: book.ID}
	if book.Meta != nil {
		ids.ISBN10 = NormalizeISBN(book.Meta.ISBN)
		ids.ISBN13 = NormalizeISBN13(book.Meta.ISBN13)
	}
	if book.Source == models.SourceGoodreads {
		if book.SourceID != nil {
			ids.GoodreadsID = NormalizeGoodreadsID(*book.SourceID)
		}
		if ids.GoodreadsID == "" && book.SourceURL != nil {
			ids.GoodreadsID = GoodreadsIDFromURL(*book.SourceURL)
		}
	}
	return ids
}

// DetectType guesses what kind of identifier a free-form value is. Checksums
// are verified for ISBNs so that arbitrary 10 or 13 digit numbers aren't
// mistaken for them.
func DetectType(value string) Type {
	value = strings.TrimSpace(value)
	if hiveIDRegex.MatchString(value) {
		return TypeHiveID
	}

	normalized := BareISBN(value)
	if len(normalized) == 13 && ValidateISBN13(normalized) {
		return TypeISBN13
	}
	if len(normalized) == 10 && ValidateISBN10(normalized) {
		return TypeISBN10
	}
	if goodreadsIDRegex.MatchString(NormalizeGoodreadsID(value)) {
		return TypeGoodreads
	}
	return TypeUnknown
}

// BareISBN normalizes value and drops a leading "ISBN" or "ISBN:" label.
func BareISBN(value string) string {
	normalized := strings.TrimPrefix(NormalizeISBN(value), "ISBN:")
	return strings.TrimPrefix(normalized, "ISBN")
}

// ValidateISBN10 validates an ISBN-10 checksum.
// ISBN-10 uses modulo 11 with weights 10,9,8,7,6,5,4,3,2,1.
func ValidateISBN10(isbn string) bool {
	if len(isbn) != 10 {
		return false
	}

	var sum int
	for i, r := range isbn {
		var digit int
		if r == 'X' || r == 'x' {
			if i != 9 {
				return false
			}
			digit = 10
		} else if unicode.IsDigit(r) {
			digit = int(r - '0')
		} else {
			return false
		}
		sum += digit * (10 - i)
	}
	return sum%11 == 0
}

// ValidateISBN13 validates an ISBN-13 checksum (alternating weights 1 and 3).
func ValidateISBN13(isbn string) bool {
	if len(isbn) != 13 {
		return false
	}

	var sum int
	for i, r := range isbn {
		if !unicode.IsDigit(r) {
			return false
		}
		digit := int(r - '0')
		if i%2 == 0 {
			sum += digit
		} else {
			sum += digit * 3
		}
	}
	return sum%10 == 0
}
