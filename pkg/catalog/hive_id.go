package catalog

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const hiveIDPrefix = "bk_"

// HiveID derives the canonical catalog ID for a title and primary author.
// Only case is folded, so "Dune"/"Frank Herbert" and "DUNE"/"frank herbert"
// share an ID.
func HiveID(title, author string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(title) + strings.ToLower(author)))
	return hiveIDPrefix + base64.RawURLEncoding.EncodeToString(sum[:])[:20]
}
