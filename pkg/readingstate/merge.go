package readingstate

import (
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/lexicon"
	"github.com/bookhive/bookhive/pkg/models"
)

// Rule says where a field of the written record comes from when a user's
// update is merged with the record already in their repo.
type Rule string

const (
	// RuleRemote keeps the stored value. The client's value is only used
	// when there is no stored record yet.
	RuleRemote Rule = "remote"
	// RuleInferred runs the field through Apply.
	RuleInferred Rule = "inferred"
	// RuleClient takes the client's value when supplied, else the stored one.
	RuleClient Rule = "client"
	// RuleRemoteOrCatalog keeps the stored value, else derives it from the
	// catalog.
	RuleRemoteOrCatalog Rule = "remote_or_catalog"
)

// Precedence is the merge table, keyed by record field.
var Precedence = map[string]Rule{
	"hiveId":       RuleRemote,
	"title":        RuleRemote,
	"authors":      RuleRemote,
	"cover":        RuleRemote,
	"createdAt":    RuleRemote,
	"status":       RuleInferred,
	"startedAt":    RuleInferred,
	"finishedAt":   RuleInferred,
	"stars":        RuleClient,
	"review":       RuleClient,
	"bookProgress": RuleClient,
	"identifiers":  RuleRemoteOrCatalog,
}

// Draft is a client's add-or-update request for one book.
type Draft struct {
	HiveID  string
	Title   string
	Authors string
	Cover   *lexicon.BlobRef
	Stars   *int
	Review  *string
	Update
}

func pickString(rule Rule, remote *lexicon.BookRecord, remoteVal, clientVal string) string {
	if rule == RuleRemote && remote != nil && remoteVal != "" {
		return remoteVal
	}
	if clientVal != "" {
		return clientVal
	}
	return remoteVal
}

func pickPtr[T any](rule Rule, remote *lexicon.BookRecord, remoteVal, clientVal *T) *T {
	switch rule {
	case RuleRemote, RuleRemoteOrCatalog:
		if remote != nil && remoteVal != nil {
			return remoteVal
		}
		return clientVal
	default:
		if clientVal != nil {
			return clientVal
		}
		return remoteVal
	}
}

// Merge builds the record to write from the stored record (nil when the user
// has no record for the book) and the client's draft, following Precedence.
// catalogIDs fills in identifiers when the stored record has none.
func Merge(remote *lexicon.BookRecord, draft Draft, catalogIDs *models.Identifiers, now time.Time) (*lexicon.BookRecord, error) {
	var rv lexicon.BookRecord
	if remote != nil {
		rv = *remote
	}

	out := &lexicon.BookRecord{
		Type:      lexicon.NSIDBook,
		HiveID:    pickString(Precedence["hiveId"], remote, rv.HiveID, draft.HiveID),
		Title:     pickString(Precedence["title"], remote, rv.Title, draft.Title),
		Authors:   pickString(Precedence["authors"], remote, rv.Authors, draft.Authors),
		CreatedAt: pickString(Precedence["createdAt"], remote, rv.CreatedAt, now.UTC().Format(TimestampLayout)),
		Cover:     pickPtr(Precedence["cover"], remote, rv.Cover, draft.Cover),
		Stars:     pickPtr(Precedence["stars"], remote, rv.Stars, draft.Stars),
		Review:    pickPtr(Precedence["review"], remote, rv.Review, draft.Review),
	}
	if out.HiveID == "" || out.Title == "" || out.Authors == "" {
		return nil, errcodes.ValidationError("A book needs a hiveId, title and authors.")
	}
	if out.Stars != nil && (*out.Stars < 1 || *out.Stars > 10) {
		return nil, errcodes.ValidationError("Stars must be between 1 and 10.")
	}
	if out.Review != nil && strings.TrimSpace(*out.Review) == "" {
		out.Review = nil
	}

	prior := &State{
		StartedAt:    rv.StartedAt,
		FinishedAt:   rv.FinishedAt,
		BookProgress: rv.BookProgress.ToModel(),
	}
	if rv.Status != nil {
		if s, err := lexicon.ParseStatus(*rv.Status); err == nil {
			prior.Status = &s
		}
	}
	state, err := Apply(prior, draft.Update, now)
	if err != nil {
		return nil, err
	}
	if state.Status != nil {
		token := lexicon.StatusToken(*state.Status)
		out.Status = &token
	}
	out.StartedAt = state.StartedAt
	out.FinishedAt = state.FinishedAt
	out.BookProgress = lexicon.ProgressFromModel(state.BookProgress)

	out.Identifiers = pickPtr(Precedence["identifiers"], remote, nonEmpty(rv.Identifiers), catalogIDs)
	if out.Identifiers.IsEmpty() {
		out.Identifiers = nil
	}

	return out, nil
}

func nonEmpty(ids *models.Identifiers) *models.Identifiers {
	if ids.IsEmpty() {
		return nil
	}
	return ids
}
