// Package readingstate computes a user's per-book reading status, dates and
// progress from a partial update, and merges the result with the record
// already stored in their repo.
package readingstate

import (
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/lexicon"
	"github.com/bookhive/bookhive/pkg/models"
)

// TimestampLayout is how record timestamps are written: UTC with millisecond
// precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// DateLayout is the layout of started/finished dates. The times are always
// midnight UTC.
const DateLayout = TimestampLayout

var inputLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// State is the part of a user book the state machine owns.
type State struct {
	Status       *string
	StartedAt    *string
	FinishedAt   *string
	BookProgress *models.BookProgress
}

// Update is what a caller asked for. Nil fields were not supplied.
type Update struct {
	Status       *string
	StartedAt    *string
	FinishedAt   *string
	BookProgress *models.BookProgress
}

// NormalizeDate parses a bare date or a full timestamp and truncates it to
// midnight UTC of its UTC calendar day.
func NormalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range inputLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		return StartOfDay(t).Format(DateLayout), nil
	}
	return "", errcodes.ValidationError("Invalid date: " + value)
}

// StartOfDay returns midnight UTC of t's UTC calendar day.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// supplied normalizes an optional date input. Blank strings count as not
// supplied since HTML forms post empty fields.
func supplied(value *string) (*string, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	d, err := NormalizeDate(*value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// stored normalizes a date already in a record. Unparseable stored dates are
// dropped rather than failing the user's update.
func stored(value *string) *string {
	d, err := supplied(value)
	if err != nil {
		return nil
	}
	return d
}

func statusIs(status *string, allowed ...string) bool {
	if status == nil {
		for _, a := range allowed {
			if a == "" {
				return true
			}
		}
		return false
	}
	for _, a := range allowed {
		if a == *status {
			return true
		}
	}
	return false
}

// Apply computes the new state from the prior stored state (nil when the user
// has no record yet) and a partial update. Dates come from the update when
// supplied, then from the prior state, then from inference. It never
// partially applies: any validation failure returns an error and no state.
func Apply(prior *State, update Update, now time.Time) (*State, error) {
	if prior == nil {
		prior = &State{}
	}

	status := prior.Status
	if update.Status != nil && strings.TrimSpace(*update.Status) != "" {
		s, err := lexicon.ParseStatus(*update.Status)
		if err != nil {
			return nil, errcodes.ValidationError("Invalid status: " + *update.Status)
		}
		status = &s
	}

	startedAt, err := supplied(update.StartedAt)
	if err != nil {
		return nil, err
	}
	finishedAt, err := supplied(update.FinishedAt)
	if err != nil {
		return nil, err
	}

	// A start date is checked first: both dates on an unset or want-to-read
	// book land on reading.
	switch {
	case startedAt != nil && statusIs(status, "", models.StatusWantToRead):
		status = strPtr(models.StatusReading)
	case finishedAt != nil && statusIs(status, "", models.StatusWantToRead, models.StatusReading):
		status = strPtr(models.StatusFinished)
	}

	if startedAt == nil {
		startedAt = stored(prior.StartedAt)
	}
	if finishedAt == nil && !statusIs(status, models.StatusReading, models.StatusWantToRead) {
		// A stored finish date doesn't survive moving back to reading or
		// want-to-read: that's a re-read.
		finishedAt = stored(prior.FinishedAt)
	}

	today := StartOfDay(now).Format(DateLayout)
	if statusIs(status, models.StatusReading) && startedAt == nil {
		startedAt = &today
	}
	if statusIs(status, models.StatusFinished) && finishedAt == nil {
		finishedAt = &today
	}

	if startedAt != nil && finishedAt != nil && *finishedAt < *startedAt {
		return nil, errcodes.ValidationError("Finished date can't be before the started date.")
	}

	progress := prior.BookProgress
	if update.BookProgress != nil {
		p := *update.BookProgress
		progress = &p
		if progress.UpdatedAt == nil {
			t := now.UTC()
			progress.UpdatedAt = &t
		}
	}
	if statusIs(status, models.StatusFinished) {
		progress = nil
	}
	if progress != nil {
		if err := lexicon.ProgressFromModel(progress).Check(); err != nil {
			return nil, errcodes.ValidationError(err.Error())
		}
	}

	return &State{
		Status:       status,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		BookProgress: progress,
	}, nil
}

func strPtr(s string) *string {
	return &s
}
