package userbooks

import (
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/models"
)

// ProgressPayload is the bookProgress object of the JSON API.
type ProgressPayload struct {
	Percent        *int `json:"percent,omitempty" validate:"omitempty,min=0,max=100"`
	CurrentPage    *int `json:"currentPage,omitempty" validate:"omitempty,min=0"`
	TotalPages     *int `json:"totalPages,omitempty" validate:"omitempty,min=1"`
	CurrentChapter *int `json:"currentChapter,omitempty" validate:"omitempty,min=0"`
	TotalChapters  *int `json:"totalChapters,omitempty" validate:"omitempty,min=1"`
}

// UpdateBookPayload is accepted both as JSON from the API and as the book
// page's form. Forms send progress as flat fields.
type UpdateBookPayload struct {
	HiveID      *string `form:"hiveId" json:"hiveId,omitempty" mod:"trim" validate:"omitempty,hiveid"`
	ISBN        *string `form:"isbn" json:"isbn,omitempty" mod:"trim" validate:"omitempty,max=32"`
	ISBN13      *string `form:"isbn13" json:"isbn13,omitempty" mod:"trim" validate:"omitempty,max=32"`
	GoodreadsID *string `form:"goodreadsId" json:"goodreadsId,omitempty" mod:"trim" validate:"omitempty,max=64"`

	Status     *string `form:"status" json:"status,omitempty" mod:"trim" validate:"omitempty,max=64"`
	StartedAt  *string `form:"startedAt" json:"startedAt,omitempty" mod:"trim" validate:"omitempty,max=64"`
	FinishedAt *string `form:"finishedAt" json:"finishedAt,omitempty" mod:"trim" validate:"omitempty,max=64"`
	Stars      *int    `form:"stars" json:"stars,omitempty" validate:"omitempty,min=1,max=10"`
	Review     *string `form:"review" json:"review,omitempty" validate:"omitempty,max=15000"`

	BookProgress *ProgressPayload `form:"-" json:"bookProgress,omitempty"`

	Percent        *int `form:"percent" json:"-" validate:"omitempty,min=0,max=100"`
	CurrentPage    *int `form:"currentPage" json:"-" validate:"omitempty,min=0"`
	TotalPages     *int `form:"totalPages" json:"-" validate:"omitempty,min=1"`
	CurrentChapter *int `form:"currentChapter" json:"-" validate:"omitempty,min=0"`
	TotalChapters  *int `form:"totalChapters" json:"-" validate:"omitempty,min=1"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// emptyToNil treats blank form fields as not supplied.
func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func (p *UpdateBookPayload) progress() *models.BookProgress {
	if p.BookProgress != nil {
		return &models.BookProgress{
			Percent:        p.BookProgress.Percent,
			CurrentPage:    p.BookProgress.CurrentPage,
			TotalPages:     p.BookProgress.TotalPages,
			CurrentChapter: p.BookProgress.CurrentChapter,
			TotalChapters:  p.BookProgress.TotalChapters,
		}
	}
	if p.Percent == nil && p.CurrentPage == nil && p.TotalPages == nil && p.CurrentChapter == nil && p.TotalChapters == nil {
		return nil
	}
	return &models.BookProgress{
		Percent:        p.Percent,
		CurrentPage:    p.CurrentPage,
		TotalPages:     p.TotalPages,
		CurrentChapter: p.CurrentChapter,
		TotalChapters:  p.TotalChapters,
	}
}

// Input converts the payload into a service update.
func (p *UpdateBookPayload) Input() UpdateInput {
	return UpdateInput{
		Lookup: catalog.Lookup{
			HiveID:      deref(p.HiveID),
			ISBN10:      deref(p.ISBN),
			ISBN13:      deref(p.ISBN13),
			GoodreadsID: deref(p.GoodreadsID),
		},
		Status:       emptyToNil(p.Status),
		StartedAt:    emptyToNil(p.StartedAt),
		FinishedAt:   emptyToNil(p.FinishedAt),
		Stars:        p.Stars,
		Review:       p.Review,
		BookProgress: p.progress(),
	}
}

type ListUserBooksQuery struct {
	Limit  int     `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=100"`
	Offset int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status *string `query:"status" json:"status,omitempty" validate:"omitempty,oneof=wantToRead reading finished abandoned owned"`
}

// UpdateBookResponse is the JSON API's reply to an update.
type UpdateBookResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Book    *models.UserBook `json:"book,omitempty"`
}
