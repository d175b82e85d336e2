package profiles

import (
	"context"
	"net/http"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/follows"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/pkg/errors"
)

// View is a profile together with the account's shelf.
type View struct {
	Profile     *atproto.Profile   `json:"profile"`
	Books       []*models.UserBook `json:"books"`
	Total       int                `json:"total"`
	IsFollowing bool               `json:"isFollowing"`
}

type Service struct {
	cache     *Cache
	userBooks *userbooks.Service
	follows   *follows.Service
}

func NewService(cache *Cache, userBookService *userbooks.Service, followService *follows.Service) *Service {
	return &Service{cache: cache, userBooks: userBookService, follows: followService}
}

// Profile loads actor's profile and books. viewerDID is empty for anonymous
// viewers.
func (svc *Service) Profile(ctx context.Context, actor, viewerDID string, limit, offset int) (*View, error) {
	p, err := svc.cache.Get(ctx, actor)
	if err != nil {
		var xe *atproto.Error
		if errors.As(err, &xe) && xe.Status == http.StatusBadRequest {
			return nil, errcodes.NotFound("Profile")
		}
		return nil, err
	}

	books, total, err := svc.userBooks.ListUserBooksWithTotal(ctx, userbooks.ListUserBooksOptions{
		Limit:   &limit,
		Offset:  &offset,
		UserDID: &p.DID,
	})
	if err != nil {
		return nil, err
	}

	view := &View{Profile: p, Books: books, Total: total}
	if viewerDID != "" && viewerDID != p.DID {
		view.IsFollowing, err = svc.follows.IsFollowing(ctx, viewerDID, p.DID)
		if err != nil {
			return nil, err
		}
	}
	return view, nil
}
