package binder

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/go-playground/validator/v10"
)

var (
	dateRE   = regexp.MustCompile(`^\d{4}-(0[0-9]|1[0-2])-(0[0-9]|1[0-9]|2[0-9]|3[0-1])$`)
	hiveIDRE = regexp.MustCompile(`^bk_[A-Za-z0-9_-]{20}$`)
)

// dateValidator ensures the value matches the format YYYY-MM-DD or the empty
// string. The reason the empty string is allowed is that this validator can be
// used to clear out values. However, this is only useful in that case, so if
// you're using this validator but want the value to be required, add a `ne=` to
// the validate tag so that the empty string is disallowed.
func dateValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return dateRE.MatchString(value)
}

// urlValidator accepts absolute http(s) URLs.
func urlValidator(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func didValidator(fl validator.FieldLevel) bool {
	return atproto.IsDID(fl.Field().String())
}

// atURIValidator accepts record URIs (at://did/collection/rkey). Bare repo
// URIs aren't enough to point at anything we store.
func atURIValidator(fl validator.FieldLevel) bool {
	_, err := atproto.ParseURI(fl.Field().String())
	return err == nil
}

func hiveIDValidator(fl validator.FieldLevel) bool {
	return hiveIDRE.MatchString(strings.TrimSpace(fl.Field().String()))
}
