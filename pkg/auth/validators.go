package auth

import "time"

// LoginPayload is the login form.
type LoginPayload struct {
	Handle string `form:"handle" json:"handle" mod:"trim" validate:"required,max=253"`
}

type MobileLoginQuery struct {
	Handle      string `query:"handle" json:"handle" mod:"trim" validate:"required,max=253"`
	RedirectURI string `query:"redirect_uri" json:"redirect_uri" validate:"required"`
}

// TokenResponse is returned to mobile clients refreshing their token.
type TokenResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DID       string    `json:"did"`
	Handle    string    `json:"handle"`
}
