package security

import (
	"net/http"
	"time"
)

const (
	RefreshTokenCookie = "refreshToken"
	CSRFTokenCookie    = "XSRF-TOKEN"
	CSRFIDCookie       = "XSRF-ID"
)

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func SetRefreshCookie(w http.ResponseWriter, token string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    token,
		Path:     "/auth",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func SetCSRFCookies(w http.ResponseWriter, token, tokenID string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFIDCookie,
		Value:    tokenID,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearAuthCookies wipes every auth cookie. Called unconditionally on logout
// and on refresh failures; clearing is the one cleanup step that must never
// be skipped.
func ClearAuthCookies(w http.ResponseWriter, secure bool) {
	for _, c := range []struct {
		name     string
		path     string
		httpOnly bool
	}{
		{RefreshTokenCookie, "/auth", true},
		{CSRFTokenCookie, "/", false},
		{CSRFIDCookie, "/", true},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: c.httpOnly,
			Secure:   secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
