package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-pos/internal/common"
)

// CSRF protects cookie-authenticated requests using the double-submit
// technique. Requests carrying a bearer token or no session cookie at all
// pass through.
type CSRF struct {
	Header        string
	Cookie        string
	SessionCookie string
	Secure        bool
	SameSite      http.SameSite
}

func (c CSRF) names() (header, cookie string) {
	header = strings.TrimSpace(c.Header)
	if header == "" {
		header = "X-CSRF-Token"
	}
	cookie = strings.TrimSpace(c.Cookie)
	if cookie == "" {
		cookie = "csrf_token"
	}
	return header, cookie
}

// Middleware enforces that state-changing cookie requests include a token
// header matching the CSRF cookie.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName, cookieName := c.names()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			next.ServeHTTP(w, r)
			return
		}
		if c.SessionCookie != "" {
			if _, err := r.Cookie(c.SessionCookie); err != nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		cookie, err := r.Cookie(cookieName)
		if token == "" || err != nil || strings.TrimSpace(cookie.Value) == "" {
			common.JSONError(w, http.StatusForbidden, common.CodeForbidden, "missing csrf token", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			common.JSONError(w, http.StatusForbidden, common.CodeForbidden, "invalid csrf token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Issue handles GET /api/v1/auth/csrf: it sets a fresh token cookie and
// returns the token for the client to echo in the header.
func (c CSRF) Issue(w http.ResponseWriter, _ *http.Request) {
	headerName, cookieName := c.names()
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "could not issue csrf token", nil)
		return
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
	common.Data(w, http.StatusOK, map[string]string{"token": token, "header": headerName})
}
