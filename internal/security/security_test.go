package security_test

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/security"
)

func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) })
}

func TestHeadersMiddlewareSetsSecurityHeaders(t *testing.T) {
	handler := security.Headers{Enable: true, EnableHSTS: true, HSTSIncludeSubdomains: true}.Middleware(status(http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddlewareDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	security.Headers{EnableHSTS: true}.Middleware(status(http.StatusOK)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
}

func TestHeadersHSTSBehindProxy(t *testing.T) {
	handler := security.Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: time.Hour, TrustForwardedProto: true}.Middleware(status(http.StatusOK))

	plain := httptest.NewRecorder()
	handler.ServeHTTP(plain, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, plain.Header().Get("Strict-Transport-Security"))
	require.Equal(t, "DENY", plain.Header().Get("X-Frame-Options"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	proxied := httptest.NewRecorder()
	handler.ServeHTTP(proxied, req)
	require.Equal(t, "max-age=3600", proxied.Header().Get("Strict-Transport-Security"))
}

func TestBodyLimit(t *testing.T) {
	limiter := security.BodyLimit{Max: 5}
	var readErr error
	var captured string
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		captured, readErr = string(data), err
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, readErr)
	require.Equal(t, "hello", captured)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("excessive"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("excessive"))
	req.ContentLength = -1
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Error(t, readErr, "streamed bodies are cut at the limit")
}

func TestCSRF(t *testing.T) {
	csrf := security.CSRF{SessionCookie: "access_token"}
	handler := csrf.Middleware(status(http.StatusAccepted))

	send := func(mutate func(*http.Request)) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/commit", nil)
		mutate(req)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusAccepted, send(func(*http.Request) {}), "no ambient credentials")
	require.Equal(t, http.StatusAccepted, send(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer abc.def")
	}))
	require.Equal(t, http.StatusForbidden, send(func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "access_token", Value: "jwt"})
	}))
	require.Equal(t, http.StatusForbidden, send(func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "access_token", Value: "jwt"})
		r.AddCookie(&http.Cookie{Name: "csrf_token", Value: "one"})
		r.Header.Set("X-CSRF-Token", "two")
	}))

	issued := httptest.NewRecorder()
	csrf.Issue(issued, httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf", nil))
	require.Equal(t, http.StatusOK, issued.Code)
	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(issued.Body.Bytes(), &body))
	cookies := issued.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, body.Data.Token, cookies[0].Value)

	require.Equal(t, http.StatusAccepted, send(func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "access_token", Value: "jwt"})
		r.AddCookie(cookies[0])
		r.Header.Set("X-CSRF-Token", body.Data.Token)
	}))
}
