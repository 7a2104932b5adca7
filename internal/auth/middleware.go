package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/obs"
)

var errNoToken = common.NewAppError(common.CodeUnauthorized, "missing or invalid token", http.StatusUnauthorized, nil)

// Middleware resolves the till principal for protected routes. Tokens are
// read from the Authorization header first, then from AccessCookie.
type Middleware struct {
	Service      *Service
	AccessCookie string
}

// RequireAuth rejects requests without a valid token for a live till session.
// On success the principal is on the context and tagged for request logs.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.principal(r)
		if err != nil {
			if _, ok := common.AsAppError(err); !ok {
				err = errNoToken
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="toko-pos"`)
			common.WriteError(w, err)
			return
		}
		ctx := obs.TagPrincipal(common.WithPrincipal(r.Context(), p), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits principals holding one of roles. It must run after
// RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := common.PrincipalFrom(r.Context())
			if !ok {
				common.WriteError(w, errNoToken)
				return
			}
			if !slices.ContainsFunc(roles, func(role string) bool { return strings.EqualFold(role, p.Role) }) {
				common.JSONError(w, http.StatusForbidden, common.CodeForbidden, strings.Join(roles, " or ")+" role required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) principal(r *http.Request) (common.Principal, error) {
	if m.Service == nil {
		return common.Principal{}, errNoToken
	}
	token := bearerToken(r)
	if token == "" && m.AccessCookie != "" {
		if c, err := r.Cookie(m.AccessCookie); err == nil {
			token = strings.TrimSpace(c.Value)
		}
	}
	if token == "" {
		return common.Principal{}, errNoToken
	}
	return m.Service.Principal(token)
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
