package auth

import (
	"errors"
	"net/http"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/employee"
)

// Handler exposes HTTP handlers for authentication endpoints.
type Handler struct {
	Service          *Service
	AccessCookieName string
	CookieDomain     string
	CookieSecure     bool
	CookieSameSite   http.SameSite
}

type registerRequest struct {
	UserName string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

type loginRequest struct {
	UserName string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "auth service not configured", nil)
		return
	}
	var req registerRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	e, err := h.Service.Register(r.Context(), req.UserName, req.Password, req.Email)
	if err != nil {
		common.WriteError(w, employee.ToAppError(err))
		return
	}
	common.Data(w, http.StatusCreated, e)
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "auth service not configured", nil)
		return
	}
	var req loginRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.Service.Login(r.Context(), req.UserName, req.Password, req.Role)
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	h.setAccessCookie(w, result)
	common.Data(w, http.StatusOK, result)
}

// Logout handles POST /api/v1/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if p, ok := common.PrincipalFrom(r.Context()); ok && h.Service != nil {
		h.Service.Logout(r.Context(), p.SessionID)
	}
	h.clearAccessCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing or invalid token", nil)
		return
	}
	common.Data(w, http.StatusOK, map[string]string{
		"username":   p.UserName,
		"role":       p.Role,
		"session_id": p.SessionID,
	})
}

func toAppError(err error) error {
	switch {
	case common.IsAppError(err):
		return err
	case errors.Is(err, ErrInvalidCredentials):
		return common.NewAppError(common.CodeInvalidCredentials, "invalid username or password", http.StatusUnauthorized, err)
	case errors.Is(err, ErrRoleMismatch):
		return common.NewAppError(common.CodeRoleMismatch, "role does not match this account", http.StatusForbidden, err)
	case errors.Is(err, ErrTransient):
		return common.StoreUnavailable(err)
	default:
		return err
	}
}

func (h *Handler) setAccessCookie(w http.ResponseWriter, result LoginResult) {
	if h.AccessCookieName == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.AccessCookieName,
		Value:    result.AccessToken,
		Domain:   h.CookieDomain,
		Path:     "/",
		Expires:  result.AccessExpiry,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: h.CookieSameSite,
	})
}

func (h *Handler) clearAccessCookie(w http.ResponseWriter) {
	if h.AccessCookieName == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.AccessCookieName,
		Value:    "",
		Domain:   h.CookieDomain,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: h.CookieSameSite,
	})
}
