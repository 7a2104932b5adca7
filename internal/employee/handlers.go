package employee

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
)

// Handler exposes roster administration endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	UserName string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"required"`
}

type updateRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Role     *string `json:"role"`
	Password *string `json:"password" validate:"omitempty,min=1"`
	Status   *string `json:"status"`
}

// List handles GET /api/v1/admin/employees?q=&field=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	items, err := h.service.Search(r.Context(), query.Get("q"), SearchField(strings.ToLower(query.Get("field"))))
	if err != nil {
		writeError(w, err)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	pageItems, meta := common.Paginate(items, page, perPage)
	common.JSON(w, http.StatusOK, map[string]any{"data": pageItems, "pagination": meta})
}

// Create handles POST /api/v1/admin/employees.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	e, err := h.service.Create(r.Context(), NewEmployee(req))
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, e)
}

// Update handles PATCH /api/v1/admin/employees/{username}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	e, err := h.service.Update(r.Context(), chi.URLParam(r, "username"), Patch(req))
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, e)
}

// Delete handles DELETE /api/v1/admin/employees/{username}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if current, ok := common.UserName(r.Context()); ok && strings.EqualFold(current, username) {
		common.WriteError(w, common.Conflict("cannot delete the signed-in employee", nil))
		return
	}
	if err := h.service.Delete(r.Context(), username); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, ToAppError(err))
}

// ToAppError maps roster errors to API errors.
func ToAppError(err error) error {
	switch {
	case common.IsAppError(err):
		return err
	case errors.Is(err, ErrNotFound):
		return common.NotFound("employee not found", err)
	case errors.Is(err, ErrDuplicate):
		return common.Conflict("username already exists", err)
	case errors.Is(err, ErrLastAdmin):
		return common.Conflict(ErrLastAdmin.Error(), err)
	case errors.Is(err, ErrInvalidInput):
		return common.ValidationError(strings.TrimSuffix(err.Error(), ": "+ErrInvalidInput.Error()), err)
	case errors.Is(err, docstore.ErrConflict), errors.Is(err, docstore.ErrUnavailable):
		return common.StoreUnavailable(err)
	default:
		return err
	}
}
