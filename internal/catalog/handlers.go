package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

// Handler exposes catalog endpoints for tills and administrators.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

type createProductRequest struct {
	PID   string      `json:"pid" validate:"omitempty,max=32"`
	Name  string      `json:"name" validate:"required,max=120"`
	Price json.Number `json:"price" validate:"required"`
	QTY   *int        `json:"qty" validate:"required,gte=0"`
}

type updateProductRequest struct {
	Name  *string      `json:"name" validate:"omitempty,min=1,max=120"`
	Price *json.Number `json:"price"`
	QTY   *int         `json:"qty" validate:"omitempty,gte=0"`
}

// Products handles GET /api/v1/products?q=, matching name substrings.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, MatchNameContains)
}

// AdminProducts handles GET /api/v1/admin/products?q=, matching PID or name prefixes.
func (h *Handler) AdminProducts(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, MatchPrefix)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, mode SearchMode) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog service not configured", nil)
		return
	}
	items, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), mode)
	if err != nil {
		writeError(w, err)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	pageItems, meta := common.Paginate(items, page, perPage)
	common.JSON(w, http.StatusOK, map[string]any{"data": pageItems, "pagination": meta})
}

// Product handles GET /api/v1/products/{pid}.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, p)
}

// Create handles POST /api/v1/admin/products.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	price, err := pricing.Parse(req.Price.String())
	if err != nil {
		common.WriteError(w, common.ValidationError("invalid price", err))
		return
	}
	p, err := h.service.Create(r.Context(), NewProduct{PID: req.PID, Name: req.Name, Price: price, QTY: *req.QTY})
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, p)
}

// Update handles PATCH /api/v1/admin/products/{pid}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateProductRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	patch := Patch{Name: req.Name, QTY: req.QTY}
	if req.Price != nil {
		price, err := pricing.Parse(req.Price.String())
		if err != nil {
			common.WriteError(w, common.ValidationError("invalid price", err))
			return
		}
		patch.Price = &price
	}
	p, err := h.service.Update(r.Context(), chi.URLParam(r, "pid"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, p)
}

// Delete handles DELETE /api/v1/admin/products/{pid}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "pid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, toAppError(err))
}

func toAppError(err error) error {
	switch {
	case common.IsAppError(err):
		return err
	case errors.Is(err, ErrNotFound):
		return common.NotFound("product not found", err)
	case errors.Is(err, ErrDuplicate):
		return common.Conflict("product already exists", err)
	case errors.Is(err, ErrInvalidInput):
		return common.ValidationError(strings.TrimSuffix(err.Error(), ": "+ErrInvalidInput.Error()), err)
	case errors.Is(err, docstore.ErrConflict), errors.Is(err, docstore.ErrUnavailable):
		return common.StoreUnavailable(err)
	default:
		return err
	}
}
