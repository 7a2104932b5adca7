package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pos/internal/archive"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/obs"
)

// EngineSource resolves the engine of the session behind ctx.
type EngineSource interface {
	EngineFor(ctx context.Context) (*Engine, error)
}

// ProductLookup returns live catalog entries.
type ProductLookup interface {
	Get(ctx context.Context, pid string) (catalog.Product, error)
}

// ArchiveReader is the read side of the bill archive.
type ArchiveReader interface {
	List() ([]archive.File, error)
	Read(number string) (string, error)
	Search(query string) ([]archive.Row, error)
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service  *Service
	Engines  EngineSource
	Products ProductLookup
	Archive  ArchiveReader
}

// Handler exposes cart and bill endpoints.
type Handler struct {
	service  *Service
	engines  EngineSource
	products ProductLookup
	archive  ArchiveReader
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		service:  cfg.Service,
		engines:  cfg.Engines,
		products: cfg.Products,
		archive:  cfg.Archive,
	}
}

type putItemRequest struct {
	Qty int `json:"qty" validate:"required,gt=0"`
}

type generateRequest struct {
	CustomerName    string `json:"customer_name" validate:"required,max=120"`
	CustomerContact string `json:"customer_contact" validate:"required"`
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	if h.engines == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "billing not configured", nil)
		return nil, false
	}
	e, err := h.engines.EngineFor(r.Context())
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return e, true
}

// Cart handles GET /api/v1/cart.
func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, e.Snapshot())
}

// PutItem handles PUT /api/v1/cart/items/{pid}.
func (h *Handler) PutItem(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req putItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	pid := chi.URLParam(r, "pid")
	product, err := h.products.Get(r.Context(), pid)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := e.AddOrUpdate(r.Context(), product.PID, product.Name, product.Price, req.Qty); err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, e.Snapshot())
}

// RemoveItem handles DELETE /api/v1/cart/items/{pid}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if !e.Remove(chi.URLParam(r, "pid")) {
		common.WriteError(w, common.NotFound("product not in cart", nil))
		return
	}
	common.Data(w, http.StatusOK, e.Snapshot())
}

// ClearCart handles DELETE /api/v1/cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	e.Clear()
	common.Data(w, http.StatusOK, e.Snapshot())
}

// Generate handles POST /api/v1/bills/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	bill, err := e.GenerateBill(req.CustomerName, req.CustomerContact)
	if err != nil {
		writeError(w, err)
		return
	}
	obs.TagBill(r.Context(), bill.Number)
	common.Data(w, http.StatusOK, bill)
}

// Commit handles POST /api/v1/bills/commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	result, err := e.Commit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	obs.TagBill(r.Context(), result.Bill.Number)
	body := map[string]any{"data": result.Bill}
	if len(result.Warnings) > 0 {
		body["warnings"] = result.Warnings
	}
	common.JSON(w, http.StatusCreated, body)
}

// Search handles GET /api/v1/bills/search?q=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		common.WriteError(w, common.ValidationError("contact number or bill number required", nil))
		return
	}
	rows, err := h.archive.Search(q)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rows)
}

// List handles GET /api/v1/admin/bills.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.archive.List()
	if err != nil {
		writeError(w, err)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	items, meta := common.Paginate(files, page, perPage)
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": meta})
}

// Get handles GET /api/v1/admin/bills/{number}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	receipt, readErr := h.archive.Read(number)
	if readErr != nil && !errors.Is(readErr, archive.ErrNotFound) {
		writeError(w, readErr)
		return
	}
	rec, found, err := h.service.Record(r.Context(), number)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found && readErr != nil {
		common.WriteError(w, common.NotFound("bill not found", readErr))
		return
	}
	body := map[string]any{"bill_number": number, "receipt": receipt}
	if found {
		body["record"] = rec
	}
	common.Data(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, toAppError(err))
}

func toAppError(err error) error {
	var stockErr *cart.StockError
	switch {
	case common.IsAppError(err):
		return err
	case errors.As(err, &stockErr):
		return common.NewAppError(common.CodeInsufficientStock, stockErr.Error(), http.StatusConflict, err).
			WithDetails(map[string]any{
				"pid":       stockErr.PID,
				"name":      stockErr.Name,
				"requested": stockErr.Requested,
				"available": stockErr.Available,
			})
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, cart.ErrUnknownProduct):
		return common.NotFound("product not found", err)
	case errors.Is(err, ErrInvalidInput):
		return common.ValidationError(strings.TrimSuffix(err.Error(), ": "+ErrInvalidInput.Error()), err)
	case errors.Is(err, cart.ErrInvalidInput):
		return common.ValidationError(strings.TrimSuffix(err.Error(), ": "+cart.ErrInvalidInput.Error()), err)
	case errors.Is(err, ErrNoBill):
		return common.NewAppError(common.CodeValidation, ErrNoBill.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, archive.ErrInvalidNumber):
		return common.ValidationError("invalid bill number", err)
	case errors.Is(err, archive.ErrNotFound):
		return common.NotFound("bill not found", err)
	case errors.Is(err, ErrCommitExhausted), errors.Is(err, docstore.ErrUnavailable), errors.Is(err, docstore.ErrConflict):
		return common.StoreUnavailable(err)
	default:
		return err
	}
}
