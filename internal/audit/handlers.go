package audit

import (
	"net/http"

	"github.com/noah-isme/toko-pos/internal/common"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store Store
}

// List returns a page of audit entries, newest first.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	if perPage > 200 {
		perPage = 200
	}
	entries, err := h.Store.Recent(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		common.WriteError(w, common.StoreUnavailable(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       entries,
		"pagination": map[string]int{"page": page, "per_page": perPage},
	})
}
