package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/docstore"
)

func withPID(req *http.Request, pid string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("pid", pid)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCatalogHandlers(t *testing.T) {
	svc := newService(t, docstore.NewMemory(), nil)
	handler := catalog.NewHandler(catalog.HandlerConfig{Service: svc})

	t.Run("create", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/products", strings.NewReader(`{"name":"Pen","price":12.50,"qty":10}`))
		rec := httptest.NewRecorder()
		handler.Create(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var body struct {
			Data catalog.Product `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, catalog.Product{PID: "PID1", Name: "Pen", Price: 1250, QTY: 10}, body.Data)
	})

	t.Run("create rejects zero price", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/products", strings.NewReader(`{"name":"Pen","price":0,"qty":10}`))
		rec := httptest.NewRecorder()
		handler.Create(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("list and search", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/products?q=en", nil)
		rec := httptest.NewRecorder()
		handler.Products(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data []catalog.Product `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 1)

		req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/products?q=en", nil)
		rec = httptest.NewRecorder()
		handler.AdminProducts(rec, req)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Empty(t, body.Data)
	})

	t.Run("update and delete", func(t *testing.T) {
		req := withPID(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"qty":3}`)), "PID1")
		rec := httptest.NewRecorder()
		handler.Update(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"qty":3`)

		req = withPID(httptest.NewRequest(http.MethodDelete, "/", nil), "PID1")
		rec = httptest.NewRecorder()
		handler.Delete(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		req = withPID(httptest.NewRequest(http.MethodGet, "/", nil), "PID1")
		rec = httptest.NewRecorder()
		handler.Product(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}
