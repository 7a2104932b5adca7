package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/billing"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/docstore"
)

type singleEngine struct{ e *billing.Engine }

func (s singleEngine) EngineFor(context.Context) (*billing.Engine, error) { return s.e, nil }

func withParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestBillingHandlersFlow(t *testing.T) {
	f := newFixture(t, docstore.NewMemory(), catalog.Product{PID: "P001", Name: "Pen", Price: 10000, QTY: 10})
	handler := billing.NewHandler(billing.HandlerConfig{
		Service:  f.service,
		Engines:  singleEngine{f.service.NewEngine(f.catalog)},
		Products: f.catalog,
		Archive:  f.archive,
	})

	rec := httptest.NewRecorder()
	handler.Commit(rec, httptest.NewRequest(http.MethodPost, "/api/v1/bills/commit", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "no generated bill")

	rec = httptest.NewRecorder()
	handler.PutItem(rec, withParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"qty":11}`)), "pid", "P001"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "INSUFFICIENT_STOCK")
	require.Contains(t, rec.Body.String(), `"available":10`)

	rec = httptest.NewRecorder()
	handler.PutItem(rec, withParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"qty":2}`)), "pid", "P404"))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.PutItem(rec, withParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"qty":2}`)), "pid", "P001"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap struct {
		Data billing.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, billing.StateBuilding, snap.Data.State)
	require.EqualValues(t, 19000, snap.Data.Totals.Net)

	rec = httptest.NewRecorder()
	handler.Generate(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"customer_name":"Alice","customer_contact":"98765"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	rec = httptest.NewRecorder()
	handler.Generate(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"customer_name":"Alice","customer_contact":"9876543210"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.Commit(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var committed struct {
		Data     billing.Bill      `json:"data"`
		Warnings []billing.Warning `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &committed))
	require.Empty(t, committed.Warnings)
	number := committed.Data.Number
	require.NotEmpty(t, number)

	rec = httptest.NewRecorder()
	handler.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bills/search?q=9876543210", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), number)

	rec = httptest.NewRecorder()
	handler.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bills/search", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/bills", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), number)

	rec = httptest.NewRecorder()
	handler.Get(rec, withParam(httptest.NewRequest(http.MethodGet, "/", nil), "number", number))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"net_pay":190.00`)
	require.Contains(t, rec.Body.String(), "Net Pay")

	rec = httptest.NewRecorder()
	handler.Get(rec, withParam(httptest.NewRequest(http.MethodGet, "/", nil), "number", "BILL1"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartHandlersRemoveAndClear(t *testing.T) {
	f := newFixture(t, docstore.NewMemory(), catalog.Product{PID: "P001", Name: "Pen", Price: 10000, QTY: 10})
	e := f.service.NewEngine(f.catalog)
	handler := billing.NewHandler(billing.HandlerConfig{Service: f.service, Engines: singleEngine{e}, Products: f.catalog})
	require.NoError(t, e.AddOrUpdate(context.Background(), "P001", "Pen", 10000, 1))

	rec := httptest.NewRecorder()
	handler.RemoveItem(rec, withParam(httptest.NewRequest(http.MethodDelete, "/", nil), "pid", "P002"))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.RemoveItem(rec, withParam(httptest.NewRequest(http.MethodDelete, "/", nil), "pid", "P001"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, billing.StateEmpty, e.State())

	require.NoError(t, e.AddOrUpdate(context.Background(), "P001", "Pen", 10000, 1))
	rec = httptest.NewRecorder()
	handler.ClearCart(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"empty"`)

	rec = httptest.NewRecorder()
	handler.Cart(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
