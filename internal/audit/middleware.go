package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pos/internal/obs"
)

// Route describes what an audited endpoint touches. Zero fields are derived
// from the matched chi pattern.
type Route struct {
	Action       string
	ResourceType string
	// ResourceID resolves the affected record after the handler ran. It
	// defaults to the last URL parameter.
	ResourceID func(*http.Request) string
}

// CommittedBill reads the bill number the billing handler tagged on the request.
func CommittedBill(req *http.Request) string {
	return obs.TagsFromContext(req.Context()).Bill
}

func lastURLParam(req *http.Request) string {
	rc := chi.RouteContext(req.Context())
	if rc == nil || len(rc.URLParams.Values) == 0 {
		return ""
	}
	return rc.URLParams.Values[len(rc.URLParams.Values)-1]
}

// HTTPRecorder writes an audit entry for every state-changing request it
// wraps, after the response status is known. Reads pass through.
type HTTPRecorder struct {
	Service *Service
	OnError func(error)
}

// Middleware returns chi middleware auditing requests against route.
func (r HTTPRecorder) Middleware(route Route) func(http.Handler) http.Handler {
	resourceID := route.ResourceID
	if resourceID == nil {
		resourceID = lastURLParam
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled || !mutating(req.Method) {
				next.ServeHTTP(w, req)
				return
			}
			req = req.WithContext(obs.WithTags(req.Context()))
			rec := obs.NewStatusRecorder(w)
			next.ServeHTTP(rec, req)

			meta, _ := json.Marshal(map[string]any{
				"outcome":       outcome(rec.Status()),
				"request_bytes": max(req.ContentLength, 0),
			})
			err := r.Service.Record(req.Context(), route.Action, route.ResourceType, resourceID(req), req, rec.Status(), meta)
			if err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func outcome(status int) string {
	switch {
	case status >= 500:
		return "failed"
	case status >= 400:
		return "rejected"
	default:
		return "applied"
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
