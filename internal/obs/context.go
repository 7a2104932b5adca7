package obs

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/common"
)

type routePatternKey struct{}

type tagsKey struct{}

// Tags are till identifiers resolved while a request is served. Outer
// middleware reads them after the handler returns.
type Tags struct {
	Employee string
	Role     string
	Session  string
	Bill     string
}

type tagBox struct {
	mu   sync.Mutex
	tags Tags
}

// WithRoutePattern stores the matched router pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the pattern stored by WithRoutePattern, or
// the one chi has matched so far.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok && v != "" {
		return v
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

func routeOf(r *http.Request, fallback string) string {
	if route := RoutePatternFromContext(r.Context()); route != "" {
		return route
	}
	return fallback
}

// WithTags installs an empty tag set unless ctx already carries one.
func WithTags(ctx context.Context) context.Context {
	if _, ok := ctx.Value(tagsKey{}).(*tagBox); ok {
		return ctx
	}
	return context.WithValue(ctx, tagsKey{}, &tagBox{})
}

// TagsFromContext returns a copy of the tags recorded so far.
func TagsFromContext(ctx context.Context) Tags {
	box, ok := ctx.Value(tagsKey{}).(*tagBox)
	if !ok {
		return Tags{}
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return box.tags
}

func updateTags(ctx context.Context, fn func(*Tags)) {
	box, ok := ctx.Value(tagsKey{}).(*tagBox)
	if !ok {
		return
	}
	box.mu.Lock()
	fn(&box.tags)
	box.mu.Unlock()
}

// TagPrincipal records the authenticated employee and till session and
// returns a context whose logger carries both.
func TagPrincipal(ctx context.Context, p common.Principal) context.Context {
	updateTags(ctx, func(t *Tags) {
		t.Employee = p.UserName
		t.Role = p.Role
		t.Session = p.SessionID
	})
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return ctx
	}
	child := l.With().Str("employee", p.UserName).Str("session_id", p.SessionID).Logger()
	return child.WithContext(ctx)
}

// TagBill records the bill number a request generated or committed.
func TagBill(ctx context.Context, number string) {
	updateTags(ctx, func(t *Tags) { t.Bill = number })
}
