package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/obs"
)

// Entry is one audited administrative action.
type Entry struct {
	Actor      string          `json:"actor"`
	Role       string          `json:"role,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id,omitempty"`
	Method     string          `json:"method"`
	Path       string          `json:"path"`
	Status     int             `json:"status"`
	IP         string          `json:"ip,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	At         time.Time       `json:"at"`
}

// Store keeps the most recent entries, newest first.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit, offset int) ([]Entry, error)
}

// Service records audit entries.
type Service struct {
	Store   Store
	Enabled bool
	Now     func() time.Time
}

// Record stores an entry built from req once the handler has responded.
func (s Service) Record(ctx context.Context, action, resourceType, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	e := Entry{
		Actor:      "anonymous",
		Action:     buildAction(action, req.Method, route),
		Resource:   buildResource(resourceType, route),
		ResourceID: strings.TrimSpace(resourceID),
		Method:     req.Method,
		Path:       req.URL.Path,
		Status:     status,
		IP:         common.ClientIP(req),
		RequestID:  middleware.GetReqID(req.Context()),
		Metadata:   metadata,
		At:         now().UTC(),
	}
	if e.Status == 0 {
		e.Status = http.StatusOK
	}
	if p, ok := common.PrincipalFrom(req.Context()); ok {
		e.Actor, e.Role = p.UserName, p.Role
	}
	return s.Store.Append(ctx, e)
}

func buildAction(action, method, route string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

func buildResource(resourceType, route string) string {
	trimmed := strings.TrimSpace(resourceType)
	if trimmed != "" {
		return trimmed
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	var segments []string
	for _, seg := range strings.Split(route, "/") {
		if strings.HasPrefix(seg, "{") {
			continue
		}
		segments = append(segments, seg)
	}
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	return strings.Join(segments, ".")
}

// RedisLog keeps entries in a capped Redis list.
type RedisLog struct {
	Client redis.UniversalClient
	Key    string
	MaxLen int64
}

func (l RedisLog) key() string {
	if l.Key == "" {
		return "toko:audit"
	}
	return l.Key
}

// Append implements Store.
func (l RedisLog) Append(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	maxLen := l.MaxLen
	if maxLen <= 0 {
		maxLen = 5000
	}
	pipe := l.Client.TxPipeline()
	pipe.LPush(ctx, l.key(), body)
	pipe.LTrim(ctx, l.key(), 0, maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent implements Store.
func (l RedisLog) Recent(ctx context.Context, limit, offset int) ([]Entry, error) {
	raw, err := l.Client.LRange(ctx, l.key(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// MemoryLog is an in-process Store for single-instance deployments and tests.
type MemoryLog struct {
	MaxLen int

	mu      sync.Mutex
	entries []Entry
}

// Append implements Store.
func (l *MemoryLog) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Entry{e}, l.entries...)
	maxLen := l.MaxLen
	if maxLen <= 0 {
		maxLen = 5000
	}
	if len(l.entries) > maxLen {
		l.entries = l.entries[:maxLen]
	}
	return nil
}

// Recent implements Store.
func (l *MemoryLog) Recent(_ context.Context, limit, offset int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset >= len(l.entries) {
		return []Entry{}, nil
	}
	end := min(offset+limit, len(l.entries))
	return append([]Entry(nil), l.entries[offset:end]...), nil
}
