package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// CodeIdempotencyInFlight is returned while the first request for a key is
// still being handled.
const CodeIdempotencyInFlight = "IDEMPOTENCY_IN_FLIGHT"

const (
	idemHeader   = "Idempotency-Key"
	idemReplayed = "Idempotent-Replayed"
	idemPending  = "pending"
)

// Idem makes write endpoints such as bill commit safe to retry. The first
// request with a given Idempotency-Key runs the handler and its response is
// stored; later requests with the same key in the same till session get the
// stored response back. Server errors are not stored, so the till may retry.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func idemKey(session, key string) string {
	sum := sha256.Sum256([]byte(session + "|" + key))
	return "toko:idem:" + hex.EncodeToString(sum[:])
}

// Middleware implements chi middleware. Requests without the header, or when
// no Redis is configured, pass straight through.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(idemHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		p, _ := PrincipalFrom(r.Context())
		key := idemKey(p.SessionID, header)

		claimed, err := i.R.SetNX(r.Context(), key, idemPending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, "idempotency store error", nil)
			return
		}
		if !claimed {
			i.replay(r.Context(), w, key)
			return
		}

		cw := &captureWriter{ResponseWriter: w}
		defer func() {
			// detached so a cancelled request still settles the key
			ctx := context.WithoutCancel(r.Context())
			if cw.status == 0 || cw.status >= http.StatusInternalServerError {
				_ = i.R.Del(ctx, key).Err()
				return
			}
			data, err := json.Marshal(storedResponse{
				Status:      cw.status,
				ContentType: cw.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
			})
			if err != nil {
				_ = i.R.Del(ctx, key).Err()
				return
			}
			_ = i.R.Set(ctx, key, data, ttl).Err()
		}()
		next.ServeHTTP(cw, r)
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	switch {
	case err == redis.Nil, err == nil && string(raw) == idemPending:
		JSONError(w, http.StatusConflict, CodeIdempotencyInFlight, "a request with this idempotency key is still in progress", nil)
		return
	case err != nil:
		JSONError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, "idempotency store error", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		JSONError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, "idempotency store error", nil)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(idemReplayed, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}
