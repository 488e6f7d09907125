package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	// IdempotencyHeader carries the client-chosen key of a retryable POST.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayHeader is set to "true" on responses served from the store.
	ReplayHeader = "Idempotent-Replayed"

	idempotencyPrefix = "ridebook:idempotency:"
	inFlight          = "processing"
	inFlightTTL       = 30 * time.Second
)

// storedResponse is what gets replayed for a repeated key.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// NewIdempotency returns a middleware that makes POST requests carrying an
// Idempotency-Key safe to retry. The first request with a key runs; its
// response is kept in Redis for ttl and replayed for later requests with the
// same key from the same actor. A repeat that arrives while the first is
// still running gets 409. Server errors are not stored, so the client can
// retry them. When Redis is unreachable requests pass through unprotected.
func NewIdempotency(client redis.Cmdable, ttl time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 128 {
				writeError(w, http.StatusBadRequest, "validation_error", "Idempotency-Key must be at most 128 characters")
				return
			}

			ctx := r.Context()
			scope := "anonymous"
			if actor, ok := ActorFrom(ctx); ok {
				scope = actor.String()
			}
			redisKey := idempotencyPrefix + scope + ":" + r.URL.Path + ":" + key

			acquired, err := client.SetNX(ctx, redisKey, inFlight, inFlightTTL).Result()
			if err != nil {
				log.WarnContext(ctx, "idempotency store unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				replay(w, r, client, redisKey, log)
				return
			}

			var body bytes.Buffer
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)

			next.ServeHTTP(ww, r)

			// The handler has committed; record the outcome even if the
			// client has gone away.
			storeCtx := context.WithoutCancel(ctx)
			if ww.Status() >= http.StatusInternalServerError {
				release(storeCtx, client, redisKey, log)
				return
			}
			stored, err := json.Marshal(storedResponse{
				Status:      ww.Status(),
				ContentType: ww.Header().Get("Content-Type"),
				Body:        body.Bytes(),
			})
			if err != nil {
				log.WarnContext(ctx, "idempotent response not encoded", "error", err)
				release(storeCtx, client, redisKey, log)
				return
			}
			if err := client.Set(storeCtx, redisKey, stored, ttl).Err(); err != nil {
				log.WarnContext(ctx, "idempotent response not stored", "error", err)
			}
		})
	}
}

// release drops the in-flight marker so the client may retry the key.
func release(ctx context.Context, client redis.Cmdable, redisKey string, log *slog.Logger) {
	if err := client.Del(ctx, redisKey).Err(); err != nil {
		log.WarnContext(ctx, "idempotency marker not released", "key", redisKey, "error", err)
	}
}

func replay(w http.ResponseWriter, r *http.Request, client redis.Cmdable, redisKey string, log *slog.Logger) {
	val, err := client.Get(r.Context(), redisKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		writeError(w, http.StatusConflict, "conflict", "request with this Idempotency-Key expired mid-flight; retry")
		return
	case err != nil:
		log.WarnContext(r.Context(), "idempotency lookup failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "idempotency store unavailable")
		return
	case string(val) == inFlight:
		writeError(w, http.StatusConflict, "conflict", "a request with this Idempotency-Key is in progress")
		return
	}

	var resp storedResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		writeError(w, http.StatusConflict, "conflict", "request already processed")
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
