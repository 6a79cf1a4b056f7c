package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/config"
	"cmsgateway/pkg/logger"
	"cmsgateway/pkg/ratelimit"
)

// statsTimeout bounds a single stats write.
const statsTimeout = 100 * time.Millisecond

type ctxKeyRequestID struct{}

var RequestIDKey = ctxKeyRequestID{}

// MessageWriter is the part of *kafka.Writer used for access logs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (api *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			id, err := uuid.NewV4()
			if err != nil {
				log.Errorf("[requestIDMiddleware] failed to generate request ID for %v: %v", r.RemoteAddr, err)
				writeError(w, http.StatusInternalServerError, categoryInternal, messageInternal)
				return
			}
			reqID = id.String()
			log.Debugf("[requestIDMiddleware] generated request ID:%s for %v", reqID, r.RemoteAddr)
		}

		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (api *API) headerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware turns a handler panic into a generic 500.
func (api *API) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("[recoveryMiddleware][%s] panic serving %s %s: %v", shorten(GetRequestID(r.Context())), r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, categoryInternal, messageInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (api *API) loggingMiddleware(kWriter MessageWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := logger.New(w)
			defer func() {
				entry := logger.Entry{
					Timestamp:  time.Now(),
					IP:         ratelimit.ClientIP(r, api.cfg.TrustForwardedFor),
					StatusCode: lw.Status(),
					RequestID:  GetRequestID(r.Context()),
					Method:     r.Method,
					Path:       r.URL.Path,
					Duration:   time.Since(start).Seconds(),
					Bytes:      lw.Bytes(),
					Service:    api.ServiceName,
				}
				go func() {
					jsonEntry, err := json.Marshal(entry)
					if err != nil {
						log.Errorf("[loggingMiddleware] failed to marshal log entry for request %s", entry.RequestID)
						return
					}
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					err = kWriter.WriteMessages(ctx, kafka.Message{Key: []byte(entry.RequestID), Value: jsonEntry})
					if err != nil {
						log.Errorf("[loggingMiddleware] failed to write log to Kafka: %v", err)
						return
					}
					log.Debugf("[loggingMiddleware] log entry sent to Kafka request_id:%s", entry.RequestID)
				}()
			}()

			next.ServeHTTP(lw, r)
		})
	}
}

// rateLimited admits the request against the family budget of the client and
// attaches X-RateLimit-* headers. It runs before any input validation.
func (api *API) rateLimited(family string, limit config.Limit, plain bool, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sID := shorten(GetRequestID(r.Context()))
		client := ratelimit.ClientIP(r, api.cfg.TrustForwardedFor)

		dec, ok := api.decide(ratelimit.Key(family, client), limit)
		if !ok {
			log.Warnf("[rateLimited][%s] limiter failure for %s, serving request", sID, family)
			next(w, r)
			return
		}

		if api.stats != nil {
			api.recordDecision(sID, ratelimit.Event{Family: family, Client: client, Allowed: dec.Allowed, At: api.now()})
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		h.Set("X-RateLimit-Reset", dec.ResetAt.UTC().Format(time.RFC3339))

		if !dec.Allowed {
			retryAfter := dec.RetryAfter(api.now())
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			log.Debugf("[rateLimited][%s] %s limit reached for %s, retry in %ds", sID, family, client, retryAfter)

			if plain {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:      categoryRateLimited,
				Message:    "Too many requests, please retry later",
				RetryAfter: retryAfter,
			})
			return
		}

		next(w, r)
	})
}

// recordDecision stores ev in the background. Stats never delay a response.
func (api *API) recordDecision(sID string, ev ratelimit.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		defer cancel()
		if err := api.stats.Record(ctx, ev); err != nil {
			log.Debugf("[rateLimited][%s] failed to record stats: %v", sID, err)
		}
	}()
}

// decide consults the limiter and reports ok=false if it failed, so the
// caller can serve the request anyway.
func (api *API) decide(key string, limit config.Limit) (dec ratelimit.Decision, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("[rateLimited] limiter panic for key %s: %v", key, rec)
			ok = false
		}
	}()
	return api.limiter.Allow(key, limit.Requests, limit.Window), true
}
