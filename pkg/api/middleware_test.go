package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"cmsgateway/pkg/config"
	"cmsgateway/pkg/logger"
	"cmsgateway/pkg/ratelimit"
)

// Dummy handler to check context and header
func makeTestHandler(t *testing.T, wantID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gotID := GetRequestID(r.Context())
		if wantID != "" && gotID != wantID {
			t.Errorf("want request id in context %q, got %q", wantID, gotID)
		}
		respID := w.Header().Get("X-Request-Id")
		if wantID != "" && respID != wantID {
			t.Errorf("want X-Request-Id header %q, got %q", wantID, respID)
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	}
}

func Test_requestIDMiddlewareHeaderExists(t *testing.T) {
	api := &API{}
	wantID := "test-req-id-123"
	handler := api.requestIDMiddleware(makeTestHandler(t, wantID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", wantID)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("want status code %v, got %v", http.StatusOK, rr.Code)
	}
	if got := rr.Header().Get("X-Request-Id"); got != wantID {
		t.Errorf("want X-Request-Id header %q, got %q", wantID, got)
	}
}

func Test_requestIDMiddlewareHeaderNotExists(t *testing.T) {
	api := &API{}
	handler := api.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID := GetRequestID(r.Context())
		if gotID == "" {
			t.Error("want non-empty request id in context when header is missing")
		}
		respID := w.Header().Get("X-Request-Id")
		if _, err := uuid.FromString(respID); err != nil {
			t.Errorf("want valid UUID for generated request id, got %q", respID)
		}
		if strings.Count(gotID, "-") != 4 {
			t.Errorf("want UUID format for request id, got %q", gotID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("want status code %v, got %v", http.StatusOK, rr.Code)
	}
}

func Test_recoveryMiddleware(t *testing.T) {
	api := &API{}
	handler := api.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("want status code %v, got %v", http.StatusInternalServerError, rr.Code)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Error("want panic value kept out of the response")
	}
}

type fakeWriter struct {
	msgs chan kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.msgs <- m
	}
	return nil
}

func Test_loggingMiddleware(t *testing.T) {
	kw := &fakeWriter{msgs: make(chan kafka.Message, 1)}
	cfg := config.Default()
	cfg.ServiceName = "gateway-test"
	api := New(cfg, WithMessageWriter(kw))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "log-req-1")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	var msg kafka.Message
	select {
	case msg = <-kw.msgs:
	case <-time.After(2 * time.Second):
		t.Fatal("want access log written to the message writer")
	}

	if string(msg.Key) != "log-req-1" {
		t.Errorf("want message key %q, got %q", "log-req-1", msg.Key)
	}
	var entry logger.Entry
	if err := json.Unmarshal(msg.Value, &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
	}
	if entry.StatusCode != http.StatusOK || entry.Path != "/healthz" {
		t.Errorf("want 200 for /healthz, got %d for %s", entry.StatusCode, entry.Path)
	}
	if entry.IP != "203.0.113.9" {
		t.Errorf("want client ip 203.0.113.9, got %q", entry.IP)
	}
	if entry.Service != "gateway-test" || entry.Bytes == 0 {
		t.Errorf("want service and byte count recorded, got %+v", entry)
	}
}

func Test_rateLimitedFailsOpen(t *testing.T) {
	broken := ratelimit.New(ratelimit.WithClock(func() time.Time { panic("clock failure") }))
	api := New(config.Default(), WithLimiter(broken))

	called := false
	handler := api.rateLimited(familyPosts, config.Limit{Requests: 1, Window: time.Minute}, false, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/posts", nil))

	if !called || rr.Code != http.StatusOK {
		t.Errorf("want request served when the limiter fails, got status %v", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "" {
		t.Errorf("want no rate limit headers on failure, got %q", got)
	}
}

func Test_rateLimitedPlainText(t *testing.T) {
	api := New(config.Default(), WithClock(fixedClock()))
	limit := config.Limit{Requests: 1, Window: 30 * time.Second}
	handler := api.rateLimited(familyImages, limit, true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/image", nil))
		if rr.Code != want {
			t.Fatalf("request %d: want status code %v, got %v", i+1, want, rr.Code)
		}
		if want == http.StatusTooManyRequests {
			if got := rr.Header().Get("Retry-After"); got != "30" {
				t.Errorf("want Retry-After 30, got %q", got)
			}
			if got := strings.TrimSpace(rr.Body.String()); got != "Too many requests" {
				t.Errorf("want plain text body, got %q", got)
			}
		}
	}
}

// silentListener accepts connections and never answers, like a stuck Redis.
func silentListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() {
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, c)
		}
	}()
	return ln
}

func Test_rateLimitedStuckStatsStore(t *testing.T) {
	ln := silentListener(t)
	defer ln.Close()

	rdb := redis.NewClient(&redis.Options{Addr: ln.Addr().String()})
	defer rdb.Close()

	api := New(config.Default(), WithStats(ratelimit.NewRedisStats(rdb)))

	start := time.Now()
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/posts?page=0", nil))
	elapsed := time.Since(start)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("want status code %v, got %v", http.StatusBadRequest, rr.Code)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("want response within 500ms while the stats store hangs, took %v", elapsed)
	}
}

func Test_handleErrorClientGone(t *testing.T) {
	api := &API{}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)

	api.handleError(rr, req, "listPostsHandler", context.Canceled)

	if rr.Code != statusClientClosedRequest {
		t.Errorf("want status code %v, got %v", statusClientClosedRequest, rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("want empty body, got %q", rr.Body.String())
	}
}

func Test_loggingMiddlewareClientGone(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	kw := &fakeWriter{msgs: make(chan kafka.Message, 1)}
	cfg := config.Default()
	cfg.UpstreamURL = srv.URL + "/wp-json/wp/v2"
	api := New(cfg, WithMessageWriter(kw))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil).WithContext(ctx)
	api.Router().ServeHTTP(httptest.NewRecorder(), req)

	var msg kafka.Message
	select {
	case msg = <-kw.msgs:
	case <-time.After(2 * time.Second):
		t.Fatal("want access log written to the message writer")
	}

	var entry logger.Entry
	if err := json.Unmarshal(msg.Value, &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
	}
	if entry.StatusCode != statusClientClosedRequest {
		t.Errorf("want logged status %d, got %d", statusClientClosedRequest, entry.StatusCode)
	}
}
