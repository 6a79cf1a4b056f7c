package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"cmsgateway/pkg/cache"
	"cmsgateway/pkg/config"
	"cmsgateway/pkg/ratelimit"
	"cmsgateway/pkg/upstream"
)

// Endpoint families; each has its own rate-limit budget per client.
const (
	familyPosts      = "posts"
	familyPost       = "post"
	familyCategories = "categories"
	familyImages     = "images"
)

// ErrNotConfigured is returned when the upstream base URL is missing or unusable.
var ErrNotConfigured = errors.New("upstream base URL is not configured")

type API struct {
	ServiceName string

	r       *mux.Router
	cfg     config.Config
	fetcher *upstream.Client
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	stats   ratelimit.StatsRecorder
	kw      MessageWriter
	now     func() time.Time
}

type Option func(*API)

func WithFetcher(f *upstream.Client) Option {
	return func(api *API) { api.fetcher = f }
}

func WithCache(c *cache.Cache) Option {
	return func(api *API) { api.cache = c }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(api *API) { api.limiter = l }
}

func WithStats(s ratelimit.StatsRecorder) Option {
	return func(api *API) { api.stats = s }
}

// WithMessageWriter enables access-log shipping, usually to a *kafka.Writer.
func WithMessageWriter(kw MessageWriter) Option {
	return func(api *API) { api.kw = kw }
}

// WithClock sets the time source for the default limiter, cache and Retry-After.
func WithClock(now func() time.Time) Option {
	return func(api *API) { api.now = now }
}

func New(cfg config.Config, opts ...Option) *API {
	api := API{
		ServiceName: cfg.ServiceName,
		r:           mux.NewRouter(),
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&api)
	}

	if api.fetcher == nil {
		api.fetcher = upstream.New(upstream.WithUserAgent(cfg.UserAgent))
	}
	if api.cache == nil {
		api.cache = cache.New(cache.WithClock(api.now), cache.WithMaxEntries(cfg.CacheMaxEntries))
	}
	if api.limiter == nil {
		api.limiter = ratelimit.New(ratelimit.WithClock(api.now))
	}
	api.endpoints()

	return &api
}

func (api *API) Router() *mux.Router {
	return api.r
}

func (api *API) Cache() *cache.Cache {
	return api.cache
}

func (api *API) Limiter() *ratelimit.Limiter {
	return api.limiter
}

func (api *API) endpoints() {
	api.r.Use(api.requestIDMiddleware)
	if api.kw != nil {
		api.r.Use(api.loggingMiddleware(api.kw))
	}
	api.r.Use(api.recoveryMiddleware)
	api.r.Use(api.headerMiddleware)

	limits := api.cfg.Limits

	api.r.HandleFunc("/healthz", api.healthHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/api/stats", api.statsHandler).Methods(http.MethodGet)

	api.r.Handle("/api/posts", api.rateLimited(familyPosts, limits.Posts, false, api.listPostsHandler)).Methods(http.MethodGet)
	api.r.Handle("/api/posts/{slug}", api.rateLimited(familyPost, limits.Post, false, api.postBySlugHandler)).Methods(http.MethodGet)
	api.r.Handle("/api/sitemap", api.rateLimited(familyPosts, limits.Posts, false, api.sitemapHandler)).Methods(http.MethodGet)
	api.r.Handle("/api/categories", api.rateLimited(familyCategories, limits.Categories, false, api.listCategoriesHandler)).Methods(http.MethodGet)
	api.r.Handle("/api/image", api.rateLimited(familyImages, limits.Images, true, api.imageProxyHandler)).Methods(http.MethodGet)
	api.r.Handle("/api/revalidate", api.rateLimited(familyPosts, limits.Posts, false, api.revalidateHandler)).Methods(http.MethodPost)
}

// upstreamURL joins resource to the configured REST base.
func (api *API) upstreamURL(resource string, q url.Values) (string, error) {
	u, err := api.upstreamBase()
	if err != nil {
		return "", err
	}

	u = u.JoinPath(resource)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// assetURL maps an asset path onto the asset origin. Without an explicit
// origin the scheme and host of the upstream URL are used.
func (api *API) assetURL(path string) (string, error) {
	origin := api.cfg.AssetOrigin
	if origin == "" {
		u, err := api.upstreamBase()
		if err != nil {
			return "", err
		}
		origin = u.Scheme + "://" + u.Host
	}
	return origin + path, nil
}

func (api *API) upstreamBase() (*url.URL, error) {
	if api.cfg.UpstreamURL == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(api.cfg.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid value %q", ErrNotConfigured, api.cfg.UpstreamURL)
	}
	return u, nil
}

// writePayload sends a cached payload with its headers and cache directive.
func writePayload(w http.ResponseWriter, p cache.Payload, cacheControl string) error {
	for k, v := range p.Headers {
		if v != "" {
			w.Header().Set(k, v)
		}
	}
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(p.Body)
	return err
}

func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// GetRequestID extracts the request ID from the context.
// It returns the request ID as a string if present, otherwise returns an empty string.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// shorten truncates a string to 6 characters if it is longer than 6, appends '...' at the end,
// otherwise it returns the string unchanged.
func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
