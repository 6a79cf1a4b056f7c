package api

import (
	"crypto/subtle"
	"net/http"

	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/ratelimit"
)

func (api *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Cache:     api.cache.Stats(),
		RateLimit: RateLimitStats{Keys: api.limiter.Len()},
	}
	if ms, ok := api.stats.(*ratelimit.MemoryStats); ok {
		total, byFamily := ms.Snapshot()
		resp.RateLimit.Total = &total
		resp.RateLimit.ByFamily = byFamily
	}
	writeJSON(w, http.StatusOK, resp)
}

// revalidateHandler drops cached responses depending on a tag such as
// "posts", "post:<slug>" or "category:<id>". Disabled without a secret.
func (api *API) revalidateHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	if api.cfg.RevalidateSecret == "" {
		writeError(w, http.StatusNotFound, categoryNotFound, "The requested content does not exist")
		return
	}
	secret := r.Header.Get("X-Revalidate-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(api.cfg.RevalidateSecret)) != 1 {
		log.Warnf("[revalidateHandler][%s] rejected revalidation from %v", sID, r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Invalid revalidation secret")
		return
	}

	tag := r.URL.Query().Get("tag")
	if !tagPattern.MatchString(tag) {
		api.handleError(w, r, "revalidateHandler", invalid("tag", "must look like posts, post:<slug> or category:<id>"))
		return
	}

	n := api.cache.InvalidateTag(tag)
	log.Infof("[revalidateHandler][%s] tag %q dropped %d cached responses", sID, tag, n)
	writeJSON(w, http.StatusOK, RevalidateResponse{Tag: tag, Revalidated: n})
}
