package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/cache"
	"cmsgateway/pkg/upstream"
)

// imageProxyHandler re-serves an upload from the asset origin. Errors are
// plain text; clients fall back to a local placeholder on any failure.
func (api *API) imageProxyHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	path := r.URL.Query().Get("url")
	if path == "" {
		log.Debugf("[imageProxyHandler][%s] missing url parameter", sID)
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}
	if err := validateImagePath(path, api.cfg.AssetPrefix); err != nil {
		log.Debugf("[imageProxyHandler][%s] %v", sID, err)
		http.Error(w, "Invalid image path", http.StatusBadRequest)
		return
	}

	target, err := api.assetURL(path)
	if err != nil {
		log.Errorf("[config] %v (handler imageProxyHandler, request %s)", err, sID)
		http.Error(w, "Configuration error", http.StatusInternalServerError)
		return
	}

	bin, err := api.fetcher.FetchBinary(r.Context(), target, api.cfg.ImageTimeout)
	if err != nil {
		switch {
		case upstream.KindOf(err) == upstream.KindHTTP:
			log.Infof("[imageProxyHandler][%s] %v", sID, err)
			w.Header().Set("Cache-Control", cache.MissControl)
			http.Error(w, "Image not found", http.StatusNotFound)
		case upstream.IsTimeout(err):
			log.Errorf("[imageProxyHandler][%s] %v", sID, err)
			http.Error(w, "Gateway timeout", http.StatusGatewayTimeout)
		case errors.Is(err, context.Canceled):
			log.Debugf("[imageProxyHandler][%s] client went away: %v", sID, err)
			w.WriteHeader(statusClientClosedRequest)
		default:
			log.Errorf("[imageProxyHandler][%s] %v", sID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if !strings.HasPrefix(bin.ContentType, "image/") {
		log.Warnf("[imageProxyHandler][%s] %s served non-image content type %q", sID, target, bin.ContentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", bin.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(bin.Body)))
	w.Header().Set("Cache-Control", cache.ImmutableControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(bin.Body); err != nil {
		log.Errorf("[imageProxyHandler][%s] failed to write image: %v", sID, err)
		return
	}
	log.Debugf("[imageProxyHandler][%s] %d bytes sent to: %v", sID, len(bin.Body), r.RemoteAddr)
}
