package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/cache"
	"cmsgateway/pkg/models"
	"cmsgateway/pkg/upstream"
)

// maxCategories is the fixed page size of the taxonomy listing.
const maxCategories = 100

// listCategoriesHandler returns every category sorted by name, or a single
// category when the slug parameter is present.
func (api *API) listCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	slug := r.URL.Query().Get("slug")
	if _, present := r.URL.Query()["slug"]; present {
		if err := validateSlug(slug); err != nil {
			api.handleError(w, r, "listCategoriesHandler", err)
			return
		}
	}

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(maxCategories))
	q.Set("orderby", "name")
	q.Set("order", "asc")
	if slug != "" {
		q.Set("slug", slug)
	}
	target, err := api.upstreamURL("categories", q)
	if err != nil {
		api.handleError(w, r, "listCategoriesHandler", err)
		return
	}

	p, err := api.cache.GetOrFetch(r.Context(), cache.Key("categories", q), cache.TTLCategories, func(ctx context.Context) (cache.Payload, []string, error) {
		var categories []models.Category
		if _, err := api.fetcher.FetchJSON(ctx, target, api.cfg.CategoryTimeout, &categories); err != nil {
			return cache.Payload{}, nil, err
		}
		for _, c := range categories {
			if err := c.Validate(); err != nil {
				return cache.Payload{}, nil, &upstream.Error{Kind: upstream.KindParse, URL: target, Err: err}
			}
		}

		var v any = categories
		if slug != "" {
			if len(categories) == 0 {
				return cache.Payload{}, nil, fmt.Errorf("category %q: %w", slug, ErrNotFound)
			}
			v = categories[0]
		}

		body, err := json.Marshal(v)
		if err != nil {
			return cache.Payload{}, nil, err
		}
		return cache.Payload{Body: body}, []string{tagCategories}, nil
	})
	if err != nil {
		api.handleError(w, r, "listCategoriesHandler", err)
		return
	}

	if err := writePayload(w, p, cache.ControlHeader(cache.TTLCategories, cache.GraceRare)); err != nil {
		log.Errorf("[listCategoriesHandler][%s] failed to write response: %v", sID, err)
		return
	}
	log.Debugf("[listCategoriesHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}
