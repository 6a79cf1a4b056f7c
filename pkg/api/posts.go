package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/cache"
	"cmsgateway/pkg/models"
	"cmsgateway/pkg/upstream"
)

const (
	tagPosts      = "posts"
	tagCategories = "categories"
	tagSitemap    = "sitemap"

	sitemapPageSize = 100
)

func postTag(slug string) string { return "post:" + slug }
func categoryTag(id int) string  { return "category:" + strconv.Itoa(id) }

func (api *API) listPostsHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	params, err := parseListParams(r.URL.Query())
	if err != nil {
		api.handleError(w, r, "listPostsHandler", err)
		return
	}

	q := params.values()
	target, err := api.upstreamURL("posts", q)
	if err != nil {
		api.handleError(w, r, "listPostsHandler", err)
		return
	}

	p, err := api.cache.GetOrFetch(r.Context(), cache.Key("posts", q), cache.TTLPosts, func(ctx context.Context) (cache.Payload, []string, error) {
		var posts []models.Post
		hdr, err := api.fetcher.FetchJSON(ctx, target, api.cfg.ContentTimeout, &posts)
		if err != nil {
			return cache.Payload{}, nil, err
		}

		tags := []string{tagPosts}
		for _, id := range params.Categories {
			tags = append(tags, categoryTag(id))
		}
		for _, post := range posts {
			if err := post.Validate(); err != nil {
				return cache.Payload{}, nil, &upstream.Error{Kind: upstream.KindParse, URL: target, Err: err}
			}
			tags = append(tags, postTag(post.Slug))
		}

		body, err := json.Marshal(posts)
		if err != nil {
			return cache.Payload{}, nil, err
		}
		return cache.Payload{
			Body: body,
			Headers: map[string]string{
				"X-WP-Total":      hdr.Get("X-WP-Total"),
				"X-WP-TotalPages": hdr.Get("X-WP-TotalPages"),
			},
		}, tags, nil
	})
	if err != nil {
		api.handleError(w, r, "listPostsHandler", err)
		return
	}

	if err := writePayload(w, p, cache.ControlHeader(cache.TTLPosts, cache.GraceDefault)); err != nil {
		log.Errorf("[listPostsHandler][%s] failed to write response: %v", sID, err)
		return
	}
	log.Debugf("[listPostsHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}

func (api *API) postBySlugHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	slug := mux.Vars(r)["slug"]
	if err := validateSlug(slug); err != nil {
		api.handleError(w, r, "postBySlugHandler", err)
		return
	}

	q := url.Values{}
	q.Set("slug", slug)
	q.Set("_embed", "1")
	target, err := api.upstreamURL("posts", q)
	if err != nil {
		api.handleError(w, r, "postBySlugHandler", err)
		return
	}

	p, err := api.cache.GetOrFetch(r.Context(), cache.Key("post", q), cache.TTLPost, func(ctx context.Context) (cache.Payload, []string, error) {
		var posts []models.Post
		if _, err := api.fetcher.FetchJSON(ctx, target, api.cfg.ContentTimeout, &posts); err != nil {
			return cache.Payload{}, nil, err
		}
		if len(posts) == 0 {
			return cache.Payload{}, nil, fmt.Errorf("post %q: %w", slug, ErrNotFound)
		}

		post := posts[0]
		if err := post.Validate(); err != nil {
			return cache.Payload{}, nil, &upstream.Error{Kind: upstream.KindParse, URL: target, Err: err}
		}

		tags := []string{postTag(slug)}
		for _, id := range post.Categories {
			tags = append(tags, categoryTag(id))
		}

		body, err := json.Marshal(post)
		if err != nil {
			return cache.Payload{}, nil, err
		}
		return cache.Payload{Body: body}, tags, nil
	})
	if err != nil {
		api.handleError(w, r, "postBySlugHandler", err)
		return
	}

	if err := writePayload(w, p, cache.ControlHeader(cache.TTLPost, cache.GraceDefault)); err != nil {
		log.Errorf("[postBySlugHandler][%s] failed to write response: %v", sID, err)
		return
	}
	log.Debugf("[postBySlugHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}

// sitemapHandler lists slug and modification date of every post, walking the
// upstream pages up to the configured page cap.
func (api *API) sitemapHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	if _, err := api.upstreamBase(); err != nil {
		api.handleError(w, r, "sitemapHandler", err)
		return
	}

	p, err := api.cache.GetOrFetch(r.Context(), cache.Key("sitemap", nil), cache.TTLSitemap, func(ctx context.Context) (cache.Payload, []string, error) {
		entries := []models.SitemapEntry{}
		for page := 1; page <= max(api.cfg.SitemapMaxPages, 1); page++ {
			q := url.Values{}
			q.Set("per_page", strconv.Itoa(sitemapPageSize))
			q.Set("page", strconv.Itoa(page))
			q.Set("_fields", "slug,modified")

			target, err := api.upstreamURL("posts", q)
			if err != nil {
				return cache.Payload{}, nil, err
			}

			var batch []models.SitemapEntry
			hdr, err := api.fetcher.FetchJSON(ctx, target, api.cfg.ContentTimeout, &batch)
			if err != nil {
				return cache.Payload{}, nil, err
			}
			for _, e := range batch {
				if err := e.Validate(); err != nil {
					return cache.Payload{}, nil, &upstream.Error{Kind: upstream.KindParse, URL: target, Err: err}
				}
			}
			entries = append(entries, batch...)

			totalPages, _ := strconv.Atoi(hdr.Get("X-WP-TotalPages"))
			if page >= totalPages || len(batch) < sitemapPageSize {
				break
			}
		}

		body, err := json.Marshal(entries)
		if err != nil {
			return cache.Payload{}, nil, err
		}
		return cache.Payload{
			Body:    body,
			Headers: map[string]string{"X-WP-Total": strconv.Itoa(len(entries))},
		}, []string{tagPosts, tagSitemap}, nil
	})
	if err != nil {
		api.handleError(w, r, "sitemapHandler", err)
		return
	}

	if err := writePayload(w, p, cache.ControlHeader(cache.TTLSitemap, cache.GraceDefault)); err != nil {
		log.Errorf("[sitemapHandler][%s] failed to write response: %v", sID, err)
		return
	}
	log.Debugf("[sitemapHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}
