package api

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
	maxPage        = 1000
)

var (
	slugPattern       = regexp.MustCompile(`^[a-z0-9-]{1,200}$`)
	categoriesPattern = regexp.MustCompile(`^[0-9]+(,[0-9]+)*$`)
	tagPattern        = regexp.MustCompile(`^[a-z]+(:[a-z0-9-]{1,200})?$`)
)

type listParams struct {
	PerPage    int
	Page       int
	Categories []int
	Embed      bool
}

// values renders the upstream query for a posts listing.
func (p listParams) values() url.Values {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(p.PerPage))
	q.Set("page", strconv.Itoa(p.Page))
	if len(p.Categories) > 0 {
		ids := make([]string, len(p.Categories))
		for i, id := range p.Categories {
			ids[i] = strconv.Itoa(id)
		}
		q.Set("categories", strings.Join(ids, ","))
	}
	if p.Embed {
		q.Set("_embed", "1")
	}
	return q
}

func parseListParams(q url.Values) (listParams, error) {
	p := listParams{PerPage: defaultPerPage, Page: 1}

	var err error
	if p.PerPage, err = boundedInt(q, "per_page", defaultPerPage, 1, maxPerPage); err != nil {
		return listParams{}, err
	}
	if p.Page, err = boundedInt(q, "page", 1, 1, maxPage); err != nil {
		return listParams{}, err
	}

	if raw := q.Get("categories"); raw != "" {
		if !categoriesPattern.MatchString(raw) {
			return listParams{}, invalid("categories", "must be a comma-separated list of positive integers")
		}
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.Atoi(part)
			if err != nil || id <= 0 {
				return listParams{}, invalid("categories", "must be a comma-separated list of positive integers")
			}
			p.Categories = append(p.Categories, id)
		}
	}

	if raw := q.Get("embed"); raw != "" {
		embed, err := strconv.ParseBool(raw)
		if err != nil {
			return listParams{}, invalid("embed", "must be true or false")
		}
		p.Embed = embed
	}

	return p, nil
}

func boundedInt(q url.Values, name string, def, lo, hi int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, invalid(name, "must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
	}
	return n, nil
}

func validateSlug(slug string) error {
	if slug == "" {
		return invalid("slug", "is required")
	}
	if strings.Contains(slug, "..") || strings.Contains(slug, "//") {
		return invalid("slug", "contains a forbidden sequence")
	}
	if !slugPattern.MatchString(slug) {
		return invalid("slug", "must be 1-200 lowercase letters, digits or hyphens")
	}
	return nil
}

// validateImagePath accepts only paths below prefix. It is not a complete
// traversal filter: encoded separators are passed through to the origin.
func validateImagePath(path, prefix string) error {
	if path == "" {
		return invalid("url", "is required")
	}
	if !strings.HasPrefix(path, prefix) {
		return invalid("url", "must start with "+prefix)
	}
	if strings.Contains(path, "..") {
		return invalid("url", "contains a forbidden sequence")
	}
	return nil
}
