package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the local-time layout the CMS uses for post dates.
const TimeLayout = "2006-01-02T15:04:05"

// Time is a CMS timestamp without zone information.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.Parse(TimeLayout, s)
	if err != nil {
		// some installs emit RFC 3339 in the *_gmt fields
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", s, err)
		}
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.Format(TimeLayout) + `"`), nil
}

type Rendered struct {
	Rendered string `json:"rendered"`
}

type Post struct {
	ID            int       `json:"id"`
	Slug          string    `json:"slug"`
	Title         Rendered  `json:"title"`
	Excerpt       Rendered  `json:"excerpt"`
	Content       Rendered  `json:"content"`
	Published     Time      `json:"date"`
	Modified      Time      `json:"modified"`
	FeaturedMedia int       `json:"featured_media"`
	Categories    []int     `json:"categories"`
	Embedded      *Embedded `json:"_embedded,omitempty"`
}

// Embedded carries the related resources the CMS inlines when _embed is set.
type Embedded struct {
	Author        []Author `json:"author,omitempty"`
	FeaturedMedia []Media  `json:"wp:featuredmedia,omitempty"`
}

type Author struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Media struct {
	ID           int          `json:"id"`
	SourceURL    string       `json:"source_url"`
	AltText      string       `json:"alt_text"`
	MediaDetails MediaDetails `json:"media_details"`
}

type MediaDetails struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Category struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
}

// SitemapEntry is the reduced post shape used to build sitemaps.
type SitemapEntry struct {
	Slug     string `json:"slug"`
	Modified Time   `json:"modified"`
}

var (
	ErrMissingID   = errors.New("missing id")
	ErrMissingSlug = errors.New("missing slug")
)

func (p Post) Validate() error {
	if p.ID <= 0 {
		return ErrMissingID
	}
	if p.Slug == "" {
		return fmt.Errorf("post %d: %w", p.ID, ErrMissingSlug)
	}
	return nil
}

// FeaturedImage returns the embedded featured image, if any.
func (p Post) FeaturedImage() (Media, bool) {
	if p.Embedded == nil || len(p.Embedded.FeaturedMedia) == 0 {
		return Media{}, false
	}
	return p.Embedded.FeaturedMedia[0], true
}

func (c Category) Validate() error {
	if c.ID <= 0 {
		return ErrMissingID
	}
	if c.Slug == "" {
		return fmt.Errorf("category %d: %w", c.ID, ErrMissingSlug)
	}
	return nil
}

func (e SitemapEntry) Validate() error {
	if e.Slug == "" {
		return ErrMissingSlug
	}
	return nil
}
