package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPost_UnmarshalCMSPayload(t *testing.T) {
	payload := `{
		"id": 42,
		"slug": "pleine-lune-en-balance",
		"title": {"rendered": "Pleine lune en Balance"},
		"excerpt": {"rendered": "<p>Un temps d'équilibre.</p>"},
		"content": {"rendered": "<p>Texte complet</p>"},
		"date": "2024-03-25T08:30:00",
		"modified": "2024-03-26T10:00:00",
		"featured_media": 7,
		"categories": [3, 5],
		"_embedded": {
			"author": [{"id": 1, "name": "Claire", "slug": "claire"}],
			"wp:featuredmedia": [{"id": 7, "source_url": "https://cms.test/wp-content/uploads/2024/03/lune.jpg", "alt_text": "Lune", "media_details": {"width": 1200, "height": 800}}]
		}
	}`

	var p Post
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("want valid post, got %v", err)
	}

	want := time.Date(2024, 3, 25, 8, 30, 0, 0, time.UTC)
	if !p.Published.Equal(want) {
		t.Errorf("want published %v, got %v", want, p.Published)
	}

	img, ok := p.FeaturedImage()
	if !ok {
		t.Fatal("want featured image")
	}
	if img.AltText != "Lune" || img.MediaDetails.Width != 1200 {
		t.Errorf("unexpected featured image: %+v", img)
	}
}

func TestPost_Validate(t *testing.T) {
	tests := []struct {
		name string
		post Post
		want error
	}{
		{name: "valid", post: Post{ID: 1, Slug: "a"}},
		{name: "missing id", post: Post{Slug: "a"}, want: ErrMissingID},
		{name: "missing slug", post: Post{ID: 1}, want: ErrMissingSlug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.post.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("want error %v, got %v", tt.want, err)
			}
		})
	}
}

func TestTime_InvalidValue(t *testing.T) {
	var tm Time
	if err := json.Unmarshal([]byte(`"yesterday"`), &tm); err == nil {
		t.Error("want error for malformed time")
	}
}

func TestTime_RoundTripKeepsLayout(t *testing.T) {
	in := []byte(`"2024-01-02T03:04:05"`)
	var tm Time
	if err := json.Unmarshal(in, &tm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := json.Marshal(tm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("want %s, got %s", in, out)
	}
}
