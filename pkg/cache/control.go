package cache

import (
	"fmt"
	"time"
)

// Lifetimes per content class.
const (
	TTLPosts      = 3600 * time.Second
	TTLPost       = 7200 * time.Second
	TTLCategories = 21600 * time.Second
	TTLSitemap    = 3600 * time.Second
)

// Grace multipliers for stale-while-revalidate.
const (
	GraceDefault = 4
	GraceRare    = 168
)

// ControlHeader renders the shared-cache directive for ttl with a grace window of ttl*grace.
func ControlHeader(ttl time.Duration, grace int) string {
	secs := int64(ttl / time.Second)
	return fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d", secs, secs*int64(grace))
}

const (
	ImmutableControl = "public, max-age=31536000, immutable"
	MissControl      = "public, max-age=300"
)
