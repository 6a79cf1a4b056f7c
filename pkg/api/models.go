package api

import (
	"cmsgateway/pkg/cache"
	"cmsgateway/pkg/ratelimit"
)

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Param      string `json:"param,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type RateLimitStats struct {
	Keys     int                           `json:"keys"`
	Total    *ratelimit.Counters           `json:"total,omitempty"`
	ByFamily map[string]ratelimit.Counters `json:"by_family,omitempty"`
}

type StatsResponse struct {
	Cache     cache.Stats    `json:"cache"`
	RateLimit RateLimitStats `json:"rate_limit"`
}

type RevalidateResponse struct {
	Tag         string `json:"tag"`
	Revalidated int    `json:"revalidated"`
}
