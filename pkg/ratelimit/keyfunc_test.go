package ratelimit

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "first forwarded value", trust: true, xff: "203.0.113.7, 10.0.0.1", want: "203.0.113.7"},
		{name: "single forwarded value", trust: true, xff: "203.0.113.8", want: "203.0.113.8"},
		{name: "real ip fallback", trust: true, realIP: "198.51.100.2", want: "198.51.100.2"},
		{name: "unknown when no headers", trust: true, want: UnknownClient},
		{name: "untrusted ignores header", trust: false, xff: "203.0.113.7", remoteAddr: "192.0.2.1:4321", want: "192.0.2.1"},
		{name: "untrusted without remote addr", trust: false, want: UnknownClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			if got := ClientIP(req, tt.trust); got != tt.want {
				t.Errorf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestKey(t *testing.T) {
	if got := Key("posts", "1.2.3.4"); got != "posts:1.2.3.4" {
		t.Errorf("want %q, got %q", "posts:1.2.3.4", got)
	}
}
