// Package config describes the gateway settings. The struct is built once at
// startup and handed to each component.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Limit is a request budget per window for one endpoint family.
type Limit struct {
	Requests int           `toml:"requests"`
	Window   time.Duration `toml:"window"`
}

type Limits struct {
	Posts      Limit `toml:"posts"`
	Post       Limit `toml:"post"`
	Categories Limit `toml:"categories"`
	Images     Limit `toml:"images"`
}

type Config struct {
	ServiceName string `toml:"serviceName"`
	HTTPAddr    string `toml:"httpAddr"`
	LogLevel    string `toml:"logLevel"`

	// UpstreamURL is the REST base of the CMS, e.g. https://cms.example.com/wp-json/wp/v2.
	UpstreamURL string `toml:"upstreamURL"`
	AssetOrigin string `toml:"assetOrigin"`
	AssetPrefix string `toml:"assetPrefix"`
	UserAgent   string `toml:"userAgent"`

	ContentTimeout  time.Duration `toml:"contentTimeout"`
	CategoryTimeout time.Duration `toml:"categoryTimeout"`
	ImageTimeout    time.Duration `toml:"imageTimeout"`

	TrustForwardedFor bool          `toml:"trustForwardedFor"`
	Limits            Limits        `toml:"limits"`
	SweepInterval     time.Duration `toml:"sweepInterval"`
	CacheMaxEntries   int           `toml:"cacheMaxEntries"`
	SitemapMaxPages   int           `toml:"sitemapMaxPages"`
	RevalidateSecret  string        `toml:"revalidateSecret"`

	KafkaAddr  string `toml:"kafkaAddr"`
	KafkaTopic string `toml:"kafkaTopic"`
	KafkaBatch int    `toml:"kafkaBatch"`

	RedisAddr     string `toml:"redisAddr"`
	RedisPassword string `toml:"redisPassword"`
	RedisDB       int    `toml:"redisDB"`
}

func Default() Config {
	return Config{
		ServiceName:       "cmsgateway",
		HTTPAddr:          ":8088",
		LogLevel:          "info",
		AssetPrefix:       "/wp-content/uploads/",
		ContentTimeout:    10 * time.Second,
		CategoryTimeout:   5 * time.Second,
		ImageTimeout:      10 * time.Second,
		TrustForwardedFor: true,
		Limits: Limits{
			Posts:      Limit{Requests: 30, Window: time.Minute},
			Post:       Limit{Requests: 60, Window: time.Minute},
			Categories: Limit{Requests: 30, Window: time.Minute},
			Images:     Limit{Requests: 200, Window: time.Minute},
		},
		SweepInterval:   time.Minute,
		CacheMaxEntries: 1000,
		SitemapMaxPages: 20,
	}
}

// Load reads a TOML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads TOML from a string on top of Default.
func Parse(data string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that would make the gateway misbehave. A missing
// upstream URL is allowed here; content requests then fail individually.
func (c Config) Validate() error {
	var errs []error

	for name, l := range map[string]Limit{
		"posts":      c.Limits.Posts,
		"post":       c.Limits.Post,
		"categories": c.Limits.Categories,
		"images":     c.Limits.Images,
	} {
		if l.Requests <= 0 {
			errs = append(errs, fmt.Errorf("limits.%s.requests must be > 0", name))
		}
		if l.Window <= 0 {
			errs = append(errs, fmt.Errorf("limits.%s.window must be > 0", name))
		}
	}
	if c.AssetPrefix == "" || !strings.HasPrefix(c.AssetPrefix, "/") {
		errs = append(errs, errors.New("assetPrefix must start with '/'"))
	}
	if c.ContentTimeout <= 0 || c.CategoryTimeout <= 0 || c.ImageTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be > 0"))
	}
	if c.KafkaBatch < 0 {
		errs = append(errs, errors.New("kafkaBatch must be >= 0"))
	}

	return errors.Join(errs...)
}
