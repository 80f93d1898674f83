package registry

import (
	"context"
	"time"
)

// Unknown is stored for manifest fields a registry did not report.
const Unknown = "dummy"

// Client reads repositories, tags and manifests from a registry.
type Client interface {
	// Repositories returns the de-duplicated, sorted catalog.
	Repositories(ctx context.Context) ([]string, error)
	// Tags returns the tags of repo in registry order.
	Tags(ctx context.Context, repo string) ([]string, error)
	// Manifest returns merged manifest metadata for repo:tag.
	Manifest(ctx context.Context, repo, tag string) (*ManifestInfo, error)
}

// Config configures an HTTPClient.
type Config struct {
	// URL is the registry API base, e.g. "http://127.0.0.1:5000/v2".
	// A bare host gets "https://" and "/v2" added.
	URL      string
	Username string
	Password string

	// Timeout bounds each individual request.
	Timeout time.Duration
	// MaxAttempts bounds attempts per call, including the first one.
	MaxAttempts uint
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
	// MaxPages bounds catalog and tag pagination. A listing that still has a
	// next page after MaxPages fails with ErrIncompleteListing.
	MaxPages int
}

const (
	DefaultTimeout         = 10 * time.Second
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
	DefaultMaxPages        = 1000
)

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
}

// ManifestInfo is the merged result of the single-manifest and manifest-list
// requests for one tag.
type ManifestInfo struct {
	Repository   string `json:"repository"`
	Tag          string `json:"tag"`
	MediaType    string `json:"media_type"`
	Size         int64  `json:"size"`
	Digest       string `json:"digest"`
	Architecture string `json:"architecture"`
	Status       string `json:"status"`
	LastPushed   string `json:"last_pushed"`
}

type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

type tagsResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}
