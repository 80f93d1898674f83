package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/go-containerregistry/pkg/v1/types"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Accept headers for the two manifest requests.
const (
	AcceptManifest     = string(types.DockerManifestSchema2)
	AcceptManifestList = string(types.DockerManifestList)
)

// singleManifest is the subset of a schema2/OCI image manifest that is read.
type singleManifest struct {
	MediaType string             `json:"mediaType"`
	Config    *ocispec.Descriptor `json:"config"`
}

// manifestList covers both schema1 manifests, which carry a top-level
// architecture, and manifest lists / OCI indexes, which carry per-platform
// descriptors.
type manifestList struct {
	Architecture string               `json:"architecture"`
	Manifests    []ocispec.Descriptor `json:"manifests"`
}

// Manifest fetches repo:tag twice, once per Accept header, and merges the
// results. Fields a response does not provide stay at Unknown. Transport
// failures and credential rejection fail the call; any other non-200 status
// only leaves that response's fields unset.
func (c *HTTPClient) Manifest(ctx context.Context, repo, tag string) (*ManifestInfo, error) {
	ctx, span := c.tracer.Start(ctx, "registry.Manifest", trace.WithAttributes(
		attribute.String("repository", repo),
		attribute.String("tag", tag),
	))
	defer span.End()

	info := &ManifestInfo{
		Repository:   repo,
		Tag:          tag,
		MediaType:    Unknown,
		Digest:       Unknown,
		Architecture: Unknown,
		Status:       Unknown,
		LastPushed:   Unknown,
	}
	u := c.endpoint(repo, "manifests", tag)

	resp, err := c.do(ctx, "manifest", u, AcceptManifest)
	if err != nil {
		return nil, err
	}
	if isAuthStatus(resp.StatusCode) {
		return nil, resp.statusError(u)
	}
	if resp.StatusCode == http.StatusOK {
		applySingle(info, resp)
	}

	resp, err = c.do(ctx, "manifest_list", u, AcceptManifestList)
	if err != nil {
		return nil, err
	}
	if isAuthStatus(resp.StatusCode) {
		return nil, resp.statusError(u)
	}
	if resp.StatusCode == http.StatusOK {
		applyList(info, resp)
	}

	return info, nil
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func applySingle(info *ManifestInfo, resp *response) {
	var m singleManifest
	if err := json.Unmarshal(resp.Body, &m); err != nil {
		return
	}

	switch {
	case m.MediaType != "":
		info.MediaType = m.MediaType
	case resp.Header.Get("Content-Type") != "":
		info.MediaType = strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	}

	if m.Config != nil && m.Config.Digest != "" {
		info.Digest = m.Config.Digest.String()
		info.Size = m.Config.Size
	}
}

func applyList(info *ManifestInfo, resp *response) {
	var l manifestList
	if err := json.Unmarshal(resp.Body, &l); err != nil {
		return
	}

	if l.Architecture != "" {
		info.Architecture = l.Architecture
		return
	}
	for _, d := range l.Manifests {
		if d.Platform != nil && d.Platform.Architecture != "" && d.Platform.Architecture != "unknown" {
			info.Architecture = d.Platform.Architecture
			return
		}
	}
}
