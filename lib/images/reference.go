package images

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// DefaultNamespace prefixes built image names.
const DefaultNamespace = "agentaai"

// NormalizedRef is a validated and normalized image reference.
// It can be either a tagged reference (e.g., "docker.io/library/alpine:latest")
// or a digest reference (e.g., "docker.io/library/alpine@sha256:abc123...").
type NormalizedRef struct {
	named    reference.Named
	raw      string
	familiar string
	tag      string
	digest   string
}

// ParseNormalizedRef validates and normalizes a user-provided image reference.
// Examples:
//   - "alpine" -> "docker.io/library/alpine:latest"
//   - "127.0.0.1:5000/kedeai/app:v1" -> unchanged
//   - "alpine@sha256:abc..." -> "docker.io/library/alpine@sha256:abc..."
func ParseNormalizedRef(s string) (*NormalizedRef, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidName, s, err)
	}

	ref := &NormalizedRef{}
	if canonical, ok := named.(reference.Canonical); ok {
		ref.digest = canonical.Digest().String()
		ref.named = canonical
	} else {
		tagged := reference.TagNameOnly(named)
		if t, ok := tagged.(reference.Tagged); ok {
			ref.tag = t.Tag()
		}
		ref.named = tagged
	}
	ref.raw = ref.named.String()
	ref.familiar = reference.FamiliarString(ref.named)
	return ref, nil
}

// String returns the full normalized reference.
func (r *NormalizedRef) String() string {
	return r.raw
}

// Familiar returns the short form the runtime reports in RepoTags,
// e.g. "kedeai/app:v1" rather than "docker.io/kedeai/app:v1".
func (r *NormalizedRef) Familiar() string {
	return r.familiar
}

// Repository returns the repository path without tag or digest.
// Example: "docker.io/library/alpine"
func (r *NormalizedRef) Repository() string {
	return reference.Domain(r.named) + "/" + reference.Path(r.named)
}

// Domain returns the registry host, e.g. "docker.io".
func (r *NormalizedRef) Domain() string {
	return reference.Domain(r.named)
}

// Tag returns the tag, or "" for digest references.
func (r *NormalizedRef) Tag() string {
	return r.tag
}

// Digest returns the digest, or "" for tagged references.
func (r *NormalizedRef) Digest() string {
	return r.digest
}

// IsDigest reports whether the reference pins a digest.
func (r *NormalizedRef) IsDigest() bool {
	return r.digest != ""
}

// ImageTag derives the tag of a built variant image:
// "<namespace>/<user>_<app>_<variant>:latest", lowercased. Characters of
// userID that are not valid in a repository name become "-". Without a user
// the tag is "<namespace>/<app>_<variant>:latest".
func ImageTag(namespace, userID, appName, variantName string) (string, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if appName == "" || variantName == "" {
		return "", fmt.Errorf("%w: app and variant names are required", ErrInvalidName)
	}
	name := appName + "_" + variantName
	if user := userComponent(userID); user != "" {
		name = user + "_" + name
	}
	tag := strings.ToLower(fmt.Sprintf("%s/%s:latest", namespace, name))
	ref, err := ParseNormalizedRef(tag)
	if err != nil {
		return "", err
	}
	return ref.Familiar(), nil
}

// userComponent lowercases id and collapses runs of characters outside
// [a-z0-9] into a single "-".
func userComponent(id string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// PullRef builds the reference to pull for req, prefixing req.Registry when
// the repository does not name a registry host itself.
func PullRef(req PullRequest) (*NormalizedRef, error) {
	if req.Repository == "" {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidName)
	}
	s := req.Repository
	if req.Registry != "" && !hasDomain(req.Repository) {
		s = strings.TrimSuffix(req.Registry, "/") + "/" + req.Repository
	}
	if req.Tag != "" {
		s += ":" + req.Tag
	}
	return ParseNormalizedRef(s)
}

// hasDomain reports whether the first path component looks like a registry host.
func hasDomain(repo string) bool {
	first, _, found := strings.Cut(repo, "/")
	if !found {
		return false
	}
	return strings.ContainsAny(first, ".:") || first == "localhost"
}
