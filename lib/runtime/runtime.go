// Package runtime abstracts the local container runtime (the Docker Engine)
// behind the small surface imagehub needs: build, login, pull, inspect,
// list and restart.
package runtime

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when an image or container does not exist.
	ErrNotFound = errors.New("runtime object not found")
	// ErrUnauthorized is returned when the runtime or registry rejects credentials.
	ErrUnauthorized = errors.New("runtime unauthorized")
)

// Runtime is the container runtime used by the builder, puller and restarter.
// Build and Pull return the runtime's JSON message stream; callers must drain
// and close it.
type Runtime interface {
	Build(ctx context.Context, contextDir string, opts BuildOptions) (io.ReadCloser, error)
	Login(ctx context.Context, auth Auth) error
	Pull(ctx context.Context, ref string, auth Auth) (io.ReadCloser, error)
	Inspect(ctx context.Context, ref string) (*ImageInfo, error)
	List(ctx context.Context) ([]ImageInfo, error)
	RestartContainer(ctx context.Context, name string) error
}

// BuildOptions configures a build from a context directory.
type BuildOptions struct {
	Tag        string
	Dockerfile string
	BuildArgs  map[string]string
}

// Auth holds registry credentials.
type Auth struct {
	Username      string
	Password      string
	ServerAddress string
}

// Empty reports whether no credentials are set.
func (a Auth) Empty() bool {
	return a.Username == "" && a.Password == ""
}

// ImageInfo is the runtime's view of a local image.
type ImageInfo struct {
	ID          string
	RepoTags    []string
	RepoDigests []string
	Size        int64
	Arch        string
}
