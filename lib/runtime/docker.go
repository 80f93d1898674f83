package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
)

// Docker implements Runtime on top of the Docker Engine API.
type Docker struct {
	cli *client.Client
}

var _ Runtime = (*Docker)(nil)

// NewDocker connects to the engine configured by DOCKER_HOST and friends.
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

// Close releases the underlying client.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Build tars contextDir and submits it to the engine's build endpoint.
func (d *Docker) Build(ctx context.Context, contextDir string, opts BuildOptions) (io.ReadCloser, error) {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("tar build context: %w", err)
	}

	args := make(map[string]*string, len(opts.BuildArgs))
	for k, v := range opts.BuildArgs {
		args[k] = &v
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  opts.Dockerfile,
		BuildArgs:   args,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		buildCtx.Close()
		return nil, translate(err)
	}
	return &multiCloser{ReadCloser: resp.Body, extra: buildCtx}, nil
}

// Login validates credentials against a registry.
func (d *Docker) Login(ctx context.Context, auth Auth) error {
	_, err := d.cli.RegistryLogin(ctx, authConfig(auth))
	return translate(err)
}

// Pull starts pulling ref with the given credentials.
func (d *Docker) Pull(ctx context.Context, ref string, auth Auth) (io.ReadCloser, error) {
	opts := image.PullOptions{}
	if !auth.Empty() {
		encoded, err := registry.EncodeAuthConfig(authConfig(auth))
		if err != nil {
			return nil, fmt.Errorf("encode auth: %w", err)
		}
		opts.RegistryAuth = encoded
	}
	rc, err := d.cli.ImagePull(ctx, ref, opts)
	if err != nil {
		return nil, translate(err)
	}
	return rc, nil
}

// Inspect returns metadata for a local image.
func (d *Docker) Inspect(ctx context.Context, ref string) (*ImageInfo, error) {
	resp, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return nil, translate(err)
	}
	return &ImageInfo{
		ID:          resp.ID,
		RepoTags:    resp.RepoTags,
		RepoDigests: resp.RepoDigests,
		Size:        resp.Size,
		Arch:        resp.Architecture,
	}, nil
}

// List returns all local images.
func (d *Docker) List(ctx context.Context) ([]ImageInfo, error) {
	summaries, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, translate(err)
	}
	out := make([]ImageInfo, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, ImageInfo{
			ID:          s.ID,
			RepoTags:    s.RepoTags,
			RepoDigests: s.RepoDigests,
			Size:        s.Size,
		})
	}
	return out, nil
}

// RestartContainer restarts a container by name or id.
func (d *Docker) RestartContainer(ctx context.Context, name string) error {
	return translate(d.cli.ContainerRestart(ctx, name, container.StopOptions{}))
}

func authConfig(auth Auth) registry.AuthConfig {
	return registry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.ServerAddress,
	}
}

// translate maps engine error classes onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errdefs.IsUnauthorized(err), errdefs.IsForbidden(err):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	default:
		return err
	}
}

type multiCloser struct {
	io.ReadCloser
	extra io.Closer
}

func (m *multiCloser) Close() error {
	err := m.ReadCloser.Close()
	if cerr := m.extra.Close(); err == nil {
		err = cerr
	}
	return err
}
