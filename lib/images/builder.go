package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/nrednav/cuid2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kedeai/imagehub/lib/logger"
	hubotel "github.com/kedeai/imagehub/lib/otel"
	"github.com/kedeai/imagehub/lib/paths"
	"github.com/kedeai/imagehub/lib/runtime"
)

// DefaultMaxArchiveBytes limits extracted build context size.
const DefaultMaxArchiveBytes int64 = 2 << 30

// Builder turns an uploaded source archive into a tagged runtime image.
type Builder struct {
	rt              runtime.Runtime
	paths           *paths.Paths
	namespace       string
	maxArchiveBytes int64
	metrics         *hubotel.ImageMetrics
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Namespace prefixes derived image tags. Defaults to DefaultNamespace.
	Namespace string
	// MaxArchiveBytes caps extracted content. Defaults to DefaultMaxArchiveBytes.
	MaxArchiveBytes int64
}

// NewBuilder creates a Builder. metrics may be nil.
func NewBuilder(rt runtime.Runtime, p *paths.Paths, cfg BuilderConfig, metrics *hubotel.ImageMetrics) *Builder {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = DefaultMaxArchiveBytes
	}
	return &Builder{
		rt:              rt,
		paths:           p,
		namespace:       cfg.Namespace,
		maxArchiveBytes: cfg.MaxArchiveBytes,
		metrics:         metrics,
	}
}

// Namespace returns the namespace used for derived tags.
func (b *Builder) Namespace() string {
	return b.namespace
}

// Build extracts req.ArchivePath into a scratch directory owned by this
// build, runs the runtime build with ROOT_PATH set to the variant's root
// path and returns the resulting image. The scratch directory is removed on
// every exit path. Failures reported by the runtime come back as *BuildError
// and are never retried.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*Image, error) {
	if req.AppName == "" || req.VariantName == "" {
		return nil, fmt.Errorf("%w: app and variant names are required", ErrInvalidName)
	}
	if req.ImageTag == "" {
		tag, err := ImageTag(b.namespace, req.UserID, req.AppName, req.VariantName)
		if err != nil {
			return nil, err
		}
		req.ImageTag = tag
	}
	if req.ID == "" {
		req.ID = cuid2.Generate()
	}

	log := logger.FromContext(ctx).With("build_id", req.ID, "tag", req.ImageTag)
	ctx = logger.AddToContext(ctx, log)

	buildDir := b.paths.BuildDir(req.ID)
	defer func() {
		if err := os.RemoveAll(buildDir); err != nil {
			log.WarnContext(ctx, "failed to remove build dir", "path", buildDir, "error", err)
		}
	}()

	sourceDir := b.paths.BuildSourceDir(req.ID)
	n, err := ExtractArchive(req.ArchivePath, sourceDir, b.maxArchiveBytes)
	if err != nil {
		log.WarnContext(ctx, "archive extraction failed", "error", err)
		return nil, err
	}
	log.DebugContext(ctx, "archive extracted", "bytes", n)

	generated, err := EnsureDockerfile(sourceDir)
	if err != nil {
		return nil, &BuildError{Tag: req.ImageTag, Cause: err.Error()}
	}
	if generated {
		log.InfoContext(ctx, "generated Dockerfile for build context")
	}

	start := time.Now()
	img, err := b.run(ctx, log, sourceDir, req)
	b.recordBuild(ctx, start, err)
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "image built", "image_id", img.ID, "duration", time.Since(start))
	return img, nil
}

func (b *Builder) run(ctx context.Context, log *slog.Logger, sourceDir string, req BuildRequest) (*Image, error) {
	log.InfoContext(ctx, "starting image build", "root_path", req.RootPath())

	rc, err := b.rt.Build(ctx, sourceDir, runtime.BuildOptions{
		Tag:        req.ImageTag,
		Dockerfile: "Dockerfile",
		BuildArgs:  map[string]string{"ROOT_PATH": req.RootPath()},
	})
	if err != nil {
		return nil, fmt.Errorf("start build %s: %w", req.ImageTag, err)
	}
	defer rc.Close()

	res, err := drainStream(ctx, rc, log, slog.LevelInfo)
	if err != nil {
		return nil, fmt.Errorf("read build output %s: %w", req.ImageTag, err)
	}
	if res.Err != "" {
		return nil, &BuildError{Tag: req.ImageTag, Cause: res.Err, Log: res.Tail}
	}

	info, err := b.rt.Inspect(ctx, req.ImageTag)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, &BuildError{Tag: req.ImageTag, Cause: "build finished without producing " + req.ImageTag, Log: res.Tail}
		}
		return nil, fmt.Errorf("inspect built image %s: %w", req.ImageTag, err)
	}

	return &Image{
		ID:          info.ID,
		Tags:        primaryTag(info.RepoTags, req.ImageTag),
		RepoTags:    info.RepoTags,
		AppName:     req.AppName,
		VariantName: req.VariantName,
		UserID:      req.UserID,
	}, nil
}

func (b *Builder) recordBuild(ctx context.Context, start time.Time, err error) {
	if b.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	b.metrics.BuildDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// primaryTag prefers want when the runtime reports it, else the first tag.
func primaryTag(repoTags []string, want string) string {
	if len(repoTags) == 0 || slices.Contains(repoTags, want) {
		return want
	}
	return repoTags[0]
}
