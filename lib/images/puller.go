package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/kedeai/imagehub/lib/logger"
	hubotel "github.com/kedeai/imagehub/lib/otel"
	"github.com/kedeai/imagehub/lib/runtime"
)

// Puller pulls images from registries into the local runtime. Concurrent
// pulls of the same reference share one runtime pull.
type Puller struct {
	rt      runtime.Runtime
	metrics *hubotel.ImageMetrics
	group   singleflight.Group
}

// NewPuller creates a Puller. metrics may be nil.
func NewPuller(rt runtime.Runtime, metrics *hubotel.ImageMetrics) *Puller {
	return &Puller{rt: rt, metrics: metrics}
}

// Pull logs in when credentials are given, pulls the reference and reports
// what the runtime now holds. ErrNotFound means the tag does not exist
// upstream; ErrAuth means the credentials were rejected.
func (p *Puller) Pull(ctx context.Context, req PullRequest) (*PullResult, error) {
	ref, err := PullRef(req)
	if err != nil {
		return nil, err
	}

	// The shared pull outlives any single waiter's cancellation.
	key := ref.String() + "|" + req.Username
	ch := p.group.DoChan(key, func() (any, error) {
		return p.pull(context.WithoutCancel(ctx), ref, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		// Waiters share r.Val; each gets its own copy.
		res := *r.Val.(*PullResult)
		res.RepoTags = slices.Clone(res.RepoTags)
		return &res, nil
	}
}

func (p *Puller) pull(ctx context.Context, ref *NormalizedRef, req PullRequest) (*PullResult, error) {
	log := logger.FromContext(ctx).With("ref", ref.Familiar())
	start := time.Now()

	res, err := p.doPull(ctx, log, ref, req)
	p.recordPull(ctx, start, err)
	if err != nil {
		log.WarnContext(ctx, "image pull failed", "error", err)
		return nil, err
	}
	log.InfoContext(ctx, "image pulled", "image_id", res.ImageID, "duration", time.Since(start))
	return res, nil
}

func (p *Puller) doPull(ctx context.Context, log *slog.Logger, ref *NormalizedRef, req PullRequest) (*PullResult, error) {
	auth := runtime.Auth{
		Username:      req.Username,
		Password:      req.Password,
		ServerAddress: req.Registry,
	}
	if auth.ServerAddress == "" {
		auth.ServerAddress = ref.Domain()
	}

	if !auth.Empty() {
		if err := p.rt.Login(ctx, auth); err != nil {
			if errors.Is(err, runtime.ErrUnauthorized) {
				return nil, fmt.Errorf("%w: login to %s: %v", ErrAuth, auth.ServerAddress, err)
			}
			return nil, fmt.Errorf("login to %s: %w", auth.ServerAddress, err)
		}
	}

	rc, err := p.rt.Pull(ctx, ref.String(), auth)
	if err != nil {
		return nil, translatePullError(ref, err)
	}
	defer rc.Close()

	stream, err := drainStream(ctx, rc, log, slog.LevelDebug)
	if err != nil {
		return nil, fmt.Errorf("read pull output %s: %w", ref.Familiar(), err)
	}
	if stream.Err != "" {
		return nil, classifyPullMessage(ref, stream.Err)
	}

	info, err := p.rt.Inspect(ctx, ref.String())
	if err != nil {
		return nil, translatePullError(ref, err)
	}
	return &PullResult{Ref: ref.Familiar(), ImageID: info.ID, RepoTags: info.RepoTags}, nil
}

// Inspect returns the runtime id of a local image.
func (p *Puller) Inspect(ctx context.Context, ref string) (string, error) {
	img, err := p.FindLocal(ctx, ref)
	if err != nil {
		return "", err
	}
	return img.ID, nil
}

// FindLocal returns the local image for ref, or ErrNotFound.
func (p *Puller) FindLocal(ctx context.Context, ref string) (*Image, error) {
	normalized, err := ParseNormalizedRef(ref)
	if err != nil {
		return nil, err
	}
	info, err := p.rt.Inspect(ctx, normalized.String())
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, normalized.Familiar())
		}
		return nil, fmt.Errorf("inspect %s: %w", normalized.Familiar(), err)
	}
	return &Image{
		ID:       info.ID,
		Tags:     primaryTag(info.RepoTags, normalized.Familiar()),
		RepoTags: info.RepoTags,
	}, nil
}

// ListLocal lists every tagged image in the local runtime.
func (p *Puller) ListLocal(ctx context.Context) ([]Image, error) {
	infos, err := p.rt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	out := make([]Image, 0, len(infos))
	for _, info := range infos {
		if len(info.RepoTags) == 0 {
			continue
		}
		out = append(out, Image{ID: info.ID, Tags: info.RepoTags[0], RepoTags: info.RepoTags})
	}
	return out, nil
}

func (p *Puller) recordPull(ctx context.Context, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrAuth):
		status = "unauthorized"
	case err != nil:
		status = "failed"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	p.metrics.PullsTotal.Add(ctx, 1, attrs)
	p.metrics.PullDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func translatePullError(ref *NormalizedRef, err error) error {
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		return fmt.Errorf("%w: %s: %v", ErrNotFound, ref.Familiar(), err)
	case errors.Is(err, runtime.ErrUnauthorized):
		return fmt.Errorf("%w: %s: %v", ErrAuth, ref.Familiar(), err)
	default:
		return fmt.Errorf("pull %s: %w", ref.Familiar(), err)
	}
}

// classifyPullMessage maps an error line from the pull stream to a sentinel.
func classifyPullMessage(ref *NormalizedRef, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "manifest unknown"),
		strings.Contains(lower, "not found"),
		strings.Contains(lower, "does not exist"):
		return fmt.Errorf("%w: %s: %s", ErrNotFound, ref.Familiar(), msg)
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "authentication required"),
		strings.Contains(lower, "denied"):
		return fmt.Errorf("%w: %s: %s", ErrAuth, ref.Familiar(), msg)
	default:
		return fmt.Errorf("pull %s: %s", ref.Familiar(), msg)
	}
}
