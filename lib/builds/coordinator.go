// Package builds schedules image builds on a fixed-size worker pool, with at
// most one build in flight per image tag.
package builds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nrednav/cuid2"

	"github.com/kedeai/imagehub/lib/images"
	"github.com/kedeai/imagehub/lib/logger"
)

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("build queue closed")

const (
	// DefaultWorkers is the default number of concurrent builds.
	DefaultWorkers = 4
	// ShutdownTimeout bounds how long shutdown waits for running builds.
	ShutdownTimeout = time.Minute
)

// Builder runs one build to completion.
type Builder interface {
	Build(ctx context.Context, req images.BuildRequest) (*images.Image, error)
}

// Config holds configuration for the coordinator
type Config struct {
	// Workers is the maximum number of concurrent builds
	Workers int
	// Namespace is used to derive tags for requests that carry none
	Namespace string
}

// Coordinator queues builds and runs them on a bounded pool. A Submit for a
// tag that is already queued or building joins the existing build.
type Coordinator struct {
	builder Builder
	queue   *BuildQueue
	cfg     Config
	log     *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	inflight map[string]*Handle
	closed   bool
	wg       sync.WaitGroup
}

// NewCoordinator creates a coordinator. metrics may be nil.
func NewCoordinator(builder Builder, cfg Config, log *slog.Logger, metrics *Metrics) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		builder:  builder,
		queue:    NewBuildQueue(cfg.Workers),
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		inflight: make(map[string]*Handle),
	}
}

// Queue exposes the underlying queue, e.g. for metrics registration.
func (c *Coordinator) Queue() *BuildQueue {
	return c.queue
}

// SetMetrics attaches metrics after construction; the queue gauges need the
// coordinator's queue to exist first.
func (c *Coordinator) SetMetrics(m *Metrics) {
	c.metrics = m
}

// Handle is an awaitable reference to a submitted build.
type Handle struct {
	ID     string
	Tag    string
	UserID string

	key   string
	queue *BuildQueue
	done  chan struct{}
	img   *images.Image
	err   error
}

// Done is closed when the build finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the build finishes or ctx ends. Giving up on ctx does
// not stop the build.
func (h *Handle) Wait(ctx context.Context) (*images.Image, error) {
	select {
	case <-h.done:
		return h.img, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueuePosition returns the 1-based position while queued, nil once building or done.
func (h *Handle) QueuePosition() *int {
	select {
	case <-h.done:
		return nil
	default:
	}
	return h.queue.GetPosition(h.key)
}

// Submit queues req. If a build for the same user and tag is already queued
// or running, its handle is returned and req is dropped. Requests of
// different users never share a build.
func (c *Coordinator) Submit(ctx context.Context, req images.BuildRequest) (*Handle, error) {
	if req.ImageTag == "" {
		tag, err := images.ImageTag(c.cfg.Namespace, req.UserID, req.AppName, req.VariantName)
		if err != nil {
			return nil, err
		}
		req.ImageTag = tag
	}
	if req.ID == "" {
		req.ID = cuid2.Generate()
	}

	key := buildKey(req.UserID, req.ImageTag)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if h, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		c.log.InfoContext(ctx, "joining in-flight build", "tag", req.ImageTag, "build_id", h.ID, "request_id", req.ID)
		if c.metrics != nil {
			c.metrics.RecordDeduplicated(ctx)
		}
		return h, nil
	}
	h := &Handle{
		ID:     req.ID,
		Tag:    req.ImageTag,
		UserID: req.UserID,
		key:    key,
		queue:  c.queue,
		done:   make(chan struct{}),
	}
	c.inflight[key] = h
	c.wg.Add(1)
	c.mu.Unlock()

	// Builds run to completion even if the submitter goes away.
	buildCtx := logger.AddToContext(context.WithoutCancel(ctx), c.log)

	pos := c.queue.Enqueue(key, func() { c.run(buildCtx, h, req) })
	c.log.InfoContext(ctx, "build submitted", "tag", req.ImageTag, "build_id", req.ID, "queue_position", pos)
	return h, nil
}

func (c *Coordinator) run(ctx context.Context, h *Handle, req images.BuildRequest) {
	defer c.wg.Done()

	start := time.Now()
	img, err := c.build(ctx, req)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "failed"
		c.log.ErrorContext(ctx, "build failed", "tag", h.Tag, "build_id", h.ID, "error", err, "duration", duration)
	} else {
		c.log.InfoContext(ctx, "build succeeded", "tag", h.Tag, "build_id", h.ID, "image_id", img.ID, "duration", duration)
	}
	if c.metrics != nil {
		c.metrics.RecordBuild(ctx, status, duration)
	}

	// Free the queue slot, then leave the in-flight map before waking
	// waiters so a follow-up Submit starts a fresh build.
	c.queue.MarkComplete(h.key)
	c.mu.Lock()
	delete(c.inflight, h.key)
	c.mu.Unlock()

	h.img, h.err = img, err
	close(h.done)
}

func (c *Coordinator) build(ctx context.Context, req images.BuildRequest) (img *images.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build %s panicked: %v", req.ImageTag, r)
		}
	}()
	return c.builder.Build(ctx, req)
}

// buildKey identifies builds that may be shared.
func buildKey(userID, tag string) string {
	return userID + "\x00" + tag
}

// InFlight returns the number of queued and running builds.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Close rejects further submissions and waits for queued and running
// builds to finish, or for ctx to end.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for builds: %w", ctx.Err())
	}
}
