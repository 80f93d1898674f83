package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/kedeai/imagehub/lib/images"
	hubotel "github.com/kedeai/imagehub/lib/otel"
	"github.com/kedeai/imagehub/lib/registry"
)

// DefaultParallelism bounds concurrent registry work within a pass.
const DefaultParallelism = 4

// Puller pulls a template image into the local runtime.
type Puller interface {
	Pull(ctx context.Context, req images.PullRequest) (*images.PullResult, error)
}

// SyncConfig configures a Synchronizer.
type SyncConfig struct {
	Parallelism int
	// PullImages pulls every catalogued tag into the local runtime.
	PullImages bool
	// Registry is the registry location passed to pulls, e.g. "127.0.0.1:5000".
	Registry string
	Username string
	Password string
}

// SyncResult reports one committed pass.
type SyncResult struct {
	Templates []string      `json:"templates"`
	Pruned    []string      `json:"pruned"`
	Pulled    int           `json:"pulled"`
	Duration  time.Duration `json:"duration"`
}

// Synchronizer mirrors the registry's repository tags into the catalog.
type Synchronizer struct {
	registry registry.Client
	store    Store
	puller   Puller
	cfg      SyncConfig
	log      *slog.Logger
	metrics  *hubotel.SyncMetrics
	tracer   trace.Tracer
	now      func() time.Time

	// serializes passes
	mu sync.Mutex
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

// WithMetrics records pass outcomes.
func WithMetrics(m *hubotel.SyncMetrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithTracer records one span per pass.
func WithTracer(t trace.Tracer) Option {
	return func(s *Synchronizer) { s.tracer = t }
}

// WithClock overrides time.Now for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// NewSynchronizer creates a Synchronizer. puller may be nil when
// cfg.PullImages is false.
func NewSynchronizer(reg registry.Client, store Store, puller Puller, cfg SyncConfig, log *slog.Logger, opts ...Option) *Synchronizer {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = DefaultParallelism
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Synchronizer{
		registry: reg,
		store:    store,
		puller:   puller,
		cfg:      cfg,
		log:      log,
		tracer:   tracenoop.NewTracerProvider().Tracer("templates"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type entry struct {
	repo, tag string
}

// Sync runs one pass. Every repository tag is fetched, described and
// (optionally) pulled first; only when all of that succeeded are the results
// upserted and stale entries pruned, in one step. Any failure returns
// ErrSyncAborted and leaves the catalog untouched.
func (s *Synchronizer) Sync(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "templates.Sync")
	defer span.End()

	start := time.Now()
	res, err := s.sync(ctx)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "aborted"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.ErrorContext(ctx, "template sync aborted", "error", err, "duration", duration)
	} else {
		res.Duration = duration
		span.SetAttributes(
			attribute.Int("templates", len(res.Templates)),
			attribute.Int("pruned", len(res.Pruned)),
		)
		s.log.InfoContext(ctx, "template sync complete",
			"templates", len(res.Templates), "pruned", len(res.Pruned), "pulled", res.Pulled, "duration", duration)
	}

	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		s.metrics.PassesTotal.Add(ctx, 1, attrs)
		s.metrics.PassDuration.Record(ctx, duration.Seconds(), attrs)
		if res != nil && len(res.Pruned) > 0 {
			s.metrics.PrunedTotal.Add(ctx, int64(len(res.Pruned)))
		}
	}
	return res, err
}

func (s *Synchronizer) sync(ctx context.Context) (*SyncResult, error) {
	repos, err := s.registry.Repositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list repositories: %w", ErrSyncAborted, err)
	}

	entries, err := s.listEntries(ctx, repos)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncAborted, err)
	}

	templates, pulled, err := s.describe(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncAborted, err)
	}

	pruned, err := s.store.Reconcile(ctx, templates)
	if err != nil {
		return nil, fmt.Errorf("%w: reconcile catalog: %w", ErrSyncAborted, err)
	}
	for _, id := range pruned {
		s.log.InfoContext(ctx, "pruned stale template", "template_id", id)
	}

	ids := make([]string, len(templates))
	for i, t := range templates {
		ids[i] = t.ID
	}
	return &SyncResult{Templates: ids, Pruned: pruned, Pulled: pulled}, nil
}

// listEntries fetches tags for every repository with bounded parallelism.
func (s *Synchronizer) listEntries(ctx context.Context, repos []string) ([]entry, error) {
	tagsByRepo := make([][]string, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, repo := range repos {
		g.Go(func() error {
			tags, err := s.registry.Tags(gctx, repo)
			if err != nil {
				return fmt.Errorf("list tags of %s: %w", repo, err)
			}
			tagsByRepo[i] = tags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []entry
	for i, repo := range repos {
		for _, tag := range tagsByRepo[i] {
			entries = append(entries, entry{repo: repo, tag: tag})
		}
	}
	return entries, nil
}

// describe fetches the manifest of every entry and pulls its image.
// Results keep entry order.
func (s *Synchronizer) describe(ctx context.Context, entries []entry) ([]Template, int, error) {
	templates := make([]Template, len(entries))
	pulled := make([]bool, len(entries))
	now := s.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, e := range entries {
		g.Go(func() error {
			m, err := s.registry.Manifest(gctx, e.repo, e.tag)
			if err != nil {
				return fmt.Errorf("fetch manifest %s:%s: %w", e.repo, e.tag, err)
			}
			templates[i] = fromManifest(e, m, now)

			if s.cfg.PullImages && s.puller != nil {
				if _, err := s.puller.Pull(gctx, images.PullRequest{
					Repository: e.repo,
					Tag:        e.tag,
					Username:   s.cfg.Username,
					Password:   s.cfg.Password,
					Registry:   s.cfg.Registry,
				}); err != nil {
					return fmt.Errorf("pull %s:%s: %w", e.repo, e.tag, err)
				}
				pulled[i] = true
			}
			s.log.DebugContext(gctx, "template described", "template_id", templates[i].ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	n := 0
	for _, p := range pulled {
		if p {
			n++
		}
	}
	return dedupe(templates), n, nil
}

// dedupe keeps the first template per ID; "a-b"+"c" and "a"+"b-c" collide.
func dedupe(in []Template) []Template {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, t := range in {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

func fromManifest(e entry, m *registry.ManifestInfo, now time.Time) Template {
	return Template{
		ID:           TemplateID(e.repo, e.tag),
		Name:         e.repo,
		RepoName:     e.repo,
		Tag:          e.tag,
		Title:        e.repo,
		Description:  e.repo,
		Size:         m.Size,
		Architecture: m.Architecture,
		Digest:       m.Digest,
		MediaType:    m.MediaType,
		Status:       m.Status,
		LastPushed:   m.LastPushed,
		UpdatedAt:    now,
	}
}

// AddTemplate stores a single template outside of a sync pass.
func (s *Synchronizer) AddTemplate(ctx context.Context, t Template) (*Template, error) {
	if t.Name == "" {
		t.Name = t.RepoName
	}
	if t.Title == "" {
		t.Title = t.Name
	}
	if t.Description == "" {
		t.Description = t.Name
	}
	if t.ID == "" && t.RepoName != "" && t.Tag != "" {
		t.ID = TemplateID(t.RepoName, t.Tag)
	}
	t.UpdatedAt = s.now().UTC()

	if err := s.store.Upsert(ctx, t); err != nil {
		if errors.Is(err, ErrInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("add template %s: %w", t.ID, err)
	}
	s.log.InfoContext(ctx, "template added", "template_id", t.ID)
	return &t, nil
}

// Templates returns the current catalog.
func (s *Synchronizer) Templates(ctx context.Context) ([]Template, error) {
	return s.store.List(ctx)
}

// Find looks a template up by ID, tag or name.
func (s *Synchronizer) Find(ctx context.Context, key string) (*Template, error) {
	return s.store.Find(ctx, key)
}
