package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"pgregory.net/rapid"

	"github.com/kedeai/imagehub/lib/images"
	hubotel "github.com/kedeai/imagehub/lib/otel"
	"github.com/kedeai/imagehub/lib/registry"
)

var errBoom = errors.New("boom")

// fakeRegistry serves a fixed repo -> tags map and can fail on demand.
type fakeRegistry struct {
	mu    sync.Mutex
	repos map[string][]string

	failCatalog  error
	failTags     map[string]error
	failManifest map[string]error // keyed by repo:tag
	delay        time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
	manifests atomic.Int32
}

func newFakeRegistry(repos map[string][]string) *fakeRegistry {
	return &fakeRegistry{
		repos:        repos,
		failTags:     map[string]error{},
		failManifest: map[string]error{},
	}
}

func (f *fakeRegistry) enter() func() {
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.active.Add(-1) }
}

func (f *fakeRegistry) Repositories(ctx context.Context) ([]string, error) {
	if f.failCatalog != nil {
		return nil, f.failCatalog
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for r := range f.repos {
		out = append(out, r)
	}
	slices.Sort(out)
	return out, nil
}

func (f *fakeRegistry) Tags(ctx context.Context, repo string) ([]string, error) {
	defer f.enter()()
	if err := f.failTags[repo]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.repos[repo]), nil
}

func (f *fakeRegistry) Manifest(ctx context.Context, repo, tag string) (*registry.ManifestInfo, error) {
	defer f.enter()()
	f.manifests.Add(1)
	if err := f.failManifest[repo+":"+tag]; err != nil {
		return nil, err
	}
	return &registry.ManifestInfo{
		Repository:   repo,
		Tag:          tag,
		MediaType:    "application/vnd.docker.distribution.manifest.v2+json",
		Size:         int64(len(repo) + len(tag)),
		Digest:       "sha256:" + repo + tag,
		Architecture: "amd64",
		Status:       registry.Unknown,
		LastPushed:   registry.Unknown,
	}, nil
}

// fakePuller records pulls and fails on the configured repo:tag.
type fakePuller struct {
	mu     sync.Mutex
	pulled []string
	fail   map[string]error
}

func (p *fakePuller) Pull(ctx context.Context, req images.PullRequest) (*images.PullResult, error) {
	ref := req.Repository + ":" + req.Tag
	if err := p.fail[ref]; err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.pulled = append(p.pulled, req.Registry+"/"+ref)
	p.mu.Unlock()
	return &images.PullResult{Ref: ref, ImageID: "sha256:" + ref}, nil
}

func ids(t *testing.T, s Store) []string {
	t.Helper()
	list, err := s.List(context.Background())
	require.NoError(t, err)
	out := make([]string, len(list))
	for i, tt := range list {
		out[i] = tt.ID
	}
	return out
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestSync_UpsertsAndPrunes(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry(map[string][]string{"myorg/app": {"v1", "v2"}})
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, tmpl("myorg/app", "v0")))
	puller := &fakePuller{}

	s := NewSynchronizer(reg, store, puller, SyncConfig{
		PullImages: true,
		Registry:   "127.0.0.1:5000",
		Username:   "admin",
		Password:   "secret",
	}, nil, WithClock(fixedClock))

	res, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"myorg/app-v1", "myorg/app-v2"}, res.Templates)
	assert.Equal(t, []string{"myorg/app-v0"}, res.Pruned)
	assert.Equal(t, 2, res.Pulled)
	assert.Equal(t, []string{"myorg/app-v1", "myorg/app-v2"}, ids(t, store))

	got, err := store.Get(ctx, "myorg/app-v1")
	require.NoError(t, err)
	assert.Equal(t, "myorg/app", got.Name)
	assert.Equal(t, "myorg/app", got.Title)
	assert.Equal(t, "myorg/app", got.Description)
	assert.Equal(t, "v1", got.Tag)
	assert.Equal(t, "amd64", got.Architecture)
	assert.Equal(t, registry.Unknown, got.Status)
	assert.Equal(t, fixedClock(), got.UpdatedAt)

	slices.Sort(puller.pulled)
	assert.Equal(t, []string{"127.0.0.1:5000/myorg/app:v1", "127.0.0.1:5000/myorg/app:v2"}, puller.pulled)
}

func TestSync_Idempotent(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry(map[string][]string{"a/b": {"1"}, "c": {"x", "y"}})
	store := NewMemoryStore()
	s := NewSynchronizer(reg, store, nil, SyncConfig{}, nil)

	first, err := s.Sync(ctx)
	require.NoError(t, err)
	second, err := s.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Templates, second.Templates)
	assert.Empty(t, second.Pruned)
	assert.Equal(t, []string{"a/b-1", "c-x", "c-y"}, ids(t, store))
}

func TestSync_AbortLeavesCatalogUntouched(t *testing.T) {
	seed := []Template{tmpl("myorg/app", "v0"), tmpl("other", "latest")}

	tests := []struct {
		name  string
		setup func(reg *fakeRegistry, p *fakePuller)
	}{
		{
			name:  "catalog failure",
			setup: func(reg *fakeRegistry, p *fakePuller) { reg.failCatalog = errBoom },
		},
		{
			name:  "tags failure",
			setup: func(reg *fakeRegistry, p *fakePuller) { reg.failTags["myorg/app"] = errBoom },
		},
		{
			name:  "manifest failure mid pass",
			setup: func(reg *fakeRegistry, p *fakePuller) { reg.failManifest["myorg/app:v2"] = errBoom },
		},
		{
			name:  "pull failure",
			setup: func(reg *fakeRegistry, p *fakePuller) { p.fail["myorg/app:v1"] = images.ErrNotFound },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			reg := newFakeRegistry(map[string][]string{"myorg/app": {"v1", "v2", "v3"}})
			puller := &fakePuller{fail: map[string]error{}}
			tt.setup(reg, puller)

			store := NewMemoryStore()
			for _, s := range seed {
				require.NoError(t, store.Upsert(ctx, s))
			}

			s := NewSynchronizer(reg, store, puller, SyncConfig{PullImages: true}, nil)
			res, err := s.Sync(ctx)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrSyncAborted)
			assert.Equal(t, []string{"myorg/app-v0", "other-latest"}, ids(t, store))
		})
	}
}

func TestSync_AbortKeepsCause(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{"r": {"t"}})
	reg.failManifest["r:t"] = fmt.Errorf("%w: 503", registry.ErrUnreachable)
	s := NewSynchronizer(reg, NewMemoryStore(), nil, SyncConfig{}, nil)

	_, err := s.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncAborted)
	assert.ErrorIs(t, err, registry.ErrUnreachable)
	assert.Contains(t, err.Error(), "r:t")
}

func TestSync_BoundedParallelism(t *testing.T) {
	repos := map[string][]string{}
	for i := range 6 {
		repos[fmt.Sprintf("repo%d", i)] = []string{"a", "b", "c"}
	}
	reg := newFakeRegistry(repos)
	reg.delay = 5 * time.Millisecond

	s := NewSynchronizer(reg, NewMemoryStore(), nil, SyncConfig{Parallelism: 2}, nil)
	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Templates, 18)
	assert.LessOrEqual(t, reg.maxActive.Load(), int32(2))
	assert.Equal(t, int32(18), reg.manifests.Load())
}

func TestSync_DefaultParallelism(t *testing.T) {
	s := NewSynchronizer(newFakeRegistry(nil), NewMemoryStore(), nil, SyncConfig{}, nil)
	assert.Equal(t, DefaultParallelism, s.cfg.Parallelism)
}

func TestSync_SerializesPasses(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{"r": {"t"}})
	reg.delay = 10 * time.Millisecond
	s := NewSynchronizer(reg, NewMemoryStore(), nil, SyncConfig{Parallelism: 8}, nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Sync(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	// one tags call and one manifest call per pass, never overlapping
	assert.Equal(t, int32(1), reg.maxActive.Load())
}

func TestSync_CollidingIDsDeduplicated(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{
		"a-b": {"c"},
		"a":   {"b-c"},
	})
	store := NewMemoryStore()
	s := NewSynchronizer(reg, store, nil, SyncConfig{}, nil)

	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a-b-c"}, res.Templates)
	assert.Equal(t, []string{"a-b-c"}, ids(t, store))
}

func TestSync_EmptyRegistryPrunesAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, tmpl("old", "1")))

	s := NewSynchronizer(newFakeRegistry(map[string][]string{}), store, nil, SyncConfig{}, nil)
	res, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Templates)
	assert.Equal(t, []string{"old-1"}, res.Pruned)
	assert.Empty(t, ids(t, store))
}

func TestSync_Metrics(t *testing.T) {
	reader := metric.NewManualReader()
	meter := metric.NewMeterProvider(metric.WithReader(reader)).Meter("test")
	store := NewMemoryStore()
	m, err := hubotel.NewSyncMetrics(meter, store.Count)
	require.NoError(t, err)

	reg := newFakeRegistry(map[string][]string{"r": {"1", "2"}})
	s := NewSynchronizer(reg, store, nil, SyncConfig{}, nil, WithMetrics(m))
	_, err = s.Sync(context.Background())
	require.NoError(t, err)
	reg.failCatalog = errBoom
	_, err = s.Sync(context.Background())
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := map[string]int64{}
	var templates int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "imagehub_sync_passes_total":
				sum := md.Data.(metricdata.Sum[int64])
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value("outcome")
					outcomes[v.AsString()] = dp.Value
				}
			case "imagehub_templates_total":
				g := md.Data.(metricdata.Gauge[int64])
				require.Len(t, g.DataPoints, 1)
				templates = g.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"success": 1, "aborted": 1}, outcomes)
	assert.Equal(t, int64(2), templates)
}

func TestAddTemplate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := NewSynchronizer(newFakeRegistry(nil), store, nil, SyncConfig{}, nil, WithClock(fixedClock))

	got, err := s.AddTemplate(ctx, Template{
		RepoName:     "myorg/app",
		Tag:          "v5",
		Size:         10,
		Architecture: "arm64",
	})
	require.NoError(t, err)
	assert.Equal(t, "myorg/app-v5", got.ID)
	assert.Equal(t, "myorg/app", got.Name)
	assert.Equal(t, "myorg/app", got.Title)
	assert.Equal(t, fixedClock(), got.UpdatedAt)

	found, err := s.Find(ctx, "v5")
	require.NoError(t, err)
	assert.Equal(t, *got, *found)

	list, err := s.Templates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	t.Run("explicit id kept", func(t *testing.T) {
		got, err := s.AddTemplate(ctx, Template{ID: "custom", RepoName: "myorg/app", Tag: "v6"})
		require.NoError(t, err)
		assert.Equal(t, "custom", got.ID)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := s.AddTemplate(ctx, Template{Name: "nameless"})
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestFind_NotFound(t *testing.T) {
	s := NewSynchronizer(newFakeRegistry(nil), NewMemoryStore(), nil, SyncConfig{}, nil)
	_, err := s.Find(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestSync_Property checks that a committed pass leaves exactly the
// registry's tags in the catalog, and that a failed pass changes nothing.
func TestSync_Property(t *testing.T) {
	segment := rapid.StringMatching(`[a-z][a-z0-9]{0,5}`)

	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		repos := rapid.MapOfN(segment, rapid.SliceOfNDistinct(segment, 0, 4, rapid.ID[string]), 0, 5).Draw(rt, "repos")
		seed := rapid.SliceOfN(rapid.Custom(func(rt *rapid.T) Template {
			return tmpl(segment.Draw(rt, "repo"), segment.Draw(rt, "tag"))
		}), 0, 5).Draw(rt, "seed")
		fail := rapid.Bool().Draw(rt, "fail")

		store := NewMemoryStore()
		for _, s := range seed {
			if err := store.Upsert(ctx, s); err != nil {
				rt.Fatal(err)
			}
		}
		before := ids(t, store)

		reg := newFakeRegistry(repos)
		var want []string
		for repo, tags := range repos {
			for _, tag := range tags {
				want = append(want, TemplateID(repo, tag))
				if fail {
					reg.failManifest[repo+":"+tag] = errBoom
				}
			}
		}
		want = slices.Compact(sortedCopy(want))

		s := NewSynchronizer(reg, store, nil, SyncConfig{Parallelism: 3}, nil)
		res, err := s.Sync(ctx)

		if fail && len(want) > 0 {
			if !errors.Is(err, ErrSyncAborted) {
				rt.Fatalf("expected abort, got %v", err)
			}
			if got := ids(t, store); !slices.Equal(got, before) {
				rt.Fatalf("catalog changed on abort: %v -> %v", before, got)
			}
			return
		}
		if err != nil {
			rt.Fatal(err)
		}
		got := ids(t, store)
		if !slices.Equal(got, want) {
			rt.Fatalf("catalog %v, want %v", got, want)
		}
		for _, id := range res.Pruned {
			if slices.Contains(want, id) {
				rt.Fatalf("pruned live template %s", id)
			}
		}
	})
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

// TestSync_AgainstRegistry runs a pass against an in-process registry and a
// SQLite catalog.
func TestSync_AgainstRegistry(t *testing.T) {
	srv := httptest.NewServer(ggcrregistry.New())
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	for _, ref := range []string{"myorg/app:v1", "myorg/app:v2", "tools/cli:latest"} {
		img, err := random.Image(128, 1)
		require.NoError(t, err)
		r, err := name.ParseReference(host+"/"+ref, name.Insecure)
		require.NoError(t, err)
		require.NoError(t, remote.Write(r, img))
	}

	client, err := registry.NewHTTPClient(registry.Config{
		URL:             srv.URL + "/v2",
		Timeout:         2 * time.Second,
		MaxAttempts:     1,
		InitialInterval: time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	store, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Upsert(ctx, tmpl("myorg/app", "v0")))

	s := NewSynchronizer(client, store, nil, SyncConfig{Parallelism: 2}, nil)
	res, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"myorg/app-v0"}, res.Pruned)
	assert.Equal(t, []string{"myorg/app-v1", "myorg/app-v2", "tools/cli-latest"}, ids(t, store))

	got, err := store.Get(ctx, "tools/cli-latest")
	require.NoError(t, err)
	assert.NotEmpty(t, got.Digest)
	assert.Positive(t, got.Size)
}

func TestSync_EndlessCatalogKeepsTemplates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every page points at another one, so the listing never completes.
		w.Header().Set("Link", `</v2/_catalog?last=myorg/app&n=1>; rel="next"`)
		_ = json.NewEncoder(w).Encode(map[string]any{"repositories": []string{"myorg/app"}})
	}))
	defer srv.Close()

	client, err := registry.NewHTTPClient(registry.Config{
		URL:         srv.URL + "/v2",
		Timeout:     2 * time.Second,
		MaxAttempts: 1,
		MaxPages:    2,
	})
	require.NoError(t, err)

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, tmpl("myorg/app", "v0")))
	require.NoError(t, store.Upsert(ctx, tmpl("other", "latest")))

	s := NewSynchronizer(client, store, nil, SyncConfig{}, nil)
	res, err := s.Sync(ctx)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSyncAborted)
	assert.ErrorIs(t, err, registry.ErrIncompleteListing)
	assert.Equal(t, []string{"myorg/app-v0", "other-latest"}, ids(t, store))
}
