// Package runtimetest provides an in-memory runtime.Runtime for tests.
package runtimetest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/kedeai/imagehub/lib/runtime"
)

// Message mirrors one line of the engine's JSON progress stream.
type Message struct {
	Stream      string `json:"stream,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail,omitempty"`
}

// Stream encodes msgs as a newline-delimited JSON stream.
func Stream(msgs ...Message) io.ReadCloser {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range msgs {
		_ = enc.Encode(m)
	}
	return io.NopCloser(&buf)
}

// ErrorMessage builds a stream line reporting err.
func ErrorMessage(err string) Message {
	m := Message{Error: err}
	m.ErrorDetail = &struct {
		Message string `json:"message"`
	}{Message: err}
	return m
}

// Fake is a thread-safe runtime.Runtime. Successful builds and pulls register
// the image locally so Inspect finds it afterwards.
type Fake struct {
	mu         sync.Mutex
	images     map[string]runtime.ImageInfo
	remote     map[string]bool
	containers map[string]bool

	// BuildHook, when set, runs inside Build before the image is registered.
	// Returning a non-nil stream replaces the default success stream.
	BuildHook func(ctx context.Context, contextDir string, opts runtime.BuildOptions) (io.ReadCloser, error)
	// LoginErr is returned by Login when set.
	LoginErr error
	// PullGate, when set, blocks each Pull until it receives a value or ctx ends.
	PullGate chan struct{}

	Builds    atomic.Int32
	Pulls     atomic.Int32
	Logins    atomic.Int32
	Restarts  []string
	LastBuild runtime.BuildOptions
	LastFiles []string

	activeBld atomic.Int32
	maxActive atomic.Int32
}

var _ runtime.Runtime = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		images:     map[string]runtime.ImageInfo{},
		remote:     map[string]bool{},
		containers: map[string]bool{},
	}
}

// AddRemote makes ref pullable.
func (f *Fake) AddRemote(refs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range refs {
		f.remote[r] = true
	}
}

// AddLocal registers ref as already present locally and returns its id.
func (f *Fake) AddLocal(ref string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.register(ref)
}

// AddContainer registers a container that can be restarted.
func (f *Fake) AddContainer(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name] = true
}

// MaxConcurrentBuilds reports the highest number of overlapping builds seen.
func (f *Fake) MaxConcurrentBuilds() int {
	return int(f.maxActive.Load())
}

// ImageID returns the deterministic id the fake assigns to ref.
func ImageID(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (f *Fake) register(ref string) string {
	id := ImageID(ref)
	f.images[ref] = runtime.ImageInfo{ID: id, RepoTags: []string{ref}, Arch: "amd64"}
	return id
}

// Build implements runtime.Runtime.
func (f *Fake) Build(ctx context.Context, contextDir string, opts runtime.BuildOptions) (io.ReadCloser, error) {
	f.Builds.Add(1)
	active := f.activeBld.Add(1)
	defer f.activeBld.Add(-1)
	for {
		cur := f.maxActive.Load()
		if active <= cur || f.maxActive.CompareAndSwap(cur, active) {
			break
		}
	}

	var files []string
	_ = filepath.WalkDir(contextDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			rel, _ := filepath.Rel(contextDir, path)
			files = append(files, rel)
		}
		return nil
	})

	f.mu.Lock()
	f.LastBuild = opts
	f.LastFiles = files
	f.mu.Unlock()

	if f.BuildHook != nil {
		rc, err := f.BuildHook(ctx, contextDir, opts)
		if err != nil || rc != nil {
			return rc, err
		}
	}

	f.mu.Lock()
	id := f.register(opts.Tag)
	f.mu.Unlock()

	return Stream(
		Message{Stream: "Step 1/2 : FROM python:3.11-slim\n"},
		Message{Stream: "Step 2/2 : COPY . /app\n"},
		Message{Stream: fmt.Sprintf("Successfully built %s\n", id[7:19])},
		Message{Stream: fmt.Sprintf("Successfully tagged %s\n", opts.Tag)},
	), nil
}

// Login implements runtime.Runtime.
func (f *Fake) Login(ctx context.Context, auth runtime.Auth) error {
	f.Logins.Add(1)
	return f.LoginErr
}

// Pull implements runtime.Runtime.
func (f *Fake) Pull(ctx context.Context, ref string, auth runtime.Auth) (io.ReadCloser, error) {
	f.Pulls.Add(1)
	if f.PullGate != nil {
		select {
		case <-f.PullGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.remote[ref] {
		return nil, fmt.Errorf("%w: manifest for %s not found", runtime.ErrNotFound, ref)
	}
	f.register(ref)
	return Stream(
		Message{Status: "Pulling from " + ref},
		Message{Status: "Digest: " + ImageID(ref)},
		Message{Status: "Status: Downloaded newer image for " + ref},
	), nil
}

// Inspect implements runtime.Runtime.
func (f *Fake) Inspect(ctx context.Context, ref string) (*runtime.ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[ref]
	if !ok {
		return nil, fmt.Errorf("%w: no such image: %s", runtime.ErrNotFound, ref)
	}
	return &img, nil
}

// List implements runtime.Runtime.
func (f *Fake) List(ctx context.Context) ([]runtime.ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtime.ImageInfo, 0, len(f.images))
	for _, img := range f.images {
		out = append(out, img)
	}
	return out, nil
}

// RestartContainer implements runtime.Runtime.
func (f *Fake) RestartContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.containers[name] {
		return fmt.Errorf("%w: no such container: %s", runtime.ErrNotFound, name)
	}
	f.Restarts = append(f.Restarts, name)
	return nil
}
