// Package templates keeps the local template catalog in step with the
// remote registry.
package templates

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("template not found")
	// ErrSyncAborted is returned when a pass fails before commit. The
	// catalog is left exactly as it was before the pass.
	ErrSyncAborted = errors.New("template sync aborted")
	ErrInvalid     = errors.New("invalid template")
)

// Template is one catalog entry, mirroring one repository tag.
type Template struct {
	ID           string    `json:"template_id"`
	Name         string    `json:"name"`
	RepoName     string    `json:"repo_name"`
	Tag          string    `json:"tag"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Size         int64     `json:"size"`
	Architecture string    `json:"architecture"`
	Digest       string    `json:"digest"`
	MediaType    string    `json:"media_type"`
	Status       string    `json:"status"`
	LastPushed   string    `json:"last_pushed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TemplateID is the catalog key of a repository tag.
func TemplateID(repo, tag string) string {
	return repo + "-" + tag
}

// Validate checks the fields every stored template needs.
func (t Template) Validate() error {
	if t.ID == "" {
		return errors.Join(ErrInvalid, errors.New("template_id is required"))
	}
	if t.RepoName == "" {
		return errors.Join(ErrInvalid, errors.New("repo_name is required"))
	}
	return nil
}

// Store persists templates.
type Store interface {
	// Upsert inserts t or replaces the entry with the same ID.
	Upsert(ctx context.Context, t Template) error
	Get(ctx context.Context, id string) (*Template, error)
	// Find returns the first template whose ID, tag or name equals key.
	Find(ctx context.Context, key string) (*Template, error)
	// List returns all templates ordered by ID.
	List(ctx context.Context) ([]Template, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	// Reconcile upserts every template and deletes all others, atomically.
	// It returns the IDs it deleted.
	Reconcile(ctx context.Context, templates []Template) ([]string, error)
	Close() error
}
