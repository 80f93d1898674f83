// Package containers restarts the running containers of deployed app variants.
package containers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kedeai/imagehub/lib/logger"
	"github.com/kedeai/imagehub/lib/runtime"
)

var (
	// ErrNotFound is returned when the variant has no container.
	ErrNotFound = errors.New("container not found")
	// ErrInvalidName is returned when an app, variant or user id is empty or
	// contains a path separator.
	ErrInvalidName = errors.New("invalid container name")
)

// RestartMessage acknowledges an accepted restart.
const RestartMessage = "Please wait a moment. The container is now restarting."

// Restarter restarts variant containers through the container runtime.
type Restarter struct {
	rt runtime.Runtime
}

// NewRestarter creates a Restarter on rt.
func NewRestarter(rt runtime.Runtime) *Restarter {
	return &Restarter{rt: rt}
}

// Name is the container name of a deployed variant.
func Name(app, variant, userID string) string {
	return app + "-" + variant + "-" + userID
}

// URLPath is the path prefix a variant is served under; it matches the
// ROOT_PATH its image was built with, minus the leading slash.
func URLPath(userID, app, variant string) (string, error) {
	if err := validate(app, variant, userID); err != nil {
		return "", err
	}
	return userID + "/" + app + "/" + variant, nil
}

// Restart restarts the container of app/variant owned by userID and returns
// the acknowledgement shown to the caller.
func (r *Restarter) Restart(ctx context.Context, app, variant, userID string) (string, error) {
	if err := validate(app, variant, userID); err != nil {
		return "", err
	}
	name := Name(app, variant, userID)
	log := logger.FromContext(ctx).With("container", name)

	if err := r.rt.RestartContainer(ctx, name); err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		log.ErrorContext(ctx, "container restart failed", "error", err)
		return "", fmt.Errorf("restart container %s: %w", name, err)
	}
	log.InfoContext(ctx, "container restarted")
	return RestartMessage, nil
}

func validate(app, variant, userID string) error {
	for field, v := range map[string]string{"app_name": app, "variant_name": variant, "user_id": userID} {
		if v == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidName, field)
		}
		if strings.ContainsAny(v, "/\\") || v == "." || v == ".." {
			return fmt.Errorf("%w: %s %q", ErrInvalidName, field, v)
		}
	}
	return nil
}
