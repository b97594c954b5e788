package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// ErrResolutionFailed is returned when the resolve operation itself fails —
// a total failure. A single dependency the resolver cannot account for is
// only skipped with a warning.
var ErrResolutionFailed = errors.New("dependency resolution failed")

// retryBackoff is the pause before the single retry of a failed resolve call.
const retryBackoff = 2 * time.Second

// ResolveTool performs the external resolve operation for one runtime: it is
// handed a scratch directory to materialize a minimal synthetic project
// descriptor in, expands the transitive graph itself, and returns every
// artifact it resolved (requested and transitive).
type ResolveTool interface {
	Resolve(ctx context.Context, scratchDir string, declared []Dependency) ([]Artifact, error)
}

// Resolver turns declared dependencies into local artifacts, consulting the
// cache first and invoking the runtime's ResolveTool only for misses.
type Resolver struct {
	cache  *Cache
	tools  map[string]ResolveTool
	logger *slog.Logger

	// backoff is swappable in tests.
	backoff time.Duration
}

// NewResolver creates a resolver over the given cache and per-runtime tools.
func NewResolver(cache *Cache, tools map[string]ResolveTool, logger *slog.Logger) *Resolver {
	return &Resolver{
		cache:   cache,
		tools:   tools,
		logger:  logger,
		backoff: retryBackoff,
	}
}

// Resolve returns artifacts for the declared dependencies. Dependencies the
// tool cannot account for are returned in skipped, not treated as fatal;
// execution proceeds without them and any downstream failure is attributable
// through the instance log.
func (r *Resolver) Resolve(ctx context.Context, runtime string, declared []Dependency) (resolved []Artifact, skipped []Dependency, err error) {
	var missing []Dependency
	for _, d := range declared {
		path, ok, err := r.cache.Get(ctx, d.Name, d.Version, runtime)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			resolved = append(resolved, Artifact{Name: d.Name, Version: d.Version, Runtime: runtime, Path: path})
			continue
		}
		missing = append(missing, d)
	}

	if len(missing) == 0 {
		return resolved, nil, nil
	}

	tool, ok := r.tools[runtime]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no resolve tool for runtime %q", ErrResolutionFailed, runtime)
	}

	arts, err := r.invoke(ctx, tool, missing)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	byName := make(map[string]bool, len(arts))
	for _, a := range arts {
		a.Runtime = runtime
		byName[NormalizeName(a.Name)] = true
		if err := r.cache.Put(ctx, a); err != nil {
			return nil, nil, err
		}
		resolved = append(resolved, a)
	}

	for _, d := range missing {
		if !byName[NormalizeName(d.Name)] {
			r.logger.Warn("dependency could not be resolved; skipping",
				"name", d.Name,
				"version", d.Version,
				"runtime", runtime,
			)
			skipped = append(skipped, d)
		}
	}

	return resolved, skipped, nil
}

// invoke runs the tool once, retrying a single time after a backoff so a
// transient failure is not immediately treated as total.
func (r *Resolver) invoke(ctx context.Context, tool ResolveTool, missing []Dependency) ([]Artifact, error) {
	scratch, err := os.MkdirTemp("", "jobagent-resolve-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	arts, err := tool.Resolve(ctx, scratch, missing)
	if err == nil {
		return arts, nil
	}

	r.logger.Warn("resolve attempt failed; retrying",
		"error", err,
		"backoff", r.backoff,
	)
	select {
	case <-time.After(r.backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return tool.Resolve(ctx, scratch, missing)
}
