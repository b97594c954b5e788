// Package runner executes job package code with a language-specific toolchain
// and reports the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rdelgatto/jobagent/internal/deps"
	"github.com/rdelgatto/jobagent/internal/jobpkg"
)

var (
	// ErrMissingConfiguration means the package carries no usable settings
	// file for the requested environment.
	ErrMissingConfiguration = errors.New("missing configuration")
	// ErrCompilationFailed means the package code failed to build; the job
	// code never ran.
	ErrCompilationFailed = errors.New("compilation failed")
	// ErrExecutionFailed means the job code ran and failed.
	ErrExecutionFailed = errors.New("execution failed")
)

// ExecutionContext is the identity a job run receives from the platform.
type ExecutionContext struct {
	AgentID           string
	JobID             int64
	InstanceID        int64
	ScheduleID        int64
	Environment       string
	WebhookParameters string
}

// RunSpec is everything a runner needs to execute one job instance.
type RunSpec struct {
	Pkg       *jobpkg.Package
	Context   ExecutionContext
	Artifacts []deps.Artifact
	// Settings is the merged configuration document handed to the job code.
	Settings string
	// LogLine receives each line of job output as it is produced.
	LogLine func(line string)
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	ExitCode int
}

// Runner executes packages of one language.
type Runner interface {
	Language() string
	Run(ctx context.Context, spec RunSpec) (RunResult, error)
}

// Registry holds registered runners keyed by package language.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds a runner under its language.
func (r *Registry) Register(rn Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[rn.Language()] = rn
}

// Resolve returns the runner for the given language.
func (r *Registry) Resolve(language string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runners[language]
	if !ok {
		return nil, fmt.Errorf("no runner registered for language %q", language)
	}
	return rn, nil
}

// Languages returns the registered languages, sorted for stable output.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.runners))
	for lang := range r.runners {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
