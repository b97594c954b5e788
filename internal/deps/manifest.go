// Package deps resolves a job package's declared third-party libraries into
// concrete local artifacts, caching resolved artifacts across jobs.
package deps

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Dependency resolution runtime identifiers.
const (
	RuntimeDotnet = "dotnet"
	RuntimePython = "python"
)

// NormalizeName canonicalizes a library name for comparison and cache keying:
// lowercase, with underscores folded to hyphens the way python distribution
// filenames encode them. Declared names and tool-reported names go through the
// same fold so "My_Pkg" and "my-pkg" meet on one key.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

// Dependency is one declared library requirement from a package manifest.
type Dependency struct {
	Name          string `json:"Name"`
	Version       string `json:"Version"`
	TargetRuntime string `json:"TargetRuntime"`
}

// Artifact is a resolved library: a dependency pinned to a local path.
// Published library versions are immutable, so artifacts are cacheable keyed
// by (name, version, runtime).
type Artifact struct {
	Name    string
	Version string
	Runtime string
	Path    string
}

// Manifest is the package metadata file found at the package root. It is
// parsed fresh from every package — a job's declarations can change between
// runs, unlike the immutable libraries they point at.
type Manifest struct {
	Name         string       `json:"Name"`
	Version      string       `json:"Version"`
	Dependencies []Dependency `json:"Dependencies"`
}

// ParseManifest reads and parses a manifest file.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// RuntimeDependencies returns the declared dependencies for the given
// runtime, deduplicated by name. On a name conflict the last declared
// version wins; declaration order is otherwise irrelevant. Dependencies
// declaring no target runtime apply to every runtime.
func (m *Manifest) RuntimeDependencies(runtime string) []Dependency {
	var out []Dependency
	index := make(map[string]int)

	for _, d := range m.Dependencies {
		if d.Name == "" {
			continue
		}
		if d.TargetRuntime != "" && !strings.EqualFold(d.TargetRuntime, runtime) {
			continue
		}
		key := strings.ToLower(d.Name)
		if i, ok := index[key]; ok {
			out[i].Version = d.Version
			continue
		}
		index[key] = len(out)
		out = append(out, Dependency{Name: d.Name, Version: d.Version, TargetRuntime: runtime})
	}

	return out
}
