package deps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rdelgatto/jobagent/internal/toolexec"
)

// NuGetTool resolves dotnet dependencies by materializing a minimal project
// referencing only the requested packages and running a restore, which
// expands the transitive graph. The restore's assets file is parsed back into
// concrete package directories under the shared packages dir.
type NuGetTool struct {
	DotnetBin   string
	PackagesDir string
	Run         toolexec.Runner
}

// Compile-time interface satisfaction checks.
var (
	_ ResolveTool = (*NuGetTool)(nil)
	_ ResolveTool = (*PipTool)(nil)
)

const resolveProjectTemplate = `<Project Sdk="Microsoft.NET.Sdk">
  <PropertyGroup>
    <TargetFramework>net8.0</TargetFramework>
  </PropertyGroup>
  <ItemGroup>
%s  </ItemGroup>
</Project>
`

// Resolve restores the declared packages and returns every library in the
// resulting assets file.
func (t *NuGetTool) Resolve(ctx context.Context, scratchDir string, declared []Dependency) ([]Artifact, error) {
	var refs strings.Builder
	for _, d := range declared {
		fmt.Fprintf(&refs, "    <PackageReference Include=%q Version=%q />\n", d.Name, d.Version)
	}
	project := fmt.Sprintf(resolveProjectTemplate, refs.String())

	projectPath := filepath.Join(scratchDir, "resolve.csproj")
	if err := os.WriteFile(projectPath, []byte(project), 0o644); err != nil {
		return nil, fmt.Errorf("write project descriptor: %w", err)
	}

	res, err := t.Run.Run(ctx, toolexec.Spec{
		Dir:  scratchDir,
		Name: t.DotnetBin,
		Args: []string{"restore", projectPath, "--packages", t.PackagesDir},
	})
	if err != nil {
		return nil, fmt.Errorf("dotnet restore: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("dotnet restore exited %d: %s", res.ExitCode, tail(res.Stderr))
	}

	return t.parseAssets(filepath.Join(scratchDir, "obj", "project.assets.json"))
}

// assetsFile is the subset of the NuGet assets format the tool reads:
// libraries keyed "Name/Version" with a path relative to the packages dir.
type assetsFile struct {
	Libraries map[string]struct {
		Type string `json:"type"`
		Path string `json:"path"`
	} `json:"libraries"`
}

func (t *NuGetTool) parseAssets(path string) ([]Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assets file: %w", err)
	}

	var assets assetsFile
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("parse assets file: %w", err)
	}

	var arts []Artifact
	for key, lib := range assets.Libraries {
		if lib.Type != "" && lib.Type != "package" {
			continue
		}
		name, version, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		libPath := lib.Path
		if libPath == "" {
			libPath = strings.ToLower(key)
		}
		arts = append(arts, Artifact{
			Name:    name,
			Version: version,
			Path:    filepath.Join(t.PackagesDir, filepath.FromSlash(libPath)),
		})
	}

	return arts, nil
}

// PipTool resolves python dependencies by writing a requirements file and
// downloading the pinned distributions (plus their transitive dependencies)
// into the shared wheel directory.
type PipTool struct {
	PythonBin string
	WheelDir  string
	Run       toolexec.Runner
}

// Resolve downloads the declared distributions and maps the downloaded files
// back to dependencies by their filename-encoded name and version.
func (t *PipTool) Resolve(ctx context.Context, scratchDir string, declared []Dependency) ([]Artifact, error) {
	var reqs strings.Builder
	for _, d := range declared {
		fmt.Fprintf(&reqs, "%s==%s\n", d.Name, d.Version)
	}
	reqPath := filepath.Join(scratchDir, "requirements.txt")
	if err := os.WriteFile(reqPath, []byte(reqs.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write requirements: %w", err)
	}

	downloadDir := filepath.Join(scratchDir, "dist")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	res, err := t.Run.Run(ctx, toolexec.Spec{
		Dir:  scratchDir,
		Name: t.PythonBin,
		Args: []string{"-m", "pip", "download", "-r", reqPath, "-d", downloadDir},
	})
	if err != nil {
		return nil, fmt.Errorf("pip download: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("pip download exited %d: %s", res.ExitCode, tail(res.Stderr))
	}

	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		return nil, fmt.Errorf("read download dir: %w", err)
	}

	var arts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, version, ok := parseDistFilename(entry.Name())
		if !ok {
			continue
		}
		dst := filepath.Join(t.WheelDir, entry.Name())
		if err := moveFile(filepath.Join(downloadDir, entry.Name()), dst); err != nil {
			return nil, err
		}
		arts = append(arts, Artifact{Name: name, Version: version, Path: dst})
	}

	return arts, nil
}

// parseDistFilename extracts name and version from a wheel or sdist filename
// ("pkg_name-1.2.3-py3-none-any.whl", "pkg-name-1.2.3.tar.gz"). Distribution
// names normalize underscores to hyphens.
func parseDistFilename(filename string) (name, version string, ok bool) {
	base := filename
	switch {
	case strings.HasSuffix(base, ".whl"):
		base = strings.TrimSuffix(base, ".whl")
	case strings.HasSuffix(base, ".tar.gz"):
		base = strings.TrimSuffix(base, ".tar.gz")
	case strings.HasSuffix(base, ".zip"):
		base = strings.TrimSuffix(base, ".zip")
	default:
		return "", "", false
	}

	parts := strings.SplitN(base, "-", 3)
	if len(parts) < 2 {
		return "", "", false
	}
	return NormalizeName(parts[0]), parts[1], true
}

// moveFile renames src to dst, falling back to a copy when they are on
// different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}

// tail returns the last few lines of tool output for error messages.
func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
