package jobpkg

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rdelgatto/jobagent/internal/blob"
	"github.com/rdelgatto/jobagent/internal/deps"
)

var (
	// ErrPackageNotFound means no package archive exists for the job.
	ErrPackageNotFound = errors.New("job package not found")
	// ErrInvalidStructure means the archive unpacked but does not have the
	// shape of a job package.
	ErrInvalidStructure = errors.New("invalid package structure")
)

// PackageKey returns the blob store key of a job's package archive.
func PackageKey(jobID int64) string {
	return fmt.Sprintf("jobs/%d/package.tar.gz", jobID)
}

// jobConfig is the package's job configuration file under the content dir.
type jobConfig struct {
	SelectedLanguage string `json:"SelectedLanguage"`
}

// Fetcher downloads job packages and prepares them for execution.
type Fetcher struct {
	store   blob.Store
	workDir string
	logger  *slog.Logger
}

// NewFetcher creates a fetcher extracting packages under workDir.
func NewFetcher(store blob.Store, workDir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{store: store, workDir: workDir, logger: logger}
}

// Fetch downloads the job's package archive, extracts it into a directory
// scoped to the instance, and validates its structure. A prior extraction for
// the same instance is replaced.
func (f *Fetcher) Fetch(ctx context.Context, jobID, instanceID int64) (*Package, error) {
	key := PackageKey(jobID)
	data, err := f.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %d (key %s)", ErrPackageNotFound, jobID, key)
		}
		return nil, fmt.Errorf("fetch package for job %d: %w", jobID, err)
	}

	dir := filepath.Join(f.workDir, fmt.Sprintf("instance-%d", instanceID))
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	if err := extractArchive(dir, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}

	pkg, err := validate(dir, jobID)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("package extracted",
		"job_id", jobID,
		"instance_id", instanceID,
		"language", pkg.Language,
		"entry", pkg.EntryFile,
	)
	return pkg, nil
}

// validate checks the extracted tree against the expected package shape and
// assembles the Package.
func validate(dir string, jobID int64) (*Package, error) {
	manifest, err := deps.ParseManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}

	cfgPath := filepath.Join(dir, ContentDir, JobConfigFile)
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("%w: missing %s/%s", ErrInvalidStructure, ContentDir, JobConfigFile)
	}
	var cfg jobConfig
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidStructure, JobConfigFile, err)
	}

	codeSubdir, ok := languageDirs[cfg.SelectedLanguage]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported language %q", ErrInvalidStructure, cfg.SelectedLanguage)
	}

	pkg := &Package{
		Dir:      dir,
		JobID:    jobID,
		Language: cfg.SelectedLanguage,
		Manifest: manifest,
	}

	codeDir := filepath.Join(dir, ContentDir, codeSubdir)
	entries, err := os.ReadDir(codeDir)
	if err != nil {
		return nil, fmt.Errorf("%w: missing code dir %s/%s", ErrInvalidStructure, ContentDir, codeSubdir)
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			present[e.Name()] = true
		}
	}
	for _, candidate := range entryFiles[cfg.SelectedLanguage] {
		if present[candidate] {
			pkg.EntryFile = candidate
			break
		}
	}
	if pkg.EntryFile == "" {
		return nil, fmt.Errorf("%w: no entry file (looked for %s)",
			ErrInvalidStructure, strings.Join(entryFiles[cfg.SelectedLanguage], ", "))
	}
	for name := range present {
		if name != pkg.EntryFile {
			pkg.Siblings = append(pkg.Siblings, name)
		}
	}

	return pkg, nil
}

// extractArchive unpacks a tar.gz stream into dir. Each entry is validated to
// prevent path traversal (zip-slip).
func extractArchive(dir string, r io.Reader) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve extraction dir: %w", err)
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		// Validate path stays within extraction directory.
		target := filepath.Join(absDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, absDir+string(filepath.Separator)) && target != absDir {
			return fmt.Errorf("archive entry %q escapes extraction directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent dir: %w", err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o755)
			if err != nil {
				return fmt.Errorf("create file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("write file %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close file %s: %w", target, err)
			}
		}
	}
	return nil
}
