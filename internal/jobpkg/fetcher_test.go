package jobpkg

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rdelgatto/jobagent/internal/blob"
)

// buildArchive packs the given files (path → content) into a tar.gz.
func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		content := files[p]
		if err := tw.WriteHeader(&tar.Header{Name: p, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func validFiles() map[string]string {
	return map[string]string{
		"manifest.json":              `{"Name":"job","Version":"1.0","Dependencies":[]}`,
		"Code/JobConfig.json":        `{"SelectedLanguage":"CSharp"}`,
		"Code/appsettings.json":      `{}`,
		"Code/CodeCSharp/Job.cs":     "public class Job {}",
		"Code/CodeCSharp/Helper.cs":  "public class Helper {}",
		"Code/CodeCSharp/Helper2.cs": "public class Helper2 {}",
	}
}

func newTestFetcher(t *testing.T) (*Fetcher, blob.Store) {
	t.Helper()
	store, err := blob.NewFSStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewFetcher(store, filepath.Join(t.TempDir(), "work"), logger), store
}

func TestFetchValidPackage(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()
	if err := store.Put(ctx, PackageKey(42), buildArchive(t, validFiles())); err != nil {
		t.Fatalf("Put: %v", err)
	}

	pkg, err := f.Fetch(ctx, 42, 7)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if pkg.Language != LanguageCSharp {
		t.Errorf("Language = %q, want CSharp", pkg.Language)
	}
	if pkg.EntryFile != "Job.cs" {
		t.Errorf("EntryFile = %q, want Job.cs", pkg.EntryFile)
	}
	if len(pkg.Siblings) != 2 {
		t.Errorf("Siblings = %v, want the two helpers", pkg.Siblings)
	}
	if pkg.Manifest == nil || pkg.Manifest.Name != "job" {
		t.Errorf("Manifest = %+v, want parsed manifest", pkg.Manifest)
	}
	if _, err := os.Stat(pkg.EntryPath()); err != nil {
		t.Errorf("entry file not on disk: %v", err)
	}
}

func TestFetchLegacyEntryFallback(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()
	files := map[string]string{
		"manifest.json":              `{"Name":"legacy","Version":"1.0"}`,
		"Code/JobConfig.json":        `{"SelectedLanguage":"Python"}`,
		"Code/appsettings.json":      `{}`,
		"Code/CodePython/job.py":     "pass",
		"Code/CodePython/helpers.py": "pass",
	}
	if err := store.Put(ctx, PackageKey(1), buildArchive(t, files)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	pkg, err := f.Fetch(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if pkg.EntryFile != "job.py" {
		t.Errorf("EntryFile = %q, want legacy job.py", pkg.EntryFile)
	}
}

func TestFetchPrefersPrimaryEntry(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()
	files := validFiles()
	files["Code/CodeCSharp/JobCode.cs"] = "public class JobCode {}"
	if err := store.Put(ctx, PackageKey(2), buildArchive(t, files)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	pkg, err := f.Fetch(ctx, 2, 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if pkg.EntryFile != "Job.cs" {
		t.Errorf("EntryFile = %q, want Job.cs preferred over JobCode.cs", pkg.EntryFile)
	}
}

func TestFetchMissingPackage(t *testing.T) {
	f, _ := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), 99, 1)
	if !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("err = %v, want ErrPackageNotFound", err)
	}
}

func TestFetchStructuralFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"missing manifest", func(f map[string]string) { delete(f, "manifest.json") }},
		{"malformed manifest", func(f map[string]string) { f["manifest.json"] = "{not json" }},
		{"missing job config", func(f map[string]string) { delete(f, "Code/JobConfig.json") }},
		{"malformed job config", func(f map[string]string) { f["Code/JobConfig.json"] = "{" }},
		{"unknown language", func(f map[string]string) { f["Code/JobConfig.json"] = `{"SelectedLanguage":"Rust"}` }},
		{"missing code dir", func(f map[string]string) {
			delete(f, "Code/CodeCSharp/Job.cs")
			delete(f, "Code/CodeCSharp/Helper.cs")
			delete(f, "Code/CodeCSharp/Helper2.cs")
		}},
		{"missing entry file", func(f map[string]string) { delete(f, "Code/CodeCSharp/Job.cs") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, store := newTestFetcher(t)
			ctx := context.Background()
			files := validFiles()
			tc.mutate(files)
			if err := store.Put(ctx, PackageKey(5), buildArchive(t, files)); err != nil {
				t.Fatalf("Put: %v", err)
			}

			if _, err := f.Fetch(ctx, 5, 1); !errors.Is(err, ErrInvalidStructure) {
				t.Errorf("err = %v, want ErrInvalidStructure", err)
			}
		})
	}
}

func TestFetchCorruptArchive(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()
	if err := store.Put(ctx, PackageKey(3), []byte("not a gzip stream")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := f.Fetch(ctx, 3, 1); !errors.Is(err, ErrInvalidStructure) {
		t.Errorf("err = %v, want ErrInvalidStructure", err)
	}
}

func TestFetchRejectsTraversalEntries(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()
	files := validFiles()
	files["../escape.txt"] = "outside"
	if err := store.Put(ctx, PackageKey(4), buildArchive(t, files)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := f.Fetch(ctx, 4, 1); !errors.Is(err, ErrInvalidStructure) {
		t.Errorf("err = %v, want ErrInvalidStructure for traversal entry", err)
	}
}

func TestFetchReplacesPriorExtraction(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()
	if err := store.Put(ctx, PackageKey(6), buildArchive(t, validFiles())); err != nil {
		t.Fatalf("Put: %v", err)
	}

	pkg, err := f.Fetch(ctx, 6, 1)
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	stale := filepath.Join(pkg.Dir, "leftover.tmp")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	if _, err := f.Fetch(ctx, 6, 1); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("prior extraction not replaced")
	}
}

func TestPackageKey(t *testing.T) {
	if got := PackageKey(123); got != "jobs/123/package.tar.gz" {
		t.Errorf("PackageKey = %q", got)
	}
}
