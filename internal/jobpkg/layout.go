// Package jobpkg fetches job code packages from the blob store and validates
// their structure before handing them to a runner.
package jobpkg

import (
	"os"
	"path/filepath"

	"github.com/rdelgatto/jobagent/internal/deps"
)

// Fixed names within a job package.
const (
	ManifestFile = "manifest.json"
	ContentDir   = "Code"

	JobConfigFile       = "JobConfig.json"
	AppSettingsFile     = "appsettings.json"
	AppSettingsTemplate = "appsettings.%s.json"
)

// Languages a package can declare in its job config.
const (
	LanguageCSharp = "CSharp"
	LanguagePython = "Python"
)

// languageDirs maps a declared language to its code subdirectory under the
// content dir.
var languageDirs = map[string]string{
	LanguageCSharp: "CodeCSharp",
	LanguagePython: "CodePython",
}

// entryFiles lists the accepted entry file names per language, preferred
// first. The second name is a legacy layout still present in older packages.
var entryFiles = map[string][]string{
	LanguageCSharp: {"Job.cs", "JobCode.cs"},
	LanguagePython: {"main.py", "job.py"},
}

// runtimes maps a language to its dependency resolution runtime.
var runtimes = map[string]string{
	LanguageCSharp: deps.RuntimeDotnet,
	LanguagePython: deps.RuntimePython,
}

// Package is a fetched, extracted, and validated job package on local disk.
type Package struct {
	// Dir is the extraction root; everything below is relative to it.
	Dir   string
	JobID int64

	Language  string
	EntryFile string
	// Siblings are the other source files in the code dir, relative to it.
	Siblings []string

	Manifest *deps.Manifest
}

// ManifestPath returns the package manifest location.
func (p *Package) ManifestPath() string {
	return filepath.Join(p.Dir, ManifestFile)
}

// CodeDir returns the language-specific code directory.
func (p *Package) CodeDir() string {
	return filepath.Join(p.Dir, ContentDir, languageDirs[p.Language])
}

// EntryPath returns the absolute path of the entry file.
func (p *Package) EntryPath() string {
	return filepath.Join(p.CodeDir(), p.EntryFile)
}

// SettingsDir returns the directory holding the appsettings files.
func (p *Package) SettingsDir() string {
	return filepath.Join(p.Dir, ContentDir)
}

// Runtime returns the dependency resolution runtime for the package language.
func (p *Package) Runtime() string {
	return runtimes[p.Language]
}

// Cleanup removes the extraction dir, including build output and venvs the
// runners left under it.
func (p *Package) Cleanup() error {
	return os.RemoveAll(p.Dir)
}
