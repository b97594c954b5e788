package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rdelgatto/jobagent/internal/jobpkg"
)

// LoadSettings builds the configuration document handed to job code. The
// environment-named settings file is preferred, falling back to the default
// file. The package's ConnectionStrings section is discarded wholesale and
// replaced with the worker's own map, so packaged credentials never reach the
// job.
func LoadSettings(pkg *jobpkg.Package, environment string, connectionStrings map[string]string) (string, error) {
	candidates := []string{
		filepath.Join(pkg.SettingsDir(), fmt.Sprintf(jobpkg.AppSettingsTemplate, environment)),
		filepath.Join(pkg.SettingsDir(), jobpkg.AppSettingsFile),
	}
	if environment == "" {
		candidates = candidates[1:]
	}

	var data []byte
	var err error
	for _, path := range candidates {
		data, err = os.ReadFile(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: no settings file for environment %q in %s",
			ErrMissingConfiguration, environment, pkg.SettingsDir())
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return "", fmt.Errorf("%w: parse settings: %v", ErrMissingConfiguration, err)
	}

	delete(settings, "ConnectionStrings")
	if len(connectionStrings) > 0 {
		cs := make(map[string]any, len(connectionStrings))
		for k, v := range connectionStrings {
			cs[k] = v
		}
		settings["ConnectionStrings"] = cs
	}

	merged, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	return string(merged), nil
}
