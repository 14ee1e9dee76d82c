package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source is one catalog snapshot file: a source and the apps it lists
type Source struct {
	Identifier string `yaml:"identifier"`
	SourceURL  string `yaml:"sourceURL"`
	PatreonURL string `yaml:"patreonURL,omitempty"`
	Apps       []*App `yaml:"apps"`
}

// Loader reads catalog snapshot files from a directory
type Loader struct {
	dir string
}

// NewLoader creates a new catalog loader for the *.yaml files in dir
func NewLoader(dir string) *Loader {
	return &Loader{
		dir: dir,
	}
}

// LoadAll loads every app from every snapshot in the directory. Apps inherit source
// attributes they don't set themselves. A bundle identifier listed twice is an error.
func (l *Loader) LoadAll() ([]*App, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}

	seen := make(map[string]string)
	var apps []*App

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		source, err := l.loadSourceFromFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}

		for _, app := range source.Apps {
			if prev, ok := seen[app.BundleID]; ok {
				return nil, fmt.Errorf("%s is listed by both %s and %s", app.BundleID, prev, entry.Name())
			}
			seen[app.BundleID] = entry.Name()
			apps = append(apps, app)
		}
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].BundleID < apps[j].BundleID })
	return apps, nil
}

// loadSourceFromFile loads a single snapshot file
func (l *Loader) loadSourceFromFile(filePath string) (*Source, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var source Source
	if err := yaml.Unmarshal(data, &source); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	identifier := source.Identifier
	if identifier == "" && source.SourceURL != "" {
		if identifier, err = NormalizeURL(source.SourceURL); err != nil {
			return nil, err
		}
	}

	for _, app := range source.Apps {
		if err := l.validateApp(app); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		if app.SourceIdentifier == "" {
			app.SourceIdentifier = identifier
		}
		if app.SourceURL == "" {
			app.SourceURL = source.SourceURL
		}
		if app.PatreonURL == "" {
			app.PatreonURL = source.PatreonURL
		}
	}

	return &source, nil
}

// validateApp validates that an app has all required fields
func (l *Loader) validateApp(app *App) error {
	if app.BundleID == "" {
		return fmt.Errorf("bundleIdentifier is required")
	}
	if app.Name == "" {
		return fmt.Errorf("%s: name is required", app.BundleID)
	}
	for _, v := range app.Versions {
		if v.Version == "" {
			return fmt.Errorf("%s: version is required", app.BundleID)
		}
		if v.DownloadURL == "" {
			return fmt.Errorf("%s %s: downloadURL is required", app.BundleID, v.Version)
		}
	}
	return nil
}
