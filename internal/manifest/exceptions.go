package manifest

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed exceptions.yaml
var defaultExceptions []byte

// Exception exempts one (bundle identifier, version) pair from manifest verification
type Exception struct {
	BundleID string `yaml:"bundleID"`
	Version  string `yaml:"version"`
	Reason   string `yaml:"reason"`
}

type exceptionKey struct {
	bundleID string
	version  string
}

// Exceptions is an immutable table of grandfathered releases
type Exceptions struct {
	version int
	entries map[exceptionKey]Exception
}

type exceptionsFile struct {
	Version    int         `yaml:"version"`
	Exceptions []Exception `yaml:"exceptions"`
}

// LoadExceptions parses an exception table
func LoadExceptions(data []byte) (*Exceptions, error) {
	var file exceptionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse exceptions: %w", err)
	}
	if file.Version <= 0 {
		return nil, fmt.Errorf("exceptions table has no version")
	}

	entries := make(map[exceptionKey]Exception, len(file.Exceptions))
	for _, e := range file.Exceptions {
		if e.BundleID == "" || e.Version == "" {
			return nil, fmt.Errorf("exception %+v needs both bundleID and version", e)
		}
		key := exceptionKey{e.BundleID, e.Version}
		if _, dup := entries[key]; dup {
			return nil, fmt.Errorf("duplicate exception for %s %s", e.BundleID, e.Version)
		}
		entries[key] = e
	}

	return &Exceptions{version: file.Version, entries: entries}, nil
}

// DefaultExceptions returns the table compiled into the binary
func DefaultExceptions() (*Exceptions, error) {
	return LoadExceptions(defaultExceptions)
}

// Lookup returns the exception for (bundleID, version), if any
func (e *Exceptions) Lookup(bundleID, version string) (Exception, bool) {
	if e == nil {
		return Exception{}, false
	}
	ex, ok := e.entries[exceptionKey{bundleID, version}]
	return ex, ok
}

// Version is the table revision
func (e *Exceptions) Version() int {
	return e.version
}

// Len returns the number of exceptions
func (e *Exceptions) Len() int {
	return len(e.entries)
}
