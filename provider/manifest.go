package provider

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestEntry declares one provider in a manifest file.
type ManifestEntry struct {
	// Code is the registry key action nodes reference.
	Code string `yaml:"code"`
	// Kind selects the constructor registered with the loader.
	Kind string `yaml:"kind"`
	// Config is passed to the constructor and to Authenticate.
	Config map[string]any `yaml:"config,omitempty"`
}

// Manifest is the YAML document describing the providers to register at
// startup. This replaces any runtime discovery: the set of providers is
// fixed by the manifest and the constructors wired into the Loader.
type Manifest struct {
	Providers []ManifestEntry `yaml:"providers"`
}

// Constructor builds a provider from its manifest config.
type Constructor func(config map[string]any) (Provider, error)

// Loader populates a Registry from a manifest using a fixed table of
// kind constructors.
type Loader struct {
	constructors map[string]Constructor
}

// NewLoader creates a Loader with the given kind constructors.
func NewLoader(constructors map[string]Constructor) *Loader {
	return &Loader{constructors: constructors}
}

// LoadFile reads a manifest file and registers its providers.
func (l *Loader) LoadFile(ctx context.Context, registry *Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("provider: open manifest: %w", err)
	}
	defer f.Close()
	return l.Load(ctx, registry, f)
}

// Load parses a manifest from r and registers its providers. Each
// provider's credentials are verified through Authenticate before
// registration.
func (l *Loader) Load(ctx context.Context, registry *Registry, r io.Reader) error {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return fmt.Errorf("provider: decode manifest: %w", err)
	}

	for _, entry := range m.Providers {
		if entry.Code == "" {
			return fmt.Errorf("provider: manifest entry missing code")
		}
		construct, ok := l.constructors[entry.Kind]
		if !ok {
			return fmt.Errorf("provider: manifest entry %q names unknown kind %q", entry.Code, entry.Kind)
		}

		p, err := construct(entry.Config)
		if err != nil {
			return fmt.Errorf("provider: construct %q: %w", entry.Code, err)
		}

		authed, err := p.Authenticate(ctx, entry.Config)
		if err != nil {
			return fmt.Errorf("provider: authenticate %q: %w", entry.Code, err)
		}
		if !authed {
			return fmt.Errorf("provider: authentication rejected for %q", entry.Code)
		}

		if err := registry.Register(entry.Code, p); err != nil {
			return err
		}
	}
	return nil
}
