package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT CATALOG FILE
// ══════════════════════════════════════════════════════════════════════════════

// CatalogFile is the YAML form of an achievement catalog:
//
//	version: "2024.2"
//	achievements:
//	  - id: level_5
//	    title: Getting Started
//	    type: progression
//	    xp_reward: 100
//	    requirements:
//	      - kind: level
//	        min: 5
type CatalogFile struct {
	Version      string                      `yaml:"version"`
	Achievements []achievement.DefinitionDoc `yaml:"achievements"`
}

// LoadCatalog reads the catalog at path. An empty path returns the
// compiled-in catalog.
func LoadCatalog(path string) (*achievement.Catalog, error) {
	if path == "" {
		return achievement.DefaultCatalog(), nil
	}
	if !fileExists(path) {
		return nil, fmt.Errorf("catalog file %s: not found", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %s: %w", path, err)
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes a YAML catalog. Unknown fields are rejected.
func ParseCatalog(data []byte) (*achievement.Catalog, error) {
	var f CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty catalog")
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	if f.Version == "" {
		return nil, errors.New("version is required")
	}
	if len(f.Achievements) == 0 {
		return nil, errors.New("at least one achievement is required")
	}
	return achievement.CatalogFromDocs(f.Version, f.Achievements)
}

// WriteCatalog encodes c as YAML.
func WriteCatalog(w io.Writer, c *achievement.Catalog) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(CatalogFile{Version: c.Version(), Achievements: c.Docs()}); err != nil {
		return err
	}
	return enc.Close()
}
