// Package setup initializes a tcexec workspace.
package setup

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/tcexec/internal/metadata"
	"github.com/msageha/tcexec/internal/model"
	"github.com/msageha/tcexec/internal/plan"
	"github.com/msageha/tcexec/templates"
)

const ConfigFile = "tcexec.yaml"

// starterFiles are copied from the templates into the workspace root.
var starterFiles = []string{ConfigFile, "fixtures.yaml", "bindings.yaml"}

// Run writes the starter config, fixtures and bindings into dir and creates
// the data directory layout. Existing files are never overwritten.
func Run(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve workspace dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}

	for _, name := range starterFiles {
		if _, err := os.Stat(filepath.Join(absDir, name)); err == nil {
			return fmt.Errorf("%s already exists in %s", name, absDir)
		}
	}

	cfg, err := templateConfig()
	if err != nil {
		return err
	}
	if err := validateTemplates(); err != nil {
		return err
	}

	dataDir := cfg.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(absDir, dataDir)
	}
	for _, d := range []string{"logs", "journal", "reports"} {
		if err := os.MkdirAll(filepath.Join(dataDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	for _, name := range starterFiles {
		if err := copyTemplateFile(name, filepath.Join(absDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func templateConfig() (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}
	cfg, err := decodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// decodeConfig rejects keys that no config field reads.
func decodeConfig(data []byte) (*model.Config, error) {
	dec := yamlv3.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg model.Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateTemplates parses the fixtures and bindings templates so a broken
// template fails init instead of the first serve.
func validateTemplates() error {
	data, err := fs.ReadFile(templates.FS, "fixtures.yaml")
	if err != nil {
		return fmt.Errorf("read fixtures template: %w", err)
	}
	var fx metadata.Fixtures
	if err := yamlv3.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("parse fixtures template: %w", err)
	}

	data, err = fs.ReadFile(templates.FS, "bindings.yaml")
	if err != nil {
		return fmt.Errorf("read bindings template: %w", err)
	}
	var b plan.Bindings
	if err := yamlv3.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("parse bindings template: %w", err)
	}
	return nil
}
