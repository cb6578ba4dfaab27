// Copyright 2026 fstree Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads fstree settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fstree/internal/artifacts"
	"fstree/internal/common"
	"fstree/internal/diff"
)

// CatalogEnv overrides the configured catalog path when set.
const CatalogEnv = "FSTREE_CATALOG"

// DiffConfig mirrors diff.Policy. Fields that default to true are pointers
// so a missing key can be told apart from an explicit false.
type DiffConfig struct {
	Timestamps   bool     `yaml:"timestamps"`
	Mode         *bool    `yaml:"mode"`      // default: true
	Ownership    *bool    `yaml:"ownership"` // default: true
	Xattrs       *bool    `yaml:"xattrs"`    // default: true
	Content      *bool    `yaml:"content"`   // default: true
	Flags        *bool    `yaml:"flags"`     // default: true
	ExactContent bool     `yaml:"exact-content"`
	Ignore       []string `yaml:"ignore"`
}

// Config is the top-level settings file.
type Config struct {
	Logging string     `yaml:"logging"` // none, error, warn, info, debug, trace (case insensitive)
	Diff    DiffConfig `yaml:"diff"`
	Catalog string     `yaml:"catalog"` // path of the manifest database, empty disables it
}

func boolPtr(v bool) *bool {
	return &v
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Logging == "" {
		cfg.Logging = "none"
	}
	for _, f := range []**bool{&cfg.Diff.Mode, &cfg.Diff.Ownership, &cfg.Diff.Xattrs, &cfg.Diff.Content, &cfg.Diff.Flags} {
		if *f == nil {
			*f = boolPtr(true)
		}
	}
	if cfg.Diff.Ignore == nil {
		cfg.Diff.Ignore = []string{}
	}
}

// applyEnv lets the environment override file settings.
func (cfg *Config) applyEnv() {
	if v := os.Getenv(common.LogEnv); v != "" {
		cfg.Logging = v
	}
	if v := os.Getenv(CatalogEnv); v != "" {
		cfg.Catalog = v
	}
}

// Default returns the configuration used when no file is given: the
// embedded template plus environment overrides.
func Default() *Config {
	cfg, err := Parse(artifacts.DefaultConfig)
	if err != nil {
		panic("failed to parse embedded config template: " + err.Error())
	}
	return cfg
}

// WriteTemplate writes the commented default settings to path unless a
// file already exists there.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, artifacts.DefaultConfig, 0o600); err != nil {
		return fmt.Errorf("failed to write default settings: %w", err)
	}
	return nil
}

// Load reads the config file at path. A missing file yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// LogLevel returns the normalized (lowercase) logging level.
func (cfg *Config) LogLevel() string {
	return strings.ToLower(cfg.Logging)
}

// SetupLogging configures logrus from the logging level.
func (cfg *Config) SetupLogging() error {
	return common.SetupLogging(cfg.LogLevel())
}

// Policy converts the diff section into a comparison policy.
func (cfg *Config) Policy() diff.Policy {
	enabled := func(b *bool) bool {
		return b == nil || *b
	}
	return diff.Policy{
		Timestamps:   cfg.Diff.Timestamps,
		Mode:         enabled(cfg.Diff.Mode),
		Ownership:    enabled(cfg.Diff.Ownership),
		Xattrs:       enabled(cfg.Diff.Xattrs),
		Content:      enabled(cfg.Diff.Content),
		Flags:        enabled(cfg.Diff.Flags),
		ExactContent: cfg.Diff.ExactContent,
		Ignore:       append([]string(nil), cfg.Diff.Ignore...),
	}
}
