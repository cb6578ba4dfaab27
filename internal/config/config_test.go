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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fstree/internal/diff"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, diff.DefaultPolicy().Mode, cfg.Policy().Mode)
	p := cfg.Policy()
	p.Ignore = nil
	assert.Equal(t, diff.DefaultPolicy(), p)
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want func(*diff.Policy)
	}{
		{"empty", "", func(*diff.Policy) {}},
		{"timestamps on", "diff:\n  timestamps: true\n", func(p *diff.Policy) { p.Timestamps = true }},
		{"explicit false", "diff:\n  mode: false\n  xattrs: false\n", func(p *diff.Policy) {
			p.Mode = false
			p.Xattrs = false
		}},
		{"exact content", "diff:\n  exact-content: true\n", func(p *diff.Policy) { p.ExactContent = true }},
		{"ignore", "diff:\n  ignore: [\"*.pyc\", \"var/cache/\"]\n", func(p *diff.Policy) {
			p.Ignore = []string{"*.pyc", "var/cache/"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			want := diff.DefaultPolicy()
			tt.want(&want)
			assert.Equal(t, want, cfg.Policy())
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("diff:\n  modes: true\n"))
	assert.Error(t, err)
}

func TestApplyDefaultsKeepsValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{Logging: "debug", Diff: DiffConfig{Content: boolPtr(false)}}
	cfg.ApplyDefaults()
	assert.Equal(t, "debug", cfg.Logging)
	require.NotNil(t, cfg.Diff.Content)
	assert.False(t, *cfg.Diff.Content)
	require.NotNil(t, cfg.Diff.Flags)
	assert.True(t, *cfg.Diff.Flags)
}

func TestWriteTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "conf", "fstree.yaml")
	require.NoError(t, WriteTemplate(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "exact-content: false")

	require.NoError(t, os.WriteFile(path, []byte("logging: debug\n"), 0o600))
	require.NoError(t, WriteTemplate(path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "logging: debug\n", string(data), "existing file is kept")
}

func TestLoad(t *testing.T) {
	t.Setenv("FSTREE_LOG", "")
	t.Setenv(CatalogEnv, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "fstree.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: INFO\ncatalog: /tmp/manifests.db\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel())
	assert.Equal(t, "/tmp/manifests.db", cfg.Catalog)

	cfg, err = Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.LogLevel())
	assert.Empty(t, cfg.Catalog)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FSTREE_LOG", "trace")
	t.Setenv(CatalogEnv, "/var/lib/fstree.db")

	cfg, err := Parse([]byte("logging: info\ncatalog: /tmp/other.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.LogLevel())
	assert.Equal(t, "/var/lib/fstree.db", cfg.Catalog)
}
