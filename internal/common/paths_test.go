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

package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Empty and root
		{"empty", "", ""},
		{"root", "/", ""},
		{"double_root", "//", ""},
		{"dot", ".", ""},

		// Simple paths
		{"simple", "foo", "foo"},
		{"leading_slash", "/foo", "foo"},
		{"trailing_slash", "foo/", "foo"},
		{"both_slashes", "/foo/", "foo"},

		// Nested paths
		{"two_parts", "foo/bar", "foo/bar"},
		{"two_parts_leading_slash", "/foo/bar", "foo/bar"},
		{"two_parts_trailing_slash", "/foo/bar/", "foo/bar"},
		{"three_parts", "foo/bar/baz", "foo/bar/baz"},

		// Paths with dots
		{"dot_prefix", "./foo", "foo"},
		{"dot_suffix", "foo/.", "foo"},
		{"dot_middle", "foo/./bar", "foo/bar"},
		{"dotdot_middle", "foo/../bar", "bar"},
		{"dotdot_middle_leading_slash", "/foo/../bar", "bar"},

		// Multiple slashes
		{"double_slash", "foo//bar", "foo/bar"},
		{"multiple_slashes", "/foo//bar//", "foo/bar"},
		{"many_slashes", "///foo///bar///", "foo/bar"},

		// ".." cannot climb above the root
		{"dotdot", "..", ""},
		{"dotdot_prefix", "../foo", "foo"},
		{"dotdot_suffix", "foo/..", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NormalizePath(tt.input)
			assert.Equal(t, tt.want, got, "NormalizePath(%q)", tt.input)
		})
	}
}

func TestSplitPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		// Empty and root
		{"empty", "", nil},
		{"root", "/", nil},
		{"dot", ".", nil},

		// Single component
		{"simple", "foo", []string{"foo"}},
		{"leading_slash", "/foo", []string{"foo"}},
		{"trailing_slash", "foo/", []string{"foo"}},

		// Multiple components
		{"two_parts", "foo/bar", []string{"foo", "bar"}},
		{"two_parts_leading_slash", "/foo/bar", []string{"foo", "bar"}},
		{"three_parts", "foo/bar/baz", []string{"foo", "bar", "baz"}},
		{"three_parts_both_slashes", "/foo/bar/baz/", []string{"foo", "bar", "baz"}},

		// With dots
		{"dot_prefix", "./foo", []string{"foo"}},
		{"dot_middle", "foo/./bar", []string{"foo", "bar"}},

		// Multiple slashes
		{"double_slash", "foo//bar", []string{"foo", "bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SplitPath(tt.input)
			assert.Equal(t, tt.want, got, "SplitPath(%q)", tt.input)
		})
	}
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		// Empty
		{"nil", nil, ""},
		{"empty_slice", []string{}, ""},
		{"empty_string", []string{""}, ""},

		// Single part
		{"single", []string{"foo"}, "foo"},
		{"single_leading_slash", []string{"/foo"}, "foo"},

		// Multiple parts
		{"two_parts", []string{"foo", "bar"}, "foo/bar"},
		{"three_parts", []string{"foo", "bar", "baz"}, "foo/bar/baz"},
		{"first_leading_slash", []string{"/foo", "bar"}, "foo/bar"},
		{"slashes_between", []string{"foo/", "/bar"}, "foo/bar"},

		// With empty parts
		{"empty_middle", []string{"foo", "", "bar"}, "foo/bar"},
		{"empty_first", []string{"", "foo", "bar"}, "foo/bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := JoinPath(tt.parts...)
			assert.Equal(t, tt.want, got, "JoinPath(%v)", tt.parts)
		})
	}
}

func TestParentPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Empty and root
		{"empty", "", ""},
		{"root", "/", ""},
		{"dot", ".", ""},

		// Single component
		{"simple", "foo", ""},
		{"leading_slash", "/foo", ""},
		{"trailing_slash", "foo/", ""},

		// Nested paths
		{"two_parts", "foo/bar", "foo"},
		{"two_parts_leading_slash", "/foo/bar", "foo"},
		{"three_parts", "foo/bar/baz", "foo/bar"},
		{"three_parts_both_slashes", "/foo/bar/baz/", "foo/bar"},

		// With dots
		{"dot_prefix", "./foo", ""},
		{"dot_middle", "foo/./bar", "foo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParentPath(tt.input)
			assert.Equal(t, tt.want, got, "ParentPath(%q)", tt.input)
		})
	}
}

func TestBaseName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Empty and root
		{"empty", "", ""},
		{"root", "/", ""},
		{"dot", ".", ""},

		// Single component
		{"simple", "foo", "foo"},
		{"leading_slash", "/foo", "foo"},
		{"trailing_slash", "foo/", "foo"},

		// Nested paths
		{"two_parts", "foo/bar", "bar"},
		{"two_parts_leading_slash", "/foo/bar", "bar"},
		{"three_parts", "foo/bar/baz", "baz"},
		{"three_parts_both_slashes", "/foo/bar/baz/", "baz"},

		// With extension
		{"with_ext", "foo.txt", "foo.txt"},
		{"nested_with_ext", "foo/bar.txt", "bar.txt"},
		{"full_path_with_ext", "/usr/lib/os-release", "os-release"},

		// With dots in path
		{"dot_prefix", "./foo", "foo"},
		{"dot_middle", "foo/./bar", "bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := BaseName(tt.input)
			assert.Equal(t, tt.want, got, "BaseName(%q)", tt.input)
		})
	}
}

func TestPathRoundtrip(t *testing.T) {
	t.Parallel()

	paths := []string{
		"foo",
		"foo/bar",
		"foo/bar/baz",
		"a/b/c/d/e",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			parts := SplitPath(path)
			rejoined := JoinPath(parts...)
			assert.Equal(t, path, rejoined, "roundtrip failed")
		})
	}
}

func TestParentAndBaseName(t *testing.T) {
	t.Parallel()

	// For non-root paths, parent + base should give back the original
	paths := []string{
		"foo/bar",
		"a/b/c",
		"/etc/ssh/sshd_config",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			parent := ParentPath(path)
			base := BaseName(path)
			if parent != "" {
				rejoined := JoinPath(parent, base)
				normalized := NormalizePath(path)
				assert.Equal(t, normalized, rejoined,
					"parent(%q)=%q, base(%q)=%q should rejoin correctly", path, parent, path, base)
			}
		})
	}
}

func TestEntryPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"root_dot", ".", "", nil},
		{"root_dot_slash", "./", "", nil},
		{"empty", "", "", nil},
		{"simple", "testdata/lorem.txt", "testdata/lorem.txt", nil},
		{"dot_prefix", "./testdata/lorem.txt", "testdata/lorem.txt", nil},
		{"dir_trailing_slash", "testdata/dir/", "testdata/dir", nil},
		{"double_slash", "testdata//dir", "testdata/dir", nil},
		{"absolute", "/etc/passwd", "", ErrPathEscape},
		{"dotdot_prefix", "../etc/passwd", "", ErrPathEscape},
		{"dotdot_middle", "testdata/../../etc", "", ErrPathEscape},
		{"dotdot_inside", "a/../b", "", ErrPathEscape},
		{"nul", "a\x00b", "", ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := EntryPath(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "EntryPath(%q)", tt.input)
		})
	}
}

func TestValidName(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidName("lorem.txt"))
	assert.True(t, ValidName(".hidden"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("."))
	assert.False(t, ValidName(".."))
	assert.False(t, ValidName("a/b"))
}

func TestComparePaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "a", -1},
		{"a", "", 1},
		{"a", "a/b", -1},
		{"a/b", "a", 1},
		// "a/b" is visited before "a-b" even though '-' < '/'
		{"a/b", "a-b", -1},
		{"a-b", "a/b", 1},
		{"testdata/dir/lorem.txt", "testdata/lorem.txt", -1},
		{"x/y", "x/y", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ComparePaths(tt.a, tt.b), "ComparePaths(%q, %q)", tt.a, tt.b)
	}
}
