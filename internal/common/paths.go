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
	"fmt"
	"path"
	"strings"
)

// NormalizePath cleans and normalizes a tree path, removing leading/trailing
// slashes. The root is "".
func NormalizePath(p string) string {
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// SplitPath splits a path into its components
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins path components
func JoinPath(parts ...string) string {
	return NormalizePath(path.Join(parts...))
}

// ParentPath returns the parent directory of a path
func ParentPath(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// BaseName returns the base name of a path
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// EntryPath validates a path taken from an archive entry or stream command and
// returns it in normalized form. Absolute paths and ".." components are
// rejected with ErrPathEscape instead of being rewritten; "." components,
// repeated slashes and a trailing slash are dropped.
func EntryPath(name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathEscape, name)
	}
	parts := strings.Split(name, "/")
	kept := parts[:0]
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
		}
		if strings.IndexByte(part, 0) >= 0 {
			return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidPath, name)
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "/"), nil
}

// ValidName reports whether name can be used as a single directory entry.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsRune(name, '/') && strings.IndexByte(name, 0) < 0
}

// ComparePaths orders tree paths the way a depth-first, name-sorted walk
// visits them: component by component, with a parent before its children.
func ComparePaths(a, b string) int {
	for {
		if a == b {
			return 0
		}
		if a == "" {
			return -1
		}
		if b == "" {
			return 1
		}
		ha, ta, _ := strings.Cut(a, "/")
		hb, tb, _ := strings.Cut(b, "/")
		if c := strings.Compare(ha, hb); c != 0 {
			return c
		}
		a, b = ta, tb
	}
}
