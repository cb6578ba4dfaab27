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

package diff

import (
	ignore "github.com/sabhiram/go-gitignore"
)

// Policy selects what Diff compares. Paths, node types and device numbers
// are always compared.
type Policy struct {
	Timestamps   bool // atime, mtime, ctime and otime
	Mode         bool // permission bits
	Ownership    bool // uid and gid
	Xattrs       bool
	Content      bool // file bytes and symlink targets
	Flags        bool // inode flags and fs-verity
	ExactContent bool // compare bytes even when digests agree

	// Ignore holds gitignore-style patterns; matching paths are skipped
	// on both sides.
	Ignore []string
}

// DefaultPolicy compares everything except timestamps, which rebuilding a
// tree rarely preserves.
func DefaultPolicy() Policy {
	return Policy{
		Mode:      true,
		Ownership: true,
		Xattrs:    true,
		Content:   true,
		Flags:     true,
	}
}

type matcher struct {
	gi *ignore.GitIgnore
}

func (p Policy) matcher() matcher {
	if len(p.Ignore) == 0 {
		return matcher{}
	}
	return matcher{gi: ignore.CompileIgnoreLines(p.Ignore...)}
}

// ignored reports whether p is excluded. Directory patterns ("cache/")
// only match with a trailing slash, so directories are tried both ways.
func (m matcher) ignored(p string, dir bool) bool {
	if m.gi == nil || p == "" {
		return false
	}
	return m.gi.MatchesPath(p) || (dir && m.gi.MatchesPath(p+"/"))
}
