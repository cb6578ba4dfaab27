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

package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fstree/internal/builder"
	"fstree/internal/content"
	"fstree/internal/diff"
	"fstree/internal/fsop"
	"fstree/internal/tree"
)

func ptr[T any](v T) *T { return &v }

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "manifests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(t *testing.T) *tree.PathTree {
	t.Helper()
	stamp := time.Unix(1700000000, 123456789)
	ops := []fsop.Op{
		&fsop.CreateDir{Path: "etc", Meta: tree.DefaultDirMetadata()},
		&fsop.CreateFile{Path: "etc/passwd", Meta: tree.DefaultFileMetadata()},
		&fsop.Write{Path: "etc/passwd", Data: content.Bytes([]byte("root:x:0:0::/root:/bin/sh\n"))},
		&fsop.Link{Path: "etc/passwd-", Target: "etc/passwd"},
		&fsop.SetXattr{Path: "etc/passwd", Name: "security.selinux", Value: []byte("system_u:object_r:passwd_file_t:s0")},
		&fsop.SetXattr{Path: "etc/passwd", Name: "user.a", Value: []byte{0, 1, 2}},
		&fsop.CreateSymlink{Path: "etc/localtime", Target: "/usr/share/zoneinfo/UTC"},
		&fsop.CreateSpecial{Path: "null", Kind: tree.CharDevice, Dev: tree.Device{Major: 1, Minor: 3}, Meta: tree.Metadata{Mode: 0o666}},
		&fsop.CreateSpecial{Path: "fifo", Kind: tree.Fifo, Meta: tree.Metadata{Mode: 0o600}},
		&fsop.SetMetadata{Path: "etc", Mtime: &stamp, UID: ptr(uint32(1000)), Flags: ptr(uint64(0x80000000_00000010))},
		&fsop.SetMetadata{Path: "etc/localtime", Verity: &tree.Verity{Algorithm: 1, BlockSize: 4096, Salt: []byte("salt")}},
		&fsop.SetXattr{Path: "", Name: "user.root", Value: []byte("r")},
	}
	b := builder.New()
	require.NoError(t, b.Fold(fsop.Slice(ops...)))
	tr, err := b.Finish()
	require.NoError(t, err)
	return tr
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	orig := sample(t)
	orig.SetSubvolume(tree.Subvolume{Path: "snap", UUID: uuid.New(), CTransID: 7})
	require.NoError(t, s.Save(ctx, "base", orig))

	loaded, err := s.Load(ctx, "base")
	require.NoError(t, err)
	defer loaded.Close()

	p := diff.DefaultPolicy()
	p.Timestamps = true
	r, err := diff.Diff(orig, loaded, p)
	require.NoError(t, err)
	assert.True(t, r.Empty(), r.String())

	a, ok := loaded.Lookup("etc/passwd")
	require.True(t, ok)
	b, ok := loaded.Lookup("etc/passwd-")
	require.True(t, ok)
	assert.Equal(t, a.ID(), b.ID(), "hardlinks share a node")
	assert.Equal(t, uint32(2), a.Nlink())
	assert.False(t, a.Content().Available())
	assert.Equal(t, []string{"security.selinux", "user.a"}, a.Xattrs().Names())

	sv, ok := loaded.Subvolume()
	require.True(t, ok)
	want, _ := orig.Subvolume()
	assert.Equal(t, want, sv)
}

func TestLoadedManifestDetectsChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Save(ctx, "base", sample(t)))
	stored, err := s.Load(ctx, "base")
	require.NoError(t, err)

	b := builder.New(builder.WithParent(sample(t)))
	require.NoError(t, b.Fold(fsop.Slice(
		&fsop.Write{Path: "etc/passwd", Offset: 0, Data: content.Bytes([]byte("toor"))},
	)))
	changed, err := b.Finish()
	require.NoError(t, err)

	r, err := diff.Diff(stored, changed, diff.DefaultPolicy())
	require.NoError(t, err)
	require.Len(t, r.Entries, 2, "both names of the hardlink")
	assert.Equal(t, "etc/passwd", r.Entries[0].Path)
	assert.Equal(t, "etc/passwd-", r.Entries[1].Path)
	for _, e := range r.Entries {
		assert.Equal(t, diff.ContentChanged, e.Kind)
	}
}

func TestListAndDelete(t *testing.T) {
	g := NewWithT(t)

	ctx := context.Background()
	s := openStore(t)
	g.Expect(s.Save(ctx, "b", sample(t))).To(Succeed())
	g.Expect(s.Save(ctx, "a", tree.New())).To(Succeed())
	g.Expect(s.Save(ctx, "b", tree.New())).To(Succeed(), "saving again replaces")

	infos, err := s.List(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(infos).To(HaveLen(2))
	g.Expect(infos[0].Name).To(Equal("a"))
	g.Expect(infos[1].Name).To(Equal("b"))
	g.Expect(infos[1].Nodes).To(Equal(1))
	g.Expect(infos[1].Subvolume).To(BeNil())

	g.Expect(s.Delete(ctx, "a")).To(Succeed())
	_, err = s.Load(ctx, "a")
	g.Expect(err).To(MatchError(ErrNotFound))
	g.Expect(s.Delete(ctx, "a")).To(MatchError(ErrNotFound))

	infos, err = s.List(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(infos).To(HaveLen(1))
}

func TestReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifests.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "base", sample(t)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	tr, err := s.Load(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, sample(t).Len(), tr.Len())
}

func TestSaveRejectsEmptyName(t *testing.T) {
	t.Parallel()

	assert.Error(t, openStore(t).Save(context.Background(), "", tree.New()))
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	stmts := splitStatements("-- comment\nCREATE TABLE a (\n  x INTEGER\n);\n\nINSERT INTO a VALUES (?);\n")
	assert.Equal(t, []string{"CREATE TABLE a (\n  x INTEGER\n);", "INSERT INTO a VALUES (?);"}, stmts)
}
