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

// Package fstree builds in-memory directory trees from tar and cpio
// archives, btrfs send streams and directories, and compares them.
//
// Inputs may be gzip, zstd or lz4 compressed; the compression is detected
// from the leading magic bytes. Regular file content is referenced in
// place in the input buffer, which a tree keeps alive until it is closed.
package fstree

import (
	"errors"
	"fmt"
	"io"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"fstree/internal/archive/cpio"
	"fstree/internal/archive/tar"
	"fstree/internal/builder"
	"fstree/internal/catalog"
	"fstree/internal/config"
	"fstree/internal/diff"
	"fstree/internal/dirtree"
	"fstree/internal/fsop"
	"fstree/internal/sendstream"
	"fstree/internal/source"
	"fstree/internal/tree"
)

type (
	PathTree  = tree.PathTree
	NodeView  = tree.NodeView
	Kind      = tree.Kind
	Metadata  = tree.Metadata
	Subvolume = tree.Subvolume

	Policy      = diff.Policy
	Report      = diff.Report
	Entry       = diff.Entry
	FieldChange = diff.FieldChange

	Config  = config.Config
	Catalog = catalog.Store
)

// ErrNoSubvolume is returned when a send stream holds no subvolume.
var ErrNoSubvolume = errors.New("send stream contains no subvolume")

func build(src *source.Source, r fsop.OpReader) (*PathTree, error) {
	defer src.Close()
	b := builder.New()
	if err := b.Fold(r); err != nil {
		b.Close()
		return nil, err
	}
	return b.Finish()
}

// BuildFromTar reads a tar archive from r.
func BuildFromTar(r io.Reader) (*PathTree, error) {
	src, err := source.FromReader("tar", r)
	if err != nil {
		return nil, err
	}
	return build(src, tar.NewReader(src))
}

// BuildFromTarFile reads the tar archive at path, mapping it when it is
// not compressed.
func BuildFromTarFile(path string) (*PathTree, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	return build(src, tar.NewReader(src))
}

// BuildFromCpio reads a newc or crc cpio archive from r, up to its
// trailer.
func BuildFromCpio(r io.Reader) (*PathTree, error) {
	src, err := source.FromReader("cpio", r)
	if err != nil {
		return nil, err
	}
	return build(src, cpio.NewReader(src))
}

// BuildFromCpioFile reads the cpio archive at path.
func BuildFromCpioFile(path string) (*PathTree, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	return build(src, cpio.NewReader(src))
}

// BuildFromSendstream reads a btrfs send stream from r and returns the
// tree of the last subvolume it contains. An incremental stream needs
// parent, the tree of the subvolume it was generated against; parent is
// left unchanged.
func BuildFromSendstream(r io.Reader, parent *PathTree) (*PathTree, error) {
	var parents []*PathTree
	if parent != nil {
		parents = append(parents, parent)
	}
	trees, err := BuildSendstreams(r, parents...)
	if err != nil {
		return nil, err
	}
	if len(trees) == 0 {
		return nil, ErrNoSubvolume
	}
	last := trees[len(trees)-1]
	var errs []error
	for _, t := range trees[:len(trees)-1] {
		errs = append(errs, t.Close())
	}
	if err := errors.Join(errs...); err != nil {
		last.Close()
		return nil, fmt.Errorf("release intermediate subvolumes: %w", err)
	}
	return last, nil
}

// BuildSendstreams reads every subvolume in a (possibly concatenated) send
// stream and returns their trees in stream order. Snapshots and clones may
// reference earlier subvolumes of the same stream or any of parents.
func BuildSendstreams(r io.Reader, parents ...*PathTree) ([]*PathTree, error) {
	src, err := source.FromReader("sendstream", r)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return sendstream.Build(src, parents...)
}

// BuildFromDir reads the directory hierarchy of fs.
func BuildFromDir(fs billy.Filesystem) (*PathTree, error) {
	return dirtree.Build(fs)
}

// BuildFromPath reads the directory at dir on the local filesystem,
// including extended attributes.
func BuildFromPath(dir string) (*PathTree, error) {
	return dirtree.Build(osfs.New(dir), dirtree.WithXattrs())
}

// MaterializeTo writes t out to the empty filesystem fs. Hardlinks become
// copies and special files are rejected; see MaterializeToPath.
func MaterializeTo(t *PathTree, fs billy.Filesystem) error {
	return dirtree.Materialize(t, fs)
}

// MaterializeToPath writes t out to the existing, empty directory dir on the
// local filesystem, with ownership, modes, timestamps, hardlinks, special
// files and extended attributes.
func MaterializeToPath(t *PathTree, dir string) error {
	return dirtree.Materialize(t, osfs.New(dir), dirtree.WithXattrs(), dirtree.WithHostMetadata())
}

// DefaultPolicy compares everything except timestamps.
func DefaultPolicy() Policy {
	return diff.DefaultPolicy()
}

// Diff compares a with b under p. Entries are ordered by path.
func Diff(a, b *PathTree, p Policy) (Report, error) {
	return diff.Diff(a, b, p)
}

// Render writes a human-readable form of a report computed from a and b.
func Render(w io.Writer, r Report, a, b *PathTree) error {
	return diff.Render(w, r, a, b)
}

// LoadConfig reads a YAML settings file; an empty or missing path yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// OpenCatalog opens or creates the manifest database at path.
func OpenCatalog(path string) (*Catalog, error) {
	return catalog.Open(path)
}
