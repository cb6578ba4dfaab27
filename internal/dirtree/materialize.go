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

package dirtree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"

	"fstree/internal/content"
	"fstree/internal/tree"
)

// Materialize writes t out to fs, which should be empty. The root directory
// itself is not created. Directories, regular files and symlinks go through
// fs; without WithHostMetadata, hardlinks are written as independent copies
// and special files are rejected. Inode flags and fs-verity are not applied.
func Materialize(t *tree.PathTree, fs billy.Filesystem, opts ...Option) error {
	w := &writer{fs: fs, links: make(map[tree.NodeID]string)}
	for _, opt := range opts {
		opt(&w.options)
	}

	type written struct {
		path string
		node tree.NodeView
	}
	var done []written
	for p, v := range t.Walk() {
		linked, err := w.create(p, v)
		if err != nil {
			return fmt.Errorf("materialize %q: %w", p, err)
		}
		if !linked {
			done = append(done, written{p, v})
		}
	}

	if w.host {
		// creating entries changes the parent's mtime, and a read-only
		// directory must stay writable until its children exist
		for _, e := range slices.Backward(done) {
			if err := setAttrs(w.hostPath(e.path), e.node.Kind(), e.node.Metadata()); err != nil {
				return fmt.Errorf("materialize %q: %w", e.path, err)
			}
		}
	}
	log.Debugf("[Dir] materialized %d entries under %s", len(done), fs.Root())
	return nil
}

type writer struct {
	options
	fs    billy.Filesystem
	links map[tree.NodeID]string
}

func (w *writer) hostPath(p string) string {
	return path.Join(w.fs.Root(), p)
}

// create makes the entry at p. It reports whether p was hardlinked to an
// earlier path, which then carries the attributes.
func (w *writer) create(p string, v tree.NodeView) (bool, error) {
	if v.Kind() != tree.Directory {
		if first, seen := w.links[v.ID()]; seen {
			if w.host {
				log.Tracef("[Dir] linking %q to %q", p, first)
				return true, link(w.hostPath(first), w.hostPath(p))
			}
			log.Debugf("[Dir] writing hardlink %q as a copy of %q", p, first)
		} else {
			w.links[v.ID()] = p
		}
	}

	meta := v.Metadata()
	mode := fileMode(meta.Mode)
	if w.host {
		// owner access until setAttrs applies the final mode
		mode |= 0o600
		if v.Kind() == tree.Directory {
			mode |= 0o700
		}
	}

	switch v.Kind() {
	case tree.Directory:
		if p != "" {
			if err := w.fs.MkdirAll(p, mode|os.ModeDir); err != nil {
				return false, err
			}
		}
	case tree.RegularFile:
		if err := w.writeFile(p, v.Content(), mode); err != nil {
			return false, err
		}
	case tree.Symlink:
		var err error
		if w.host {
			// verbatim; fs.Symlink would rebase absolute targets
			err = symlink(v.Target(), w.hostPath(p))
		} else {
			err = w.fs.Symlink(v.Target(), p)
		}
		if err != nil {
			return false, err
		}
	default:
		if !w.host {
			return false, fmt.Errorf("%s: %w", v.Kind(), errors.ErrUnsupported)
		}
		if err := mknod(w.hostPath(p), v.Kind(), meta.Mode, v.Device()); err != nil {
			return false, err
		}
	}

	if w.xattrs && v.Kind() != tree.Symlink {
		for name, value := range v.Xattrs().All() {
			if err := setXattr(w.hostPath(p), name, value); err != nil {
				return false, fmt.Errorf("xattr %q: %w", name, err)
			}
		}
	}
	return false, nil
}

func (w *writer) writeFile(p string, c *content.File, mode os.FileMode) error {
	r, err := c.Reader()
	if err != nil {
		return err
	}
	f, err := w.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fileMode converts POSIX permission bits to Go's mode bits.
func fileMode(perm uint32) os.FileMode {
	m := os.FileMode(perm & 0o777)
	if perm&0o4000 != 0 {
		m |= os.ModeSetuid
	}
	if perm&0o2000 != 0 {
		m |= os.ModeSetgid
	}
	if perm&0o1000 != 0 {
		m |= os.ModeSticky
	}
	return m
}
