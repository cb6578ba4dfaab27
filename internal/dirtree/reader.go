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

// Package dirtree reads a directory hierarchy from a billy filesystem into
// tree operations, and writes trees back out. On-disk trees (osfs) also
// carry ownership, timestamps, hardlinks, device numbers and, optionally,
// extended attributes.
package dirtree

import (
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"

	"fstree/internal/archive"
	"fstree/internal/builder"
	"fstree/internal/content"
	"fstree/internal/fsop"
	"fstree/internal/tree"
)

type options struct {
	xattrs bool
	host   bool
}

// Option configures a Reader or Materialize.
type Option func(*options)

// WithXattrs reads or writes the extended attributes of every entry through
// the host path under fs.Root(). Only meaningful for filesystems backed by
// the OS.
func WithXattrs() Option {
	return func(o *options) {
		o.xattrs = true
	}
}

// WithHostMetadata makes Materialize apply exact modes, ownership and
// timestamps, and create hardlinks and special files, through the host path
// under fs.Root(). Reading picks these up from stat regardless.
func WithHostMetadata() Option {
	return func(o *options) {
		o.host = true
	}
}

// Reader produces operations from a directory walk. Directories are
// visited depth first with entries in byte order of their names.
type Reader struct {
	options
	fs    billy.Filesystem
	emit  *archive.Emitter
	stack []string
	links map[fileID]string
	begun bool
	err   error
}

// NewReader returns a reader over the whole of fs.
func NewReader(fs billy.Filesystem, opts ...Option) *Reader {
	r := &Reader{
		fs:    fs,
		emit:  archive.NewEmitter("Dir"),
		links: make(map[fileID]string),
	}
	for _, opt := range opts {
		opt(&r.options)
	}
	return r
}

// Build reads fs into a new tree.
func Build(fs billy.Filesystem, opts ...Option) (*tree.PathTree, error) {
	b := builder.New()
	if err := b.Fold(NewReader(fs, opts...)); err != nil {
		b.Close()
		return nil, err
	}
	return b.Finish()
}

// Next returns the next operation, or io.EOF once every directory has
// been read.
func (r *Reader) Next() (fsop.Op, error) {
	for {
		if op, ok := r.emit.Pop(); ok {
			return op, nil
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.begun && len(r.stack) == 0 {
			return nil, io.EOF
		}
		if err := r.step(); err != nil {
			r.err = err
		}
	}
}

func (r *Reader) step() error {
	if !r.begun {
		r.begun = true
		fi, err := r.fs.Lstat("")
		if err != nil {
			return fmt.Errorf("stat root: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("root of %s is not a directory", r.fs.Root())
		}
		ent, err := r.entry("", fi)
		if err != nil {
			return err
		}
		r.stack = append(r.stack, "")
		return r.emit.Emit(ent)
	}

	dir := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	infos, err := r.fs.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory %q: %w", dir, err)
	}
	slices.SortFunc(infos, func(a, b os.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})

	var subdirs []string
	for _, fi := range infos {
		p := path.Join(dir, fi.Name())
		ent, err := r.entry(p, fi)
		if err != nil {
			return err
		}
		if err := r.emit.Emit(ent); err != nil {
			return fmt.Errorf("%q: %w", p, err)
		}
		if ent.Kind == tree.Directory {
			subdirs = append(subdirs, p)
		}
	}
	// reversed so the first subdirectory is popped first
	slices.Reverse(subdirs)
	r.stack = append(r.stack, subdirs...)
	return nil
}

func (r *Reader) entry(p string, fi os.FileInfo) (archive.Entry, error) {
	kind, ok := kindOf(fi.Mode())
	if !ok {
		return archive.Entry{}, fmt.Errorf("%q: unsupported file mode %s", p, fi.Mode())
	}
	ent := archive.Entry{
		Path: p,
		Kind: kind,
		Meta: tree.Metadata{Mode: permBits(fi.Mode()), Mtime: fi.ModTime()},
	}
	st, hasStat := statOf(fi, &ent.Meta)
	if hasStat {
		ent.Dev = tree.DeviceFromRdev(st.rdev)
		if kind != tree.Directory && st.nlink > 1 {
			if first, seen := r.links[st.id]; seen {
				log.Tracef("[Dir] %q is a hardlink to %q", p, first)
				return archive.Entry{Path: p, LinkTo: first}, nil
			}
			r.links[st.id] = p
		}
	}

	switch kind {
	case tree.RegularFile:
		data, err := r.readFile(p)
		if err != nil {
			return archive.Entry{}, err
		}
		ent.Data = content.Bytes(data)
	case tree.Symlink:
		var target string
		var err error
		if hasStat {
			// verbatim; a chrooted fs rebases absolute targets
			target, err = os.Readlink(path.Join(r.fs.Root(), p))
		} else {
			target, err = r.fs.Readlink(p)
		}
		if err != nil {
			return archive.Entry{}, fmt.Errorf("readlink %q: %w", p, err)
		}
		ent.Target = target
		if !hasStat {
			ent.Meta.Mode = 0o777
		}
	}

	if r.xattrs {
		xs, err := listXattrs(path.Join(r.fs.Root(), p))
		if err != nil {
			return archive.Entry{}, fmt.Errorf("xattrs of %q: %w", p, err)
		}
		ent.Xattrs = xs
	}
	return ent, nil
}

func (r *Reader) readFile(p string) ([]byte, error) {
	f, err := r.fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", p, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", p, err)
	}
	return data, nil
}

func kindOf(m os.FileMode) (tree.Kind, bool) {
	switch {
	case m.IsDir():
		return tree.Directory, true
	case m.IsRegular():
		return tree.RegularFile, true
	case m&os.ModeSymlink != 0:
		return tree.Symlink, true
	case m&os.ModeNamedPipe != 0:
		return tree.Fifo, true
	case m&os.ModeSocket != 0:
		return tree.Socket, true
	case m&os.ModeCharDevice != 0:
		return tree.CharDevice, true
	case m&os.ModeDevice != 0:
		return tree.BlockDevice, true
	}
	return 0, false
}

// permBits converts Go's mode bits to POSIX permission bits.
func permBits(m os.FileMode) uint32 {
	perm := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		perm |= 0o4000
	}
	if m&os.ModeSetgid != 0 {
		perm |= 0o2000
	}
	if m&os.ModeSticky != 0 {
		perm |= 0o1000
	}
	return perm
}

type fileID struct {
	dev uint64
	ino uint64
}

type statInfo struct {
	id    fileID
	nlink uint64
	rdev  uint64
}

func unixTime(sec, nsec int64) time.Time {
	return time.Unix(sec, nsec)
}
