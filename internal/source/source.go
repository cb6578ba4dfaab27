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

// Package source provides the byte sources readers decode from. A source is
// a single contiguous buffer, memory-mapped when it comes from an
// uncompressed file, so file content can be referenced instead of copied.
package source

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"fstree/internal/content"
)

// Source is a read-only byte buffer backed by a content.Backing.
type Source struct {
	name    string
	backing *content.Backing
	data    []byte
	comp    Compression
}

// Open maps the file at path. Compressed files are decompressed into memory.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return FromBytes(path, data)
	}
	size := fi.Size()
	if size == 0 {
		return FromBytes(path, nil)
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("%s: %d bytes do not fit in memory", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	if comp := Detect(data); comp != None {
		defer unix.Munmap(data)
		return FromBytes(path, data)
	}
	log.Debugf("[Source] mapped %s (%d bytes)", path, size)
	b := content.NewBacking(path, data, func() error {
		log.Debugf("[Source] unmapping %s", path)
		return unix.Munmap(data)
	})
	return &Source{name: path, backing: b, data: data}, nil
}

// FromBytes wraps data, decompressing it first if it starts with a known
// compression magic. The caller must not modify data afterwards.
func FromBytes(name string, data []byte) (*Source, error) {
	comp := Detect(data)
	if comp != None {
		out, err := Decompress(comp, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		log.Debugf("[Source] %s: %s decompressed %d -> %d bytes", name, comp, len(data), len(out))
		data = out
	}
	return &Source{name: name, backing: content.NewBacking(name, data, nil), data: data, comp: comp}, nil
}

// FromReader reads r to the end.
func FromReader(name string, r io.Reader) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return FromBytes(name, data)
}

// Name returns the file name or label the source was created with.
func (s *Source) Name() string { return s.name }

// Compression returns the compression the input was stored with.
func (s *Source) Compression() Compression { return s.comp }

// Len returns the number of (decompressed) bytes.
func (s *Source) Len() int64 { return int64(len(s.data)) }

// Bytes returns the whole buffer. It must not be modified.
func (s *Source) Bytes() []byte { return s.data }

// Backing returns the backing regions are cut from.
func (s *Source) Backing() *content.Backing { return s.backing }

// Region returns the n bytes at off as a zero-copy region.
func (s *Source) Region(off, n int64) (content.Region, error) {
	return s.backing.Region(off, n)
}

// Close drops the source's reference to its backing. Trees built from the
// source keep their own references.
func (s *Source) Close() error {
	return s.backing.Release()
}
