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

// Package cpio decodes "new ASCII" (newc) cpio archives, with or without
// the data checksum of the crc variant, into tree operations.
package cpio

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"fstree/internal/archive"
	"fstree/internal/common"
	"fstree/internal/fsop"
	"fstree/internal/source"
	"fstree/internal/tree"
)

const (
	format = "cpio"

	magicNewc = "070701"
	magicCRC  = "070702"

	headerSize = 110
	fieldCount = 13
	trailer    = "TRAILER!!!"
)

// Header field indexes, in on-disk order after the magic.
const (
	fIno = iota
	fMode
	fUID
	fGID
	fNlink
	fMtime
	fFileSize
	fDevMajor
	fDevMinor
	fRdevMajor
	fRdevMinor
	fNameSize
	fCheck
)

var fieldNames = [fieldCount]string{
	"ino", "mode", "uid", "gid", "nlink", "mtime", "filesize",
	"devmajor", "devminor", "rdevmajor", "rdevminor", "namesize", "check",
}

type inode struct {
	major, minor, ino uint32
}

// Reader produces operations from a newc archive.
type Reader struct {
	src   *source.Source
	data  []byte
	off   int64
	emit  *archive.Emitter
	links map[inode]string
	done  bool
	err   error
}

// NewReader returns a reader over src.
func NewReader(src *source.Source) *Reader {
	return &Reader{
		src:   src,
		data:  src.Bytes(),
		emit:  archive.NewEmitter("Cpio"),
		links: make(map[inode]string),
	}
}

// Next returns the next operation, or io.EOF once the trailer is reached.
func (r *Reader) Next() (fsop.Op, error) {
	for {
		if op, ok := r.emit.Pop(); ok {
			return op, nil
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.done {
			return nil, io.EOF
		}
		if err := r.entry(); err != nil {
			r.err = err
		}
	}
}

func align4(n int64) int64 {
	return (n + 3) &^ 3
}

func (r *Reader) entry() error {
	off := r.off
	size := int64(len(r.data))
	fail := func(name string, err error) error {
		return common.NewDecodeError(format, off, name, err)
	}

	if off >= size {
		return fail("", fmt.Errorf("archive ends without %s: %w", trailer, common.ErrTruncatedStream))
	}
	if off+headerSize > size {
		return fail("", fmt.Errorf("%d header bytes available: %w", size-off, common.ErrTruncatedStream))
	}
	hdr := r.data[off : off+headerSize]
	magic := string(hdr[:6])
	if magic != magicNewc && magic != magicCRC {
		return fail("", fmt.Errorf("magic %q: %w", magic, common.ErrMalformedHeader))
	}

	var f [fieldCount]uint32
	for i := range f {
		raw := hdr[6+8*i : 6+8*(i+1)]
		v, err := strconv.ParseUint(string(raw), 16, 32)
		if err != nil {
			return fail("", fmt.Errorf("field %s %q: %w", fieldNames[i], raw, common.ErrMalformedHeader))
		}
		f[i] = uint32(v)
	}

	nameSize := int64(f[fNameSize])
	if nameSize == 0 {
		return fail("", fmt.Errorf("empty name: %w", common.ErrMalformedHeader))
	}
	nameEnd := off + headerSize + nameSize
	if nameEnd > size {
		return fail("", fmt.Errorf("name of %d bytes: %w", nameSize, common.ErrTruncatedStream))
	}
	rawName := r.data[off+headerSize : nameEnd]
	if rawName[len(rawName)-1] != 0 || bytes.IndexByte(rawName[:len(rawName)-1], 0) >= 0 {
		return fail("", fmt.Errorf("name is not NUL-terminated: %w", common.ErrMalformedHeader))
	}
	name := string(rawName[:len(rawName)-1])

	dataOff := align4(nameEnd)
	fileSize := int64(f[fFileSize])
	if dataOff+fileSize > size {
		return fail(name, fmt.Errorf("%d bytes of data declared: %w", fileSize, common.ErrTruncatedStream))
	}
	r.off = align4(dataOff + fileSize)

	if name == trailer {
		log.Debugf("[Cpio] trailer at offset %d, %d bytes follow", off, size-r.off)
		r.done = true
		return nil
	}

	data := r.data[dataOff : dataOff+fileSize]
	if magic == magicCRC {
		var sum uint32
		for _, c := range data {
			sum += uint32(c)
		}
		if sum != f[fCheck] {
			return fail(name, fmt.Errorf("data sum %08x, header %08x: %w", sum, f[fCheck], common.ErrChecksumMismatch))
		}
	}

	kind, ok := tree.FromMode(f[fMode])
	if !ok {
		return fail(name, fmt.Errorf("mode %o: %w", f[fMode], common.ErrMalformedHeader))
	}
	p, err := common.EntryPath(name)
	if err != nil {
		return fail(name, err)
	}

	ent := archive.Entry{
		Path: p,
		Kind: kind,
		Meta: tree.Metadata{
			Mode:  f[fMode] & tree.PermMask,
			UID:   f[fUID],
			GID:   f[fGID],
			Mtime: time.Unix(int64(f[fMtime]), 0),
		},
	}
	switch kind {
	case tree.RegularFile:
		region, err := r.src.Region(dataOff, fileSize)
		if err != nil {
			return fail(name, err)
		}
		ent.Data = region
	case tree.Symlink:
		ent.Target = string(data)
	case tree.CharDevice, tree.BlockDevice:
		ent.Dev = tree.Device{Major: f[fRdevMajor], Minor: f[fRdevMinor]}
	}

	if err := r.emitEntry(ent, inode{major: f[fDevMajor], minor: f[fDevMinor], ino: f[fIno]}); err != nil {
		return fail(name, err)
	}
	return nil
}

// emitEntry emits ent, turning later entries for an already seen inode into
// hardlinks. Archivers store the data of a link group with its last member,
// so a link that carries data rewrites the shared content.
func (r *Reader) emitEntry(ent archive.Entry, key inode) error {
	if ent.Kind == tree.Directory || key.ino == 0 || ent.Path == "" {
		return r.emit.Emit(ent)
	}
	first, ok := r.links[key]
	if !ok {
		r.links[key] = ent.Path
		return r.emit.Emit(ent)
	}
	if k, ok := r.emit.Kind(first); !ok || k != ent.Kind {
		// the first member was replaced since; start a new group
		r.links[key] = ent.Path
		return r.emit.Emit(ent)
	}

	if err := r.emit.Emit(archive.Entry{Path: ent.Path, LinkTo: first}); err != nil {
		return err
	}
	if ent.Kind == tree.RegularFile && ent.Data.Len() > 0 {
		r.emit.Push(
			&fsop.Write{Path: ent.Path, Data: ent.Data},
			&fsop.Truncate{Path: ent.Path, Size: uint64(ent.Data.Len())},
		)
	}
	return nil
}
