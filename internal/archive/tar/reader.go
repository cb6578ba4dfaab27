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

// Package tar decodes ustar, GNU and pax archives into tree operations.
// Regular file content is referenced in place in the source buffer.
package tar

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"fstree/internal/archive"
	"fstree/internal/common"
	"fstree/internal/content"
	"fstree/internal/fsop"
	"fstree/internal/source"
	"fstree/internal/tree"
)

const format = "tar"

// typeGNUDumpDir marks a GNU incremental directory entry.
const typeGNUDumpDir = 'D'

// Reader produces operations from a tar archive.
type Reader struct {
	src  *source.Source
	r    *bytes.Reader
	tr   *tar.Reader
	emit *archive.Emitter
	next int64 // block-aligned end of the previous entry
	done bool
	err  error
}

// NewReader returns a reader over src.
func NewReader(src *source.Source) *Reader {
	r := bytes.NewReader(src.Bytes())
	return &Reader{
		src:  src,
		r:    r,
		tr:   tar.NewReader(r),
		emit: archive.NewEmitter("Tar"),
	}
}

// Next returns the next operation, or io.EOF after the last entry.
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

func (r *Reader) pos() int64 {
	return r.r.Size() - int64(r.r.Len())
}

func headerOnly(flag byte) bool {
	switch flag {
	case tar.TypeLink, tar.TypeSymlink, tar.TypeChar, tar.TypeBlock, tar.TypeDir, tar.TypeFifo:
		return true
	}
	return false
}

func (r *Reader) entry() error {
	start := r.next
	hdr, err := r.tr.Next()
	if errors.Is(err, io.EOF) {
		log.Debugf("[Tar] end of archive at offset %d", start)
		r.done = true
		return nil
	}
	if err != nil {
		return common.NewDecodeError(format, start, "", classify(err))
	}
	dataOff := r.pos()
	hdrOff := max(dataOff-blockSize, start)
	if headerOnly(hdr.Typeflag) {
		r.next = dataOff
	} else {
		r.next = alignUp(dataOff + hdr.Size)
	}
	fail := func(err error) error {
		return common.NewDecodeError(format, hdrOff, hdr.Name, err)
	}

	switch hdr.Typeflag {
	case tar.TypeXGlobalHeader, tar.TypeGNULongName, tar.TypeGNULongLink, 'V':
		return nil
	}

	p, err := common.EntryPath(hdr.Name)
	if err != nil {
		return fail(err)
	}
	xattrs, err := xattrsOf(hdr, r.src.Bytes()[min(start, dataOff):dataOff])
	if err != nil {
		return fail(err)
	}
	ent := archive.Entry{
		Path:   p,
		Meta:   metadataOf(hdr),
		Xattrs: xattrs,
	}

	switch hdr.Typeflag {
	case tar.TypeReg, '\x00', tar.TypeCont, tar.TypeGNUSparse:
		ent.Kind = tree.RegularFile
		data, err := r.content(hdr, dataOff)
		if err != nil {
			return fail(err)
		}
		ent.Data = data
	case tar.TypeDir, typeGNUDumpDir:
		ent.Kind = tree.Directory
	case tar.TypeSymlink:
		ent.Kind = tree.Symlink
		ent.Target = hdr.Linkname
	case tar.TypeLink:
		target, err := common.EntryPath(hdr.Linkname)
		if err != nil {
			return fail(fmt.Errorf("hardlink target: %w", err))
		}
		ent.LinkTo = target
	case tar.TypeChar:
		ent.Kind = tree.CharDevice
		ent.Dev = tree.Device{Major: uint32(hdr.Devmajor), Minor: uint32(hdr.Devminor)}
	case tar.TypeBlock:
		ent.Kind = tree.BlockDevice
		ent.Dev = tree.Device{Major: uint32(hdr.Devmajor), Minor: uint32(hdr.Devminor)}
	case tar.TypeFifo:
		ent.Kind = tree.Fifo
	default:
		return fail(fmt.Errorf("entry type %q: %w", hdr.Typeflag, common.ErrMalformedHeader))
	}

	if err := r.emit.Emit(ent); err != nil {
		return fail(err)
	}
	return nil
}

// content returns the entry's bytes: a region of the source when they are
// stored contiguously, a private copy for sparse entries.
func (r *Reader) content(hdr *tar.Header, dataOff int64) (content.Region, error) {
	if hdr.Size == 0 {
		return content.Region{}, nil
	}
	if isSparse(hdr) {
		data, err := io.ReadAll(r.tr)
		if err != nil {
			return content.Region{}, classify(err)
		}
		r.next = alignUp(r.pos())
		log.Debugf("[Tar] copied sparse entry %q (%d bytes)", hdr.Name, len(data))
		return content.Bytes(data), nil
	}
	if dataOff+hdr.Size > r.src.Len() {
		return content.Region{}, fmt.Errorf("%d bytes of data declared, %d available: %w",
			hdr.Size, r.src.Len()-dataOff, common.ErrTruncatedStream)
	}
	return r.src.Region(dataOff, hdr.Size)
}

func isSparse(hdr *tar.Header) bool {
	if hdr.Typeflag == tar.TypeGNUSparse {
		return true
	}
	for k := range hdr.PAXRecords {
		if strings.HasPrefix(k, "GNU.sparse.") {
			return true
		}
	}
	return false
}

func metadataOf(hdr *tar.Header) tree.Metadata {
	return tree.Metadata{
		Mode:  uint32(hdr.Mode) & tree.PermMask,
		UID:   uint32(hdr.Uid),
		GID:   uint32(hdr.Gid),
		Mtime: hdr.ModTime,
		Atime: hdr.AccessTime,
		Ctime: hdr.ChangeTime,
	}
}

// classify maps archive/tar failures onto decode error kinds.
func classify(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", common.ErrTruncatedStream, err)
	}
	return fmt.Errorf("%w: %v", common.ErrMalformedHeader, err)
}
