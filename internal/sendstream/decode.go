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

package sendstream

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"

	"fstree/internal/common"
	"fstree/internal/content"
	"fstree/internal/fsop"
	"fstree/internal/source"
	"fstree/internal/tree"
)

// maxEncodedLen bounds the decompressed size of one encoded write. btrfs
// never compresses more than 128 KiB into a single extent.
const maxEncodedLen = 128 << 10

func ptr[T any](v T) *T {
	return &v
}

// decode maps one command onto operations.
func (r *Reader) decode(c *command) error {
	var ops []fsop.Op
	switch c.typ {
	case cmdSubvol, cmdSnapshot:
		op := &fsop.SnapshotBegin{
			Path:     c.str(attrPath),
			UUID:     c.uuid(attrUUID),
			CTransID: c.num(attrCTransID),
		}
		if c.typ == cmdSnapshot {
			op.ParentUUID = c.uuid(attrCloneUUID)
			op.ParentCTransID = c.num(attrCloneCTransID)
		}
		if c.err != nil {
			return c.err
		}
		if r.open {
			log.Debugf("[Sendstream] %s %q starts without end of the previous subvolume", commandName(c.typ), op.Path)
		}
		r.open = true
		ops = append(ops, op)

	case cmdEnd:
		r.inside = false
		if r.open {
			r.open = false
			ops = append(ops, &fsop.SnapshotEnd{})
		}

	case cmdMkfile:
		ops = append(ops, &fsop.CreateFile{Path: c.path(attrPath), Meta: tree.DefaultFileMetadata()})
	case cmdMkdir:
		ops = append(ops, &fsop.CreateDir{Path: c.path(attrPath), Meta: tree.DefaultDirMetadata()})
	case cmdMknod, cmdMkfifo, cmdMksock:
		op, err := special(c)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	case cmdSymlink:
		meta := tree.DefaultFileMetadata()
		meta.Mode = 0o777
		ops = append(ops, &fsop.CreateSymlink{Path: c.path(attrPath), Target: c.str(attrPathLink), Meta: meta})

	case cmdRename:
		ops = append(ops, &fsop.Rename{From: c.path(attrPath), To: c.path(attrPathTo)})
	case cmdLink:
		ops = append(ops, &fsop.Link{Path: c.path(attrPath), Target: c.path(attrPathLink)})
	case cmdUnlink:
		ops = append(ops, &fsop.Unlink{Path: c.path(attrPath)})
	case cmdRmdir:
		ops = append(ops, &fsop.RemoveDir{Path: c.path(attrPath)})

	case cmdSetXattr:
		ops = append(ops, &fsop.SetXattr{
			Path:  c.path(attrPath),
			Name:  c.str(attrXattrName),
			Value: bytes.Clone(c.bytes(attrXattrData)),
		})
	case cmdRemoveXattr:
		ops = append(ops, &fsop.RemoveXattr{Path: c.path(attrPath), Name: c.str(attrXattrName)})

	case cmdWrite:
		p := c.path(attrPath)
		off := c.num(attrFileOffset)
		data := c.raw(attrData)
		if c.err != nil {
			return c.err
		}
		if len(data.data) == 0 {
			return nil
		}
		region, err := r.src.Region(data.off, int64(len(data.data)))
		if err != nil {
			return err
		}
		ops = append(ops, &fsop.Write{Path: p, Offset: off, Data: region})
	case cmdClone:
		ops = append(ops, &fsop.Write{
			Path:   c.path(attrPath),
			Offset: c.num(attrFileOffset),
			Clone: &fsop.CloneSource{
				Subvolume: c.uuid(attrCloneUUID),
				Path:      c.path(attrClonePath),
				Offset:    c.num(attrCloneOffset),
				Len:       c.num(attrCloneLen),
			},
		})
	case cmdEncodedWrite:
		op, err := r.encodedWrite(c)
		if err != nil {
			return err
		}
		if op != nil {
			ops = append(ops, op)
		}
	case cmdUpdateExtent:
		// no-data streams only say which range changed
		p, off, size := c.path(attrPath), c.num(attrFileOffset), c.num(attrSize)
		if size > 0 {
			ops = append(ops, &fsop.Write{Path: p, Offset: off, Hole: size})
		}
	case cmdFallocate:
		if op := fallocate(c); op != nil {
			ops = append(ops, op)
		}
	case cmdTruncate:
		ops = append(ops, &fsop.Truncate{Path: c.path(attrPath), Size: c.num(attrSize)})

	case cmdChmod:
		ops = append(ops, &fsop.SetMetadata{Path: c.path(attrPath), Mode: ptr(uint32(c.num(attrMode)))})
	case cmdChown:
		ops = append(ops, &fsop.SetMetadata{
			Path: c.path(attrPath),
			UID:  ptr(uint32(c.num(attrUID))),
			GID:  ptr(uint32(c.num(attrGID))),
		})
	case cmdUtimes:
		op := &fsop.SetMetadata{
			Path:  c.path(attrPath),
			Atime: ptr(c.timespec(attrAtime)),
			Mtime: ptr(c.timespec(attrMtime)),
			Ctime: ptr(c.timespec(attrCtime)),
		}
		if c.has(attrOtime) {
			op.Otime = ptr(c.timespec(attrOtime))
		}
		ops = append(ops, op)
	case cmdFileattr:
		ops = append(ops, &fsop.SetMetadata{Path: c.path(attrPath), Flags: ptr(c.num(attrFileattr))})
	case cmdEnableVerity:
		v := &tree.Verity{
			Algorithm: uint8(c.num(attrVerityAlgorithm)),
			BlockSize: uint32(c.num(attrVerityBlockSize)),
		}
		if c.has(attrVeritySaltData) {
			v.Salt = bytes.Clone(c.bytes(attrVeritySaltData))
		}
		if c.has(attrVeritySigData) {
			v.Signature = bytes.Clone(c.bytes(attrVeritySigData))
		}
		ops = append(ops, &fsop.SetMetadata{Path: c.path(attrPath), Verity: v})

	default:
		return fmt.Errorf("command type %d: %w", c.typ, common.ErrUnsupportedCommand)
	}

	if c.err != nil {
		return c.err
	}
	r.push(ops...)
	return nil
}

func special(c *command) (fsop.Op, error) {
	p := c.path(attrPath)
	mode := uint32(c.numOr(attrMode, 0))
	rdev := c.numOr(attrRdev, 0)
	if c.err != nil {
		return nil, c.err
	}

	var kind tree.Kind
	switch c.typ {
	case cmdMkfifo:
		kind = tree.Fifo
	case cmdMksock:
		kind = tree.Socket
	default:
		k, ok := tree.FromMode(mode)
		if !ok || k == tree.Directory || k == tree.RegularFile || k == tree.Symlink {
			return nil, fmt.Errorf("mknod mode %o: %w", mode, common.ErrMalformedHeader)
		}
		kind = k
	}

	meta := tree.DefaultFileMetadata()
	if c.has(attrMode) {
		meta.Mode = mode & tree.PermMask
	}
	op := &fsop.CreateSpecial{Path: p, Kind: kind, Meta: meta}
	if kind == tree.CharDevice || kind == tree.BlockDevice {
		op.Dev = tree.DeviceFromRdev(rdev)
	}
	return op, nil
}

// fallocate maps a fallocate command. Punching or zeroing becomes a hole;
// plain allocation can only grow the file.
func fallocate(c *command) fsop.Op {
	p := c.path(attrPath)
	mode := c.numOr(attrFallocateMode, 0)
	off, size := c.num(attrFileOffset), c.num(attrSize)
	if c.err != nil || size == 0 {
		return nil
	}
	keep := mode&fallocKeepSize != 0
	switch {
	case mode&(fallocPunchHole|fallocZeroRange) != 0:
		return &fsop.Write{Path: p, Offset: off, Hole: size, KeepSize: keep}
	case !keep:
		return &fsop.Truncate{Path: p, Size: off + size, GrowOnly: true}
	}
	return nil
}

// encodedWrite unpacks an encoded extent. Uncompressed data stays in place
// in the source; compressed data is expanded into a private buffer.
func (r *Reader) encodedWrite(c *command) (fsop.Op, error) {
	p := c.path(attrPath)
	off := c.num(attrFileOffset)
	fileLen := c.num(attrUnencodedFileLen)
	unencLen := c.num(attrUnencodedLen)
	unencOff := c.num(attrUnencodedOffset)
	comp := c.numOr(attrCompression, compressNone)
	enc := c.numOr(attrEncryption, 0)
	data := c.raw(attrData)
	if c.err != nil {
		return nil, c.err
	}
	if enc != 0 {
		return nil, fmt.Errorf("encryption type %d: %w", enc, common.ErrUnsupportedCommand)
	}
	if unencOff > unencLen || fileLen > unencLen-unencOff {
		return nil, fmt.Errorf("range %d+%d of %d unencoded bytes: %w", unencOff, fileLen, unencLen, common.ErrMalformedHeader)
	}

	var region content.Region
	switch comp {
	case compressNone:
		if uint64(len(data.data)) < unencOff+fileLen {
			return nil, fmt.Errorf("%d data bytes for range %d+%d: %w", len(data.data), unencOff, fileLen, common.ErrMalformedHeader)
		}
		var err error
		if region, err = r.src.Region(data.off+int64(unencOff), int64(fileLen)); err != nil {
			return nil, err
		}
	case compressZlib, compressZstd:
		if unencLen > maxEncodedLen {
			return nil, fmt.Errorf("%d unencoded bytes: %w", unencLen, common.ErrMalformedHeader)
		}
		decompress := source.DecompressZlib
		if comp == compressZstd {
			decompress = source.DecompressZstd
		}
		out, err := decompress(data.data, int(unencLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrMalformedHeader, err)
		}
		region = content.Bytes(out[unencOff : unencOff+fileLen])
		log.Tracef("[Sendstream] expanded %d encoded bytes into %d", len(data.data), unencLen)
	default:
		return nil, fmt.Errorf("compression type %d: %w", comp, common.ErrUnsupportedCommand)
	}

	if fileLen == 0 {
		return nil, nil
	}
	return &fsop.Write{Path: p, Offset: off, Data: region}, nil
}
