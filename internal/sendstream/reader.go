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

// Package sendstream decodes btrfs send streams (protocol versions 1 to 3)
// into tree operations. Several streams may be concatenated in one source,
// and one stream may carry several subvolumes.
package sendstream

import (
	"encoding/binary"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"fstree/internal/common"
	"fstree/internal/fsop"
	"fstree/internal/source"
)

const format = "sendstream"

// Reader produces operations from a send stream.
type Reader struct {
	src     *source.Source
	data    []byte
	off     int64
	version uint32
	streams int
	inside  bool // a stream header was read and its END not yet seen
	open    bool // a subvolume is being described
	cmd     command
	queue   []fsop.Op
	done    bool
	err     error
}

// NewReader returns a reader over src.
func NewReader(src *source.Source) *Reader {
	return &Reader{src: src, data: src.Bytes()}
}

// Next returns the next operation, or io.EOF after the last stream.
func (r *Reader) Next() (fsop.Op, error) {
	for {
		if len(r.queue) > 0 {
			op := r.queue[0]
			r.queue = r.queue[1:]
			return op, nil
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.done {
			return nil, io.EOF
		}
		if err := r.step(); err != nil {
			r.err = err
		}
	}
}

// Version returns the protocol version of the current stream.
func (r *Reader) Version() uint32 {
	return r.version
}

func (r *Reader) step() error {
	size := int64(len(r.data))
	if !r.inside {
		if r.off == size && r.streams > 0 {
			log.Debugf("[Sendstream] %d stream(s) in %s", r.streams, r.src.Name())
			r.done = true
			return nil
		}
		return r.header()
	}
	if r.off == size {
		msg := "stream ends without end command"
		if r.open {
			msg = "stream ends inside a subvolume"
		}
		return common.NewDecodeError(format, r.off, "", fmt.Errorf("%s: %w", msg, common.ErrTruncatedStream))
	}
	return r.command()
}

func (r *Reader) header() error {
	off := r.off
	fail := func(err error) error {
		return common.NewDecodeError(format, off, "", err)
	}
	if int64(len(r.data))-off < int64(streamHeaderSize) {
		return fail(fmt.Errorf("stream header of %d bytes: %w", int64(len(r.data))-off, common.ErrTruncatedStream))
	}
	if magic := string(r.data[off : off+int64(len(Magic))]); magic != Magic {
		return fail(fmt.Errorf("magic %q: %w", magic, common.ErrMalformedHeader))
	}
	version := binary.LittleEndian.Uint32(r.data[off+int64(len(Magic)):])
	if version < minVersion || version > maxVersion {
		return fail(fmt.Errorf("protocol version %d: %w", version, common.ErrUnsupportedCommand))
	}
	r.version = version
	r.streams++
	r.inside = true
	r.off += int64(streamHeaderSize)
	log.Debugf("[Sendstream] stream %d at offset %d, protocol version %d", r.streams, off, version)
	return nil
}

func (r *Reader) command() error {
	off := r.off
	fail := func(err error) error {
		return common.NewDecodeError(format, off, "", err)
	}
	avail := int64(len(r.data)) - off
	if avail < commandHeaderSize {
		return fail(fmt.Errorf("command header of %d bytes: %w", avail, common.ErrTruncatedStream))
	}
	hdr := r.data[off : off+commandHeaderSize]
	n := int64(binary.LittleEndian.Uint32(hdr[0:]))
	typ := binary.LittleEndian.Uint16(hdr[4:])
	crc := binary.LittleEndian.Uint32(hdr[6:])
	if avail-commandHeaderSize < n {
		return fail(fmt.Errorf("%s payload of %d bytes, %d available: %w",
			commandName(typ), n, avail-commandHeaderSize, common.ErrTruncatedStream))
	}
	body := off + commandHeaderSize
	payload := r.data[body : body+n]
	if sum := checksum(hdr, payload); sum != crc {
		return fail(fmt.Errorf("%s crc %08x, header %08x: %w", commandName(typ), sum, crc, common.ErrChecksumMismatch))
	}
	r.off = body + n

	if typ == cmdUnspec || typ > cmdMax {
		return fail(fmt.Errorf("command type %d: %w", typ, common.ErrUnsupportedCommand))
	}
	c := &r.cmd
	c.reset(typ, off)
	if err := c.parse(payload, body, r.version); err != nil {
		return fail(fmt.Errorf("%s: %w", commandName(typ), err))
	}
	log.Tracef("[Sendstream] %s at offset %d (%d bytes)", commandName(typ), off, n)

	if err := r.decode(c); err != nil {
		var p string
		if c.has(attrPath) {
			p = string(c.attrs[attrPath].data)
		}
		return common.NewDecodeError(format, off, p, fmt.Errorf("%s: %w", commandName(typ), err))
	}
	return nil
}

func (r *Reader) push(ops ...fsop.Op) {
	r.queue = append(r.queue, ops...)
}
