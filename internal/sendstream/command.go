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
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"

	"fstree/internal/common"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// checksum is the kernel's crc32c: seeded with zero and never inverted.
// The crc field of hdr is treated as zero.
func checksum(hdr, payload []byte) uint32 {
	var h [commandHeaderSize]byte
	copy(h[:], hdr)
	clear(h[6:10])
	c := ^crc32.Update(^uint32(0), castagnoli, h[:])
	return ^crc32.Update(^c, castagnoli, payload)
}

type attrValue struct {
	off  int64 // absolute offset of the value in the source
	data []byte
	ok   bool
}

// command is one decoded record. Attribute accessors record the first
// failure in err so a command can be decoded without checking every field.
type command struct {
	typ   uint16
	off   int64
	attrs [attrMax + 1]attrValue
	err   error
}

func (c *command) reset(typ uint16, off int64) {
	c.typ = typ
	c.off = off
	c.attrs = [attrMax + 1]attrValue{}
	c.err = nil
}

// parse splits payload into attributes. From version 2 on, the data
// attribute carries no length and extends to the end of the command.
func (c *command) parse(payload []byte, base int64, version uint32) error {
	pos := 0
	for pos < len(payload) {
		if len(payload)-pos < 2 {
			return fmt.Errorf("attribute header at +%d: %w", pos, common.ErrMalformedHeader)
		}
		typ := binary.LittleEndian.Uint16(payload[pos:])
		if typ == attrUnspec || typ > attrMax {
			return fmt.Errorf("attribute type %d: %w", typ, common.ErrMalformedHeader)
		}
		if typ == attrData && version >= 2 {
			pos += 2
			c.attrs[typ] = attrValue{off: base + int64(pos), data: payload[pos:], ok: true}
			return nil
		}
		if len(payload)-pos < attrHeaderSize {
			return fmt.Errorf("attribute header at +%d: %w", pos, common.ErrMalformedHeader)
		}
		n := int(binary.LittleEndian.Uint16(payload[pos+2:]))
		pos += attrHeaderSize
		if pos+n > len(payload) {
			return fmt.Errorf("attribute %d of %d bytes overruns command: %w", typ, n, common.ErrMalformedHeader)
		}
		c.attrs[typ] = attrValue{off: base + int64(pos), data: payload[pos : pos+n], ok: true}
		pos += n
	}
	return nil
}

func (c *command) has(typ uint16) bool {
	return c.attrs[typ].ok
}

func (c *command) fail(typ uint16, format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("attribute %d: %s: %w", typ, fmt.Sprintf(format, args...), common.ErrMalformedHeader)
	}
}

func (c *command) raw(typ uint16) attrValue {
	v := c.attrs[typ]
	if !v.ok {
		c.fail(typ, "missing")
	}
	return v
}

func (c *command) bytes(typ uint16) []byte {
	return c.raw(typ).data
}

func (c *command) str(typ uint16) string {
	return string(c.raw(typ).data)
}

// path returns a tree path attribute, rejecting names that leave the root.
func (c *command) path(typ uint16) string {
	v := c.raw(typ)
	if !v.ok {
		return ""
	}
	p, err := common.EntryPath(string(v.data))
	if err != nil && c.err == nil {
		c.err = err
	}
	return p
}

// num decodes a little-endian integer of 1, 2, 4 or 8 bytes.
func (c *command) num(typ uint16) uint64 {
	v := c.raw(typ)
	if !v.ok {
		return 0
	}
	switch len(v.data) {
	case 1:
		return uint64(v.data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(v.data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(v.data))
	case 8:
		return binary.LittleEndian.Uint64(v.data)
	}
	c.fail(typ, "integer of %d bytes", len(v.data))
	return 0
}

// numOr is num for optional attributes.
func (c *command) numOr(typ uint16, def uint64) uint64 {
	if !c.has(typ) {
		return def
	}
	return c.num(typ)
}

func (c *command) uuid(typ uint16) uuid.UUID {
	v := c.raw(typ)
	if !v.ok {
		return uuid.Nil
	}
	id, err := uuid.FromBytes(v.data)
	if err != nil {
		c.fail(typ, "uuid of %d bytes", len(v.data))
	}
	return id
}

// timespec decodes u64 seconds followed by u32 nanoseconds.
func (c *command) timespec(typ uint16) time.Time {
	v := c.raw(typ)
	if !v.ok {
		return time.Time{}
	}
	if len(v.data) != 12 {
		c.fail(typ, "timespec of %d bytes", len(v.data))
		return time.Time{}
	}
	sec := int64(binary.LittleEndian.Uint64(v.data))
	nsec := int64(binary.LittleEndian.Uint32(v.data[8:]))
	if nsec >= int64(time.Second) {
		c.fail(typ, "nanoseconds %d", nsec)
		return time.Time{}
	}
	return time.Unix(sec, nsec)
}
