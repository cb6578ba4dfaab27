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

package content

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// HashSize is the length of a content digest in bytes.
const HashSize = 32

// ChunkSize bounds the buffers used when hashing and comparing content.
const ChunkSize = 64 << 10

// Hash is a BLAKE3-256 content digest.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse digest: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parse digest: got %d bytes, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// Sum hashes data.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// Digest returns the file's content hash, computing and caching it on first use.
func (f *File) Digest() (Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.digest != nil {
		return *f.digest, nil
	}

	r := &extentReader{extents: f.Extents()}
	hasher := blake3.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return Hash{}, fmt.Errorf("digest: %w", err)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	f.digest = &h
	return h, nil
}

// Equal reports whether a and b hold the same bytes. Digests decide unless
// exact is set, in which case the bytes are streamed and compared. Files
// without available bytes are always compared by digest.
func Equal(a, b *File, exact bool) (bool, error) {
	if a == b {
		return true, nil
	}
	if a.Len() != b.Len() {
		return false, nil
	}
	if sameExtents(a, b) {
		return true, nil
	}
	if !exact || !a.Available() || !b.Available() {
		da, err := a.Digest()
		if err != nil {
			return false, err
		}
		db, err := b.Digest()
		if err != nil {
			return false, err
		}
		return da == db, nil
	}
	return streamEqual(a, b)
}

func sameExtents(a, b *File) bool {
	if a.digestOnly || b.digestOnly || len(a.extents) != len(b.extents) {
		return false
	}
	for i := range a.extents {
		ea, eb := a.extents[i], b.extents[i]
		if ea.IsHole() != eb.IsHole() || ea.Len() != eb.Len() {
			return false
		}
		if !ea.IsHole() && (ea.region.backing != eb.region.backing || ea.region.off != eb.region.off) {
			return false
		}
	}
	return true
}

func streamEqual(a, b *File) (bool, error) {
	ra, err := a.Reader()
	if err != nil {
		return false, err
	}
	rb, err := b.Reader()
	if err != nil {
		return false, err
	}
	bufA := make([]byte, ChunkSize)
	bufB := make([]byte, ChunkSize)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}
