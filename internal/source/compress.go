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

package source

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies a whole-stream compression format.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
	LZ4
	LZ4Legacy
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	case LZ4Legacy:
		return "lz4-legacy"
	}
	return fmt.Sprintf("compression(%d)", int(c))
}

var magics = []struct {
	magic []byte
	comp  Compression
}{
	{[]byte{0x1f, 0x8b}, Gzip},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, Zstd},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, LZ4},
	{[]byte{0x02, 0x21, 0x4c, 0x18}, LZ4Legacy},
}

// Detect identifies the compression of data by its leading magic.
func Detect(data []byte) Compression {
	for _, m := range magics {
		if bytes.HasPrefix(data, m.magic) {
			return m.comp
		}
	}
	return None
}

// zstdDecoder is shared; DecodeAll is safe for concurrent use.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("source: zstd decoder initialization failed: " + err.Error())
	}
}

// Decompress expands a whole compressed stream.
func Decompress(comp Compression, data []byte) ([]byte, error) {
	switch comp {
	case None:
		return data, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		defer zr.Close()
		return readAll("gzip", zr)
	case LZ4, LZ4Legacy:
		return readAll("lz4", lz4.NewReader(bytes.NewReader(data)))
	}
	return nil, fmt.Errorf("unknown compression %s", comp)
}

// DecompressZlib expands a zlib stream that must produce exactly size bytes.
func DecompressZlib(data []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer zr.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return out, nil
}

// DecompressZstd expands a zstd frame that must produce exactly size bytes.
func DecompressZstd(data []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) < size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out[:size], nil
}

func readAll(name string, r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", name, err)
	}
	return out, nil
}
