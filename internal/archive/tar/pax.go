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

package tar

import (
	"archive/tar"
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"fstree/internal/archive"
	"fstree/internal/common"
)

const (
	blockSize = 512

	schilyXattr    = "SCHILY.xattr."
	libarchiveXatt = "LIBARCHIVE.xattr."
)

func alignUp(n int64) int64 {
	return (n + blockSize - 1) &^ (blockSize - 1)
}

// xattrsOf extracts extended attributes from the pax records of hdr, ordered
// as they appear in raw, the bytes of the entry's header blocks.
func xattrsOf(hdr *tar.Header, raw []byte) ([]archive.Xattr, error) {
	var keys []string
	for k := range hdr.PAXRecords {
		if strings.HasPrefix(k, schilyXattr) || strings.HasPrefix(k, libarchiveXatt) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	order := make(map[string]int)
	for i, k := range paxKeys(raw) {
		if _, ok := order[k]; !ok {
			order[k] = i
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		ia, oka := order[a]
		ib, okb := order[b]
		switch {
		case oka && okb:
			return ia - ib
		case oka:
			return -1
		case okb:
			return 1
		}
		return strings.Compare(a, b)
	})

	var out []archive.Xattr
	seen := make(map[string]bool)
	for _, k := range keys {
		name, value, err := decodeXattr(k, hdr.PAXRecords[k])
		if err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, archive.Xattr{Name: name, Value: value})
	}
	return out, nil
}

func decodeXattr(key, value string) (string, []byte, error) {
	if name, ok := strings.CutPrefix(key, schilyXattr); ok {
		return name, []byte(value), nil
	}
	enc := strings.TrimPrefix(key, libarchiveXatt)
	name, err := url.PathUnescape(enc)
	if err != nil {
		return "", nil, fmt.Errorf("xattr name %q: %w", enc, common.ErrMalformedHeader)
	}
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return "", nil, fmt.Errorf("xattr %q value: %w", name, common.ErrMalformedHeader)
	}
	return name, data, nil
}

// paxKeys lists the record keys of the pax extended headers found in the
// header blocks at the start of raw, in order.
func paxKeys(raw []byte) []string {
	var keys []string
	for b := int64(0); b+blockSize <= int64(len(raw)); {
		blk := raw[b : b+blockSize]
		size, ok := parseOctal(blk[124:136])
		if !ok {
			break
		}
		body := b + blockSize
		switch blk[156] {
		case tar.TypeXHeader:
			end := min(body+size, int64(len(raw)))
			keys = append(keys, recordKeys(raw[body:end])...)
		case tar.TypeGNULongName, tar.TypeGNULongLink:
		default:
			return keys
		}
		b = body + alignUp(size)
	}
	return keys
}

func recordKeys(data []byte) []string {
	var keys []string
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp <= 0 {
			break
		}
		n, err := strconv.Atoi(string(data[:sp]))
		if err != nil || n <= sp || n > len(data) {
			break
		}
		kv := data[sp+1 : n]
		if eq := bytes.IndexByte(kv, '='); eq > 0 {
			keys = append(keys, string(kv[:eq]))
		}
		data = data[n:]
	}
	return keys
}

func parseOctal(field []byte) (int64, bool) {
	s := strings.Trim(string(field), " \x00")
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
