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

package diff

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"fstree/internal/tree"
)

var shortKind = map[Kind]byte{
	Added:           'A',
	Removed:         'D',
	MetadataChanged: 'M',
	ContentChanged:  'C',
	XattrChanged:    'X',
}

// String lists one difference per line, e.g. "M etc/passwd mode=0644->0600".
func (r Report) String() string {
	var sb strings.Builder
	for _, e := range r.Entries {
		sb.WriteByte(shortKind[e.Kind])
		sb.WriteByte(' ')
		sb.WriteString(displayPath(e.Path))
		if e.Kind != Added && e.Kind != Removed {
			for _, f := range e.Fields {
				fmt.Fprintf(&sb, " %s=%s->%s", f.Name, f.Left, f.Right)
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}

// Render writes a human-readable diff of report: a header per path, one
// -/+ pair per differing field, and a unified diff for changed text files.
// Binary contents are shown by digest. a and b must be the trees the
// report was computed from.
func Render(w io.Writer, report Report, a, b *tree.PathTree) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < len(report.Entries); {
		p := report.Entries[i].Path
		j := i
		for j < len(report.Entries) && report.Entries[j].Path == p {
			j++
		}
		if i > 0 {
			bw.WriteByte('\n')
		}
		if err := renderPath(bw, report.Entries[i:j], a, b); err != nil {
			return err
		}
		i = j
	}
	return bw.Flush()
}

func renderPath(w *bufio.Writer, entries []Entry, a, b *tree.PathTree) error {
	p := entries[0].Path
	switch entries[0].Kind {
	case Added:
		fmt.Fprintf(w, "--- /dev/null\n+++ right/%s\n", p)
		v, _ := b.Lookup(p)
		fmt.Fprintf(w, "+%s\n", v.Kind())
		return nil
	case Removed:
		fmt.Fprintf(w, "--- left/%s\n+++ /dev/null\n", p)
		v, _ := a.Lookup(p)
		fmt.Fprintf(w, "-%s\n", v.Kind())
		return nil
	}

	fmt.Fprintf(w, "--- left/%s\n+++ right/%s\n", p, p)
	for _, e := range entries {
		if e.Kind == XattrChanged {
			w.WriteString("xattrs\n")
		}
		for _, f := range e.Fields {
			fmt.Fprintf(w, "-%s: %s\n+%s: %s\n", f.Name, f.Left, f.Name, f.Right)
		}
		if e.Kind != ContentChanged {
			continue
		}
		l, okL := a.Lookup(p)
		r, okR := b.Lookup(p)
		if !okL || !okR || l.Kind() != tree.RegularFile || r.Kind() != tree.RegularFile {
			continue
		}
		if err := renderContent(w, l, r); err != nil {
			return fmt.Errorf("render %q: %w", p, err)
		}
	}
	return nil
}

func renderContent(w *bufio.Writer, l, r tree.NodeView) error {
	left, errL := l.Content().Bytes()
	right, errR := r.Content().Bytes()
	if errL == nil && errR == nil && utf8.Valid(left) && utf8.Valid(right) {
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:       difflib.SplitLines(string(left)),
			B:       difflib.SplitLines(string(right)),
			Context: 3,
		})
		if err != nil {
			return err
		}
		w.WriteString(text)
		return nil
	}

	dl, err := l.Content().Digest()
	if err != nil {
		return err
	}
	dr, err := r.Content().Digest()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "-binary data: blake3 = %s\n+binary data: blake3 = %s\n", dl, dr)
	return nil
}
