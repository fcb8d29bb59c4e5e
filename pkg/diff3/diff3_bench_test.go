package diff3

import (
	"fmt"
	"strings"
	"testing"
)

func numbered(n int, edits map[int]string) []byte {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if s, ok := edits[i]; ok {
			b.WriteString(s + "\n")
			continue
		}
		fmt.Fprintf(&b, "line-%04d\n", i)
	}
	return []byte(b.String())
}

func BenchmarkMerge(b *testing.B) {
	cases := []struct {
		name     string
		n        int
		ours     map[int]string
		theirs   map[int]string
		opts     Options
		conflict bool
	}{
		{"disjoint/50", 50, map[int]string{5: "ours"}, map[int]string{45: "theirs"}, Options{}, false},
		{"disjoint/1000", 1000, map[int]string{50: "ours"}, map[int]string{950: "theirs"}, Options{}, false},
		{"conflict/200", 200, map[int]string{100: "ours"}, map[int]string{100: "theirs"}, Options{}, true},
		{"conflict-diff3/200", 200, map[int]string{100: "ours"}, map[int]string{100: "theirs"}, Options{Style: StyleDiff3}, true},
		{"union/200", 200, map[int]string{100: "ours"}, map[int]string{100: "theirs"}, Options{Favor: FavorUnion}, false},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			base := numbered(tc.n, nil)
			ours := numbered(tc.n, tc.ours)
			theirs := numbered(tc.n, tc.theirs)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if r := Merge(base, ours, theirs, tc.opts); r.HasConflicts != tc.conflict {
					b.Fatalf("HasConflicts = %v, want %v", r.HasConflicts, tc.conflict)
				}
			}
		})
	}
}
