package bpath

import (
	"testing"

	"github.com/sudo666/gokern/ustr"
)

func TestSplit(t *testing.T) {
	parts := Split(ustr.Ustr("/a/b/c"))
	want := []string{"a", "b", "c"}
	if len(parts) != len(want) {
		t.Fatalf("got %d parts, want %d", len(parts), len(want))
	}
	for i, w := range want {
		if parts[i].String() != w {
			t.Errorf("part %d = %q, want %q", i, parts[i].String(), w)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/a/b/c", "/a/b/c"},
		{"/a/./b", "/a/b"},
		{"/a/b/../c", "/a/c"},
		{"/../a", "/a"},
		{"/..", "/"},
		{"/", "/"},
		{"/a/../../b", "/b"},
	}
	for _, c := range cases {
		got := Canonicalize(ustr.Ustr(c.in))
		if got.String() != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got.String(), c.want)
		}
	}
}
