package ustr

import "testing"

func TestDotDot(t *testing.T) {
	if !Ustr("..").Isdotdot() {
		t.Fatal("expected isdotdot")
	}
	if Ustr(".").Isdotdot() {
		t.Fatal("unexpected isdotdot")
	}
}

func TestExtend(t *testing.T) {
	base := MkUstrRoot()
	got := base.Extend(Ustr("etc"))
	if got.String() != "//etc" {
		t.Fatalf("got %q", got.String())
	}
}

func TestIsAbsolute(t *testing.T) {
	if !Ustr("/a").IsAbsolute() {
		t.Fatal("expected absolute")
	}
	if Ustr("a").IsAbsolute() {
		t.Fatal("unexpected absolute")
	}
	if Ustr("").IsAbsolute() {
		t.Fatal("empty should not be absolute")
	}
}
