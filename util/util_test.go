package util

import "testing"

func TestRoundup(t *testing.T) {
	cases := []struct{ v, b, want int }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
	}
	for _, c := range cases {
		if got := Roundup(c.v, c.b); got != c.want {
			t.Errorf("Roundup(%d,%d) = %d, want %d", c.v, c.b, got, c.want)
		}
	}
}

func TestRounddown(t *testing.T) {
	if got := Rounddown(4099, 4096); got != 4096 {
		t.Errorf("Rounddown(4099,4096) = %d, want 4096", got)
	}
}

func TestReadnWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 8, 4, 0xdeadbeefcafebabe)
	got := Readn(buf, 8, 4)
	if got != 0xdeadbeefcafebabe {
		t.Errorf("roundtrip = %#x, want %#x", got, uint64(0xdeadbeefcafebabe))
	}
}

func TestMinMax(t *testing.T) {
	if Min(3, 5) != 3 || Max(3, 5) != 5 {
		t.Fatal("min/max wrong")
	}
}
