package mem

import "testing"

func TestPgroundupRoundsUpToPageBoundary(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0},
		{1, PGSIZE},
		{PGSIZE, PGSIZE},
		{PGSIZE + 1, 2 * PGSIZE},
	}
	for _, c := range cases {
		if got := Pgroundup(c.in); got != c.want {
			t.Errorf("Pgroundup(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPgrounddownTruncatesToPageBoundary(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0},
		{1, 0},
		{PGSIZE, PGSIZE},
		{PGSIZE + 1, PGSIZE},
		{2*PGSIZE - 1, PGSIZE},
	}
	for _, c := range cases {
		if got := Pgrounddown(c.in); got != c.want {
			t.Errorf("Pgrounddown(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPteAddrMasksFlagBitsOut(t *testing.T) {
	pte := Pa_t(0x1000) | PTE_P | PTE_W | PTE_U | PTE_NX
	if got := PteAddr(pte); got != 0x1000 {
		t.Errorf("PteAddr(%#x) = %#x, want %#x", pte, got, 0x1000)
	}
}

func TestPageIndicesSplitsFourLevels(t *testing.T) {
	// va built so each level's index is distinct and recoverable.
	var va Va_t
	va |= Va_t(5) << 39
	va |= Va_t(10) << 30
	va |= Va_t(20) << 21
	va |= Va_t(30) << 12

	l4, l3, l2, l1 := PageIndices(va)
	if l4 != 5 || l3 != 10 || l2 != 20 || l1 != 30 {
		t.Errorf("PageIndices(%#x) = (%d,%d,%d,%d), want (5,10,20,30)", va, l4, l3, l2, l1)
	}
}

func TestPageIndicesIgnoresSignExtensionBits(t *testing.T) {
	// Bits above 47 (canonical sign-extension) must not leak into l4.
	// Bit 47 itself is l4's top bit, so a higher-half va lands at 256+3.
	va := Va_t(0xffff800000000000) | Va_t(3)<<39
	l4, _, _, _ := PageIndices(va)
	if l4 != 259 {
		t.Errorf("PageIndices canonical-high va: l4 = %d, want 259", l4)
	}
}
