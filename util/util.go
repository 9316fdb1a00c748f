// Package util contains small helpers shared across kernel packages.
package util

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Readn reads n little-endian bytes from a starting at off.
// It panics if the requested region is out of bounds or n is unsupported.
func Readn(a []uint8, n int, off int) uint64 {
	if off < 0 || n < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	if n > 8 {
		panic("Readn: unsupported size")
	}
	var ret uint64
	for i := 0; i < n; i++ {
		ret |= uint64(a[off+i]) << (8 * uint(i))
	}
	return ret
}

// Writen writes val using n little-endian bytes into a starting at off.
// It panics if the destination is out of bounds.
func Writen(a []uint8, n int, off int, val uint64) {
	if off < 0 || n < 0 || off+n > len(a) {
		panic("Writen out of bounds")
	}
	for i := 0; i < n; i++ {
		a[off+i] = uint8(val >> (8 * uint(i)))
	}
}
