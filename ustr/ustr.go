// Package ustr provides an immutable-by-convention path/string type used
// throughout the kernel in place of Go strings, so path bytes can be
// compared and sliced without per-call allocation.
package ustr

// Ustr is a kernel path or name, stored as raw bytes.
type Ustr []uint8

// MkUstr returns an empty Ustr.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrRoot returns the root path "/".
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// MkUstrDot returns the current-directory component ".".
func MkUstrDot() Ustr {
	return Ustr(".")
}

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice truncates buf at the first NUL byte and returns the prefix.
func MkUstrSlice(buf []uint8) Ustr {
	for i, b := range buf {
		if b == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

// Isdot reports whether us is exactly ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether us is exactly "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq reports whether us and s contain identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// EqStr reports whether us equals the Go string s.
func (us Ustr) EqStr(s string) bool {
	return us.Eq(Ustr(s))
}

// Extend returns a new Ustr equal to us + "/" + p.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	tmp = append(tmp, '/')
	return append(tmp, p...)
}

// ExtendStr is Extend for a Go string component.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether us begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// IndexByte returns the index of the first occurrence of b, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts us to a Go string.
func (us Ustr) String() string {
	return string(us)
}
