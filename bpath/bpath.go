// Package bpath canonicalizes kernel paths: it collapses "." and ".."
// components and duplicate slashes into an absolute, slash-separated form.
// The contract is fixed by its caller, fs path resolution (FS.resolve): given
// an already-absolute path (cwd joined with a relative component), produce
// the canonical form with no "." or ".." left, and with ".." above root
// treated as a no-op rather than an error.
package bpath

import "github.com/sudo666/gokern/ustr"

// Split breaks a path into its '/'-separated, non-empty components.
func Split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := -1
	for i := 0; i <= len(p); i++ {
		if i < len(p) && p[i] != '/' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			parts = append(parts, p[start:i])
			start = -1
		}
	}
	return parts
}

// Canonicalize resolves "." and ".." components in p, which must already be
// absolute. ".." at the root is a no-op. The result always starts with '/'
// and never ends with '/' unless it is exactly "/".
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.Isdot():
			continue
		case part.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	out := ustr.Ustr{'/'}
	for i, c := range stack {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, c...)
	}
	return out
}
