// Package bpath canonicalizes VFS paths: it collapses ".", "..", and
// repeated "/" components the way a path must be normalized before it is
// used as a devfs or on-disk lookup key.
package bpath

import "ustr"

// Canonicalize resolves "." and ".." components of an absolute path and
// collapses repeated separators. The result always starts with "/" and
// never ends with "/" unless it is the root itself.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath.Canonicalize requires an absolute path")
	}
	comps := split(p)
	stack := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case len(c) == 0:
			continue
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	out := ustr.MkUstr()
	for _, c := range stack {
		out = append(out, '/')
		out = append(out, c...)
	}
	return out
}

// split breaks p into its '/'-delimited components, including empty ones
// (caller filters them), without copying the backing array more than once.
func split(p ustr.Ustr) []ustr.Ustr {
	var out []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			out = append(out, p[start:i])
			start = i + 1
		}
	}
	return out
}

// Base returns the final path component.
func Base(p ustr.Ustr) ustr.Ustr {
	idx := -1
	for i, b := range p {
		if b == '/' {
			idx = i
		}
	}
	return p[idx+1:]
}

// Dir returns all but the final path component; the result is never empty
// — the root directory is returned for single-component paths.
func Dir(p ustr.Ustr) ustr.Ustr {
	idx := -1
	for i, b := range p {
		if b == '/' {
			idx = i
		}
	}
	if idx <= 0 {
		return ustr.MkUstrRoot()
	}
	return p[:idx]
}
