// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

// Package pathnorm normalizes filesystem paths textually, without touching
// the filesystem: it resolves "." and ".." components and collapses
// repeated separators, the way the coordinator canonicalizes an incoming
// Open path before using it as a registry key.
package pathnorm

import "strings"

// Normalize resolves "." and ".." components of p using only string
// manipulation. A leading "/" (root) is preserved. A leading ".." on a
// relative path has no parent to consume and is kept; on an absolute path
// it is dropped (you cannot go above root).
//
// Normalize is idempotent: Normalize(Normalize(p)) == Normalize(p). It is
// also invariant under inserting "./" segments anywhere in p.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	isAbs := strings.HasPrefix(p, "/")

	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if n := len(out); n > 0 && out[n-1] != ".." {
				out = out[:n-1]
				continue
			}
			if isAbs {
				continue
			}
			out = append(out, "..")
		default:
			out = append(out, seg)
		}
	}

	joined := strings.Join(out, "/")
	switch {
	case isAbs:
		return "/" + joined
	case joined == "":
		return "."
	default:
		return joined
	}
}
