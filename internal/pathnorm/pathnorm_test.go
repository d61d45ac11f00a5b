// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package pathnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeBasic(t *testing.T) {
	cases := map[string]string{
		"/tmp/a/b":          "/tmp/a/b",
		"/tmp/./a/b":        "/tmp/a/b",
		"/tmp/a/../b":       "/tmp/b",
		"/tmp/a/b/..":       "/tmp/a",
		"/../tmp/a":         "/tmp/a",
		"a/b/../../c":       "c",
		"../a/b":            "../a/b",
		"":                  "",
		"/":                 "/",
		".":                 ".",
		"./a/./b/.":         "a/b",
	}
	for in, want := range cases {
		require.Equal(t, want, Normalize(in), "input %q", in)
	}
}

// Property 8 (spec §8): idempotent and invariant under inserting "./"
// segments.
func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"/tmp/a/b", "/tmp/./a/../b/c", "a/b/c", "/../../x", "x/y/../z"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		require.Equal(t, once, twice, "input %q", in)
	}
}

func TestNormalizeInvariantUnderDotSegments(t *testing.T) {
	base := "/tmp/a/b/c"
	withDots := "/tmp/./a/./b/./c"
	require.Equal(t, Normalize(base), Normalize(withDots))
}
