//go:build !release

// Package assert holds invariant checks for programmer errors. The checks are compiled out with
// the `release` build tag.
package assert

import "fmt"

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Enabled reports whether invariant checks are compiled in.
const Enabled = true
