// Package assert wraps gotest.tools and testify for tests that deal with eris errors. Failures print
// the full eris stack of the error under test, and error identity is compared on the root cause.
package assert

import (
	"strings"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	testify "github.com/stretchr/testify/assert"
	gotest "gotest.tools/v3/assert"
)

type helperT interface {
	Helper()
}

func NilError(t gotest.TestingT, err error, msgAndArgs ...interface{}) {
	if ht, ok := t.(helperT); ok {
		ht.Helper()
	}
	msgAndArgs = append([]interface{}{eris.ToString(err, true)}, msgAndArgs...)
	gotest.NilError(t, err, msgAndArgs...)
}

func Equal(t gotest.TestingT, x, y interface{}, msgAndArgs ...interface{}) {
	if ht, ok := t.(helperT); ok {
		ht.Helper()
	}
	gotest.Equal(t, x, y, msgAndArgs...)
}

func DeepEqual(t gotest.TestingT, x, y interface{}, opts ...gocmp.Option) {
	if ht, ok := t.(helperT); ok {
		ht.Helper()
	}
	gotest.DeepEqual(t, x, y, opts...)
}

func ErrorContains(t gotest.TestingT, err error, substring string, msgAndArgs ...interface{}) {
	if ht, ok := t.(helperT); ok {
		ht.Helper()
	}
	msgAndArgs = append([]interface{}{eris.ToString(err, true)}, msgAndArgs...)
	gotest.ErrorContains(t, err, substring, msgAndArgs...)
}

// ErrorIs checks that err wraps expected, comparing root causes so that eris wrapping on either
// side does not matter.
func ErrorIs(t gotest.TestingT, err error, expected error, msgAndArgs ...interface{}) {
	if ht, ok := t.(helperT); ok {
		ht.Helper()
	}
	msgAndArgs = append([]interface{}{eris.ToString(err, true)}, msgAndArgs...)
	gotest.ErrorIs(t, eris.Cause(err), eris.Cause(expected), msgAndArgs...)
}

// PanicsWithPrefix checks that f panics with a string or error whose message starts with prefix.
func PanicsWithPrefix(t testify.TestingT, prefix string, f func(), msgAndArgs ...interface{}) bool {
	if ht, ok := t.(helperT); ok {
		ht.Helper()
	}

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		f()
	}()

	var msg string
	switch v := recovered.(type) {
	case nil:
		return testify.Fail(t, "function did not panic", msgAndArgs...)
	case string:
		msg = v
	case error:
		msg = v.Error()
	default:
		return testify.Fail(t, "panic value is neither a string nor an error", msgAndArgs...)
	}
	if !strings.HasPrefix(msg, prefix) {
		return testify.Failf(t, "unexpected panic message", "got %q, want prefix %q", msg, prefix)
	}
	return true
}
