//go:build release

package assert

func That(bool, string, ...any) {} //nolint:goprintffuncname // it's ok

const Enabled = false
