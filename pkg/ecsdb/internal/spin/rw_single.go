//go:build ecsdb_single

package spin

// RW is a no-op in single-threaded builds.
type RW struct{}

func (*RW) Shared(func())    {}
func (*RW) TryShared() bool  { return true }
func (*RW) SharedUnlock()    {}
func (*RW) Unique(func())    {}
func (*RW) Exclusive(func()) {}
func (*RW) UniqueUnlock()    {}
func (*RW) Held() bool       { return false }
