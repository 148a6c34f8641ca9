package state

import (
	"fmt"
	"strings"
)

// HandleFlags modify how a handle behaves when it is disposed.
type HandleFlags uint32

// FlagNone requests default behavior: the entity is removed from its store
// when the last handle referencing it is disposed.
const FlagNone HandleFlags = 0

const (
	// FlagRetainOnDispose keeps the entity in its store when this handle is
	// the last one disposed.
	FlagRetainOnDispose HandleFlags = 1 << iota

	// FlagExclusive makes the handle the only live handle for its entity.
	// Allocation fails with ErrEntityLeased while any other handle exists,
	// and other allocations fail while the exclusive handle is live.
	FlagExclusive
)

const knownFlags = FlagRetainOnDispose | FlagExclusive

// Has reports whether every bit of flag is set.
func (f HandleFlags) Has(flag HandleFlags) bool {
	return f&flag == flag
}

func (f HandleFlags) String() string {
	if f == FlagNone {
		return "none"
	}
	var parts []string
	if f.Has(FlagRetainOnDispose) {
		parts = append(parts, "retain_on_dispose")
	}
	if f.Has(FlagExclusive) {
		parts = append(parts, "exclusive")
	}
	if rest := f &^ knownFlags; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}
