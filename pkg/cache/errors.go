package cache

import "errors"

var (
	// ErrNoKeyCodec is returned when a store is requested for an id type that
	// has neither a built-in nor a registered KeyCodec.
	ErrNoKeyCodec = errors.New("no key codec for id type")

	// ErrUnknownStoreType is returned for store type tags outside the known set.
	ErrUnknownStoreType = errors.New("unknown store type")
)
