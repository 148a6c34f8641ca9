package cache

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/google/uuid"
)

// KeyCodec converts entity ids to and from the string keys backends address
// entities by. Decode(Encode(id)) must return id.
type KeyCodec[ID comparable] interface {
	Encode(id ID) string
	Decode(key string) (ID, error)
}

// SnowflakeKeys encodes 64-bit snowflake ids in base 10.
type SnowflakeKeys struct{}

func (SnowflakeKeys) Encode(id uint64) string { return strconv.FormatUint(id, 10) }

func (SnowflakeKeys) Decode(key string) (uint64, error) {
	return strconv.ParseUint(key, 10, 64)
}

// Int64Keys encodes signed 64-bit ids in base 10.
type Int64Keys struct{}

func (Int64Keys) Encode(id int64) string { return strconv.FormatInt(id, 10) }

func (Int64Keys) Decode(key string) (int64, error) {
	return strconv.ParseInt(key, 10, 64)
}

// StringKeys uses string ids as keys unchanged.
type StringKeys struct{}

func (StringKeys) Encode(id string) string { return id }

func (StringKeys) Decode(key string) (string, error) { return key, nil }

// UUIDKeys encodes uuid ids in their canonical form.
type UUIDKeys struct{}

func (UUIDKeys) Encode(id uuid.UUID) string { return id.String() }

func (UUIDKeys) Decode(key string) (uuid.UUID, error) { return uuid.Parse(key) }

// builtinKeyCodec returns the codec shipped for ID, or nil.
func builtinKeyCodec[ID comparable]() KeyCodec[ID] {
	var zero ID
	var codec any
	switch any(zero).(type) {
	case uint64:
		codec = SnowflakeKeys{}
	case int64:
		codec = Int64Keys{}
	case string:
		codec = StringKeys{}
	case uuid.UUID:
		codec = UUIDKeys{}
	default:
		return nil
	}
	return codec.(KeyCodec[ID])
}

func typeOf[ID comparable]() reflect.Type {
	return reflect.TypeOf((*ID)(nil)).Elem()
}

// keyCodec resolves the codec for ID: registered codecs win over built-ins.
func keyCodec[ID comparable](p *Provider) (KeyCodec[ID], error) {
	t := typeOf[ID]()
	if c, ok := p.codecs.Load(t); ok {
		return c.(KeyCodec[ID]), nil
	}
	if c := builtinKeyCodec[ID](); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoKeyCodec, t)
}
