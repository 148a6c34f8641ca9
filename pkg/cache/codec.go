package cache

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// marshalEntity encodes an entity as a serialized anypb.Any so remote tables
// can restore the concrete message type without knowing it up front.
func marshalEntity(msg proto.Message) ([]byte, error) {
	anyVal, err := anypb.New(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap entity in Any: %w", err)
	}
	data, err := proto.Marshal(anyVal)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity: %w", err)
	}
	return data, nil
}

func unmarshalEntity(data []byte) (proto.Message, error) {
	anyVal := &anypb.Any{}
	if err := proto.Unmarshal(data, anyVal); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	msg, err := anyVal.UnmarshalNew()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity payload: %w", err)
	}
	return msg, nil
}
