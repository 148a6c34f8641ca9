package cache

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestMemoryBackend_Conformance(t *testing.T) {
	testBackendConformance(t, NewMemoryBackend())
}

func TestMemoryTable_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryTable()

	original := wrapperspb.String("alice")
	if err := table.Set(ctx, "1", original); err != nil {
		t.Fatal(err)
	}

	// Mutating the stored value or a fetched copy must not leak into the table
	original.Value = "mallory"
	got, _ := table.Get(ctx, "1")
	got.(*wrapperspb.StringValue).Value = "eve"

	again, _ := table.Get(ctx, "1")
	if v := again.(*wrapperspb.StringValue).Value; v != "alice" {
		t.Errorf("expected cached value alice, got %q", v)
	}
}
