package cache

import (
	"context"
	"sort"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// testBackendConformance exercises the Table contract every backend must honor.
func testBackendConformance(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	users, err := b.OpenTable(ctx, "users")
	if err != nil {
		t.Fatalf("OpenTable(users) failed: %v", err)
	}
	members, err := b.OpenTable(ctx, "members/1")
	if err != nil {
		t.Fatalf("OpenTable(members/1) failed: %v", err)
	}

	// Miss
	got, err := users.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get on empty table failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss, got %v", got)
	}

	// Round trip keeps the concrete message type
	alice, _ := structpb.NewStruct(map[string]any{"username": "alice", "bot": false})
	if err := users.Set(ctx, "42", alice); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := users.Set(ctx, "43", wrapperspb.String("bob")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err = users.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !proto.Equal(got, alice) {
		t.Errorf("round trip mismatch: got %v, want %v", got, alice)
	}

	// Overwrite
	if err := users.Set(ctx, "43", wrapperspb.String("bobby")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = users.Get(ctx, "43")
	if s, ok := got.(*wrapperspb.StringValue); !ok || s.Value != "bobby" {
		t.Errorf("expected overwritten value bobby, got %v", got)
	}

	// Tables are isolated from each other
	if err := members.Set(ctx, "42", wrapperspb.String("member")); err != nil {
		t.Fatalf("Set on members failed: %v", err)
	}
	keys, err := users.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "42" || keys[1] != "43" {
		t.Errorf("expected keys [42 43], got %v", keys)
	}

	// Delete, including a missing key
	if err := users.Delete(ctx, "42"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := users.Delete(ctx, "does-not-exist"); err != nil {
		t.Fatalf("Delete of missing key failed: %v", err)
	}
	if got, _ := users.Get(ctx, "42"); got != nil {
		t.Errorf("expected deleted entity to miss, got %v", got)
	}

	// Clear only affects its own table
	if err := users.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	keys, _ = users.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("expected empty users table after Clear, got %v", keys)
	}
	keys, _ = members.Keys(ctx)
	if len(keys) != 1 {
		t.Errorf("expected members table untouched, got %v", keys)
	}

	// Reopening a table addresses the same data
	again, err := b.OpenTable(ctx, "members/1")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got, _ := again.Get(ctx, "42"); got == nil {
		t.Error("expected reopened table to see existing data")
	}
	_ = members.Clear(ctx)
}
