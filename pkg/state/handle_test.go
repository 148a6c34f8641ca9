package state

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"gwstate/pkg/cache"
)

// ============ Handle Lifecycle ============

func TestAllocateHandle_RegistersAndDisposes(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	user := seed(t, users, 42, "wumpus")

	h, err := AllocateHandle(ctx, c, users, 42, user, FlagNone)
	if err != nil {
		t.Fatalf("AllocateHandle: %v", err)
	}
	if h.HandleID() == uuid.Nil {
		t.Error("expected a non-nil handle id")
	}
	if h.ID() != 42 || h.Entity().GetValue() != "wumpus" || h.Store() != users {
		t.Errorf("unexpected handle accessors: %v", h)
	}
	if c.HandleCount() != 1 {
		t.Errorf("expected 1 live handle, got %d", c.HandleCount())
	}

	got, ok := c.Handle(h.HandleID())
	if !ok || got != Lease(h) {
		t.Fatal("expected the handle to be registered under its id")
	}
	if !Referenced(c, users, 42) {
		t.Error("expected entity to be referenced")
	}

	if err := h.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if !h.Disposed() {
		t.Error("expected handle to report disposed")
	}
	if _, ok := c.Handle(h.HandleID()); ok {
		t.Error("disposed handle must not be found")
	}
	if c.HandleCount() != 0 {
		t.Errorf("expected 0 live handles, got %d", c.HandleCount())
	}
	if cached(t, users, 42) {
		t.Error("last disposal without retain flag should remove the entity")
	}

	// Second dispose is a no-op
	if err := h.Dispose(ctx); err != nil {
		t.Errorf("second Dispose: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close after Dispose: %v", err)
	}
}

func TestAllocateHandle_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	user := seed(t, users, 1, "a")

	const n = 100
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := AllocateHandle(ctx, c, users, 1, user, FlagRetainOnDispose)
			if err != nil {
				t.Error(err)
				return
			}
			ids <- h.HandleID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate handle id %s", id)
		}
		seen[id] = true
	}
	if c.HandleCount() != n {
		t.Errorf("expected %d live handles, got %d", n, c.HandleCount())
	}
}

func TestAllocateHandle_NilStore(t *testing.T) {
	c, _ := newUsers(t)
	if _, err := AllocateHandle[uint64](context.Background(), c, nil, 1, wrapperspb.String("x"), FlagNone); err == nil {
		t.Error("expected error for nil store")
	}
}

// ============ Reference Counting ============

func TestDispose_LastReferenceRemoves(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	user := seed(t, users, 7, "shared")

	h1, _ := AllocateHandle(ctx, c, users, 7, user, FlagNone)
	h2, _ := AllocateHandle(ctx, c, users, 7, user, FlagNone)

	if err := h1.Dispose(ctx); err != nil {
		t.Fatal(err)
	}
	if !cached(t, users, 7) {
		t.Fatal("entity removed while another handle is live")
	}
	if err := h2.Dispose(ctx); err != nil {
		t.Fatal(err)
	}
	if cached(t, users, 7) {
		t.Error("entity should be removed with its last handle")
	}
	if Referenced(c, users, 7) {
		t.Error("entity should no longer be referenced")
	}
}

func TestDispose_RetainOnDispose(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	user := seed(t, users, 9, "keep")

	h, _ := AllocateHandle(ctx, c, users, 9, user, FlagRetainOnDispose)
	if err := h.Dispose(ctx); err != nil {
		t.Fatal(err)
	}
	if !cached(t, users, 9) {
		t.Error("retained entity should survive disposal")
	}
}

func TestAllocateHandle_Exclusive(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	user := seed(t, users, 5, "solo")

	ex, err := AllocateHandle(ctx, c, users, 5, user, FlagExclusive|FlagRetainOnDispose)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := AllocateHandle(ctx, c, users, 5, user, FlagNone); !errors.Is(err, ErrEntityLeased) {
		t.Errorf("expected ErrEntityLeased, got %v", err)
	}
	if c.HandleCount() != 1 {
		t.Errorf("refused allocation must not register, got %d live", c.HandleCount())
	}

	if err := ex.Dispose(ctx); err != nil {
		t.Fatal(err)
	}

	shared, err := AllocateHandle(ctx, c, users, 5, user, FlagRetainOnDispose)
	if err != nil {
		t.Fatalf("allocation after exclusive release: %v", err)
	}
	if _, err := AllocateHandle(ctx, c, users, 5, user, FlagExclusive); !errors.Is(err, ErrEntityLeased) {
		t.Errorf("exclusive over a shared handle: expected ErrEntityLeased, got %v", err)
	}
	_ = shared.Dispose(ctx)
}

func TestAllocateHandle_Collision(t *testing.T) {
	ctx := context.Background()
	fixed := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	c, users := newUsers(t, WithHandleIDGenerator(func() uuid.UUID { return fixed }))
	user := seed(t, users, 1, "a")

	first, err := AllocateHandle(ctx, c, users, 1, user, FlagNone)
	if err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() {
			r := recover()
			ierr, ok := r.(*InvariantError)
			if !ok {
				t.Fatalf("expected *InvariantError panic, got %v", r)
			}
			if !errors.Is(ierr, ErrHandleCollision) || ierr.HandleID != fixed {
				t.Errorf("unexpected invariant error: %v", ierr)
			}
		}()
		_, _ = AllocateHandle(ctx, c, users, 1, user, FlagNone)
	}()

	// The original registration is untouched
	got, ok := c.Handle(fixed)
	if !ok || got != Lease(first) {
		t.Error("collision must not replace the registered handle")
	}
	if c.HandleCount() != 1 {
		t.Errorf("expected 1 live handle, got %d", c.HandleCount())
	}
	if err := first.Dispose(ctx); err != nil {
		t.Fatal(err)
	}
	if Referenced(c, users, 1) {
		t.Error("rolled back reference leaked")
	}
}

// ============ Free Handles ============

func TestFreeHandles_SkipsUnknown(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	a := seed(t, users, 1, "a")
	b := seed(t, users, 2, "b")

	ha, _ := AllocateHandle(ctx, c, users, 1, a, FlagNone)
	hb, _ := AllocateHandle(ctx, c, users, 2, b, FlagRetainOnDispose)

	if err := c.FreeHandles(ctx, []uuid.UUID{ha.HandleID(), uuid.New(), hb.HandleID()}); err != nil {
		t.Fatalf("FreeHandles: %v", err)
	}
	if c.HandleCount() != 0 {
		t.Errorf("expected 0 live handles, got %d", c.HandleCount())
	}
	if !ha.Disposed() || !hb.Disposed() {
		t.Error("expected both handles disposed")
	}
	if cached(t, users, 1) || !cached(t, users, 2) {
		t.Error("disposal must follow each handle's flags")
	}

	// Freeing again is harmless
	if err := c.FreeHandles(ctx, []uuid.UUID{ha.HandleID()}); err != nil {
		t.Errorf("second FreeHandles: %v", err)
	}
}

// ============ Disposal Failures ============

func TestDispose_BackendFailureKeepsHandle(t *testing.T) {
	ctx := context.Background()
	mock := gomock.NewController(t)
	table := cache.NewMockTable(mock)
	backend := cache.NewMockBackend(mock)
	backend.EXPECT().OpenTable(gomock.Any(), "users").Return(table, nil)

	c := NewController(cache.NewProvider(backend))
	users, err := GetStore[uint64](ctx, c, cache.StoreUsers)
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("connection reset")
	gomock.InOrder(
		table.EXPECT().Delete(gomock.Any(), "3").Return(boom),
		table.EXPECT().Delete(gomock.Any(), "3").Return(nil),
	)

	h, _ := AllocateHandle(ctx, c, users, 3, wrapperspb.String("c"), FlagNone)

	err = h.Dispose(ctx)
	var derr *DisposeError
	if !errors.As(err, &derr) || !errors.Is(err, boom) {
		t.Fatalf("expected *DisposeError wrapping backend error, got %v", err)
	}
	if derr.HandleID != h.HandleID() || derr.Store != "users" || derr.EntityID != "3" {
		t.Errorf("unexpected dispose error fields: %+v", derr)
	}
	if h.Disposed() || c.HandleCount() != 1 || !Referenced(c, users, 3) {
		t.Fatal("failed disposal must leave the handle live")
	}

	if err := h.Dispose(ctx); err != nil {
		t.Fatalf("retry Dispose: %v", err)
	}
	if c.HandleCount() != 0 {
		t.Errorf("expected 0 live handles, got %d", c.HandleCount())
	}
}

func TestDispose_CancelledContext(t *testing.T) {
	c, users := newUsers(t)
	user := seed(t, users, 4, "d")
	h, _ := AllocateHandle(context.Background(), c, users, 4, user, FlagNone)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.Dispose(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.Disposed() || !cached(t, users, 4) {
		t.Error("cancelled disposal must not change state")
	}
	if err := h.Dispose(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// ============ Close ============

func TestClose_DisposesRemainingHandles(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	user := seed(t, users, 1, "a")

	h, _ := AllocateHandle(ctx, c, users, 1, user, FlagNone)
	var ran bool
	c.AddCleanupTask("final", func(ctx context.Context) error {
		ran = true
		return nil
	})

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ran {
		t.Error("Close should run a final cleanup pass")
	}
	if !h.Disposed() || c.HandleCount() != 0 {
		t.Error("Close should dispose remaining handles")
	}
	if _, err := AllocateHandle(ctx, c, users, 1, user, FlagNone); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := c.RunCleanup(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from RunCleanup, got %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestClose_ConcurrentAllocations(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	user := seed(t, users, 1, "a")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := AllocateHandle(ctx, c, users, 1, user, FlagRetainOnDispose)
				if errors.Is(err, ErrClosed) {
					return
				}
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	for c.HandleCount() < 50 {
		runtime.Gosched()
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	if n := c.HandleCount(); n != 0 {
		t.Errorf("allocations racing Close left %d live handles", n)
	}
	if Referenced(c, users, 1) {
		t.Error("allocations racing Close left references behind")
	}
}

func TestHandleFlags_String(t *testing.T) {
	cases := map[HandleFlags]string{
		FlagNone:                            "none",
		FlagRetainOnDispose:                 "retain_on_dispose",
		FlagRetainOnDispose | FlagExclusive: "retain_on_dispose|exclusive",
	}
	for f, want := range cases {
		if got := f.String(); got != want {
			t.Errorf("HandleFlags(%d).String() = %q, want %q", uint32(f), got, want)
		}
	}
}
