package store

import (
	"context"
	"testing"
)

func TestGetAbsentKey(t *testing.T) {
	st := OpenMemory(t)
	ctx := context.Background()

	raw, ok, err := st.Get(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected ok=false, got value %s", raw)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	st := OpenMemory(t)
	ctx := context.Background()

	in := map[string]int64{"tab-1": 1000, "tab-2": 2000}
	if err := st.Set(ctx, "open_times", in); err != nil {
		t.Fatal(err)
	}

	var out map[string]int64
	ok, err := st.Load(ctx, "open_times", &out)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected key present")
	}
	if out["tab-1"] != 1000 || out["tab-2"] != 2000 {
		t.Fatalf("unexpected value: %v", out)
	}
}

func TestSetOverwrites(t *testing.T) {
	st := OpenMemory(t)
	ctx := context.Background()

	if err := st.Set(ctx, "badge", 1); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "badge", 7); err != nil {
		t.Fatal(err)
	}

	var n int
	if _, err := st.Load(ctx, "badge", &n); err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
}

func TestDelete(t *testing.T) {
	st := OpenMemory(t)
	ctx := context.Background()

	if err := st.Set(ctx, "badge", 3); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, "badge"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.Get(ctx, "badge"); ok {
		t.Fatal("expected key gone")
	}

	// Deleting again is a no-op.
	if err := st.Delete(ctx, "badge"); err != nil {
		t.Fatal(err)
	}
}
