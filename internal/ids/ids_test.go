package ids

import "testing"

func TestNewIsSortableAndValid(t *testing.T) {
	a := New()
	b := New()
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected valid ulids, got %q %q", a, b)
	}
	if a >= b {
		t.Fatalf("expected monotonic ids, got %q then %q", a, b)
	}
	if Valid("not-a-ulid") {
		t.Fatalf("expected invalid id to be rejected")
	}
}
