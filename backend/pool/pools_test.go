package pool

import "testing"

func TestBufferPoolLengths(t *testing.T) {
	bp := NewBufferPool(16)

	b := bp.GetBuffer(5)
	if len(b) != 5 || cap(b) != 16 {
		t.Fatalf("expected len 5 cap 16, got len %d cap %d", len(b), cap(b))
	}
	bp.PutBuffer(b)

	b = bp.GetBuffer(16)
	if len(b) != 16 {
		t.Fatalf("expected a full buffer, got %d", len(b))
	}

	big := bp.GetBuffer(32)
	if len(big) != 32 {
		t.Fatalf("oversized request: got %d", len(big))
	}
	bp.PutBuffer(big)
}

func TestForSizeSharesPools(t *testing.T) {
	if ForSize(64) != ForSize(64) {
		t.Fatalf("expected the same pool for one size")
	}
	if ForSize(64) == ForSize(128) {
		t.Fatalf("expected distinct pools per size")
	}
	if ForSize(64).Size() != 64 {
		t.Fatalf("unexpected size %d", ForSize(64).Size())
	}
}
