package pagebuf

import "testing"

func TestTableGrowSequential(t *testing.T) {
	tb := newTable()
	for idx := uint32(0); idx < 5; idx++ {
		s, err := tb.slot(idx)
		if err != nil {
			t.Fatalf("slot(%d): %v", idx, err)
		}
		s.state = flagMapped
	}
	if len(tb.slots) != 5 {
		t.Fatalf("expected 5 slots, got %d", len(tb.slots))
	}
	if tb.base != 0 {
		t.Fatalf("expected base 0, got %d", tb.base)
	}
}

func TestTableIdxBelowBaseIsError(t *testing.T) {
	tb := newTable()
	if _, err := tb.slot(0); err != nil {
		t.Fatalf("slot(0): %v", err)
	}
	tb.release(0)
	if _, err := tb.slot(0); err == nil {
		t.Fatal("expected error re-touching a released idx")
	}
}

func TestTableExhaustionAtTableSize(t *testing.T) {
	tb := &table{base: TableSize - 1}
	if _, err := tb.slot(TableSize - 1); err != nil {
		t.Fatalf("slot(TableSize-1): %v", err)
	}
	if _, err := tb.slot(TableSize); err == nil {
		t.Fatal("expected page table exhaustion error at idx == TableSize")
	}
}

func TestTableReleaseOutOfOrderPanics(t *testing.T) {
	tb := newTable()
	if _, err := tb.slot(0); err != nil {
		t.Fatalf("slot(0): %v", err)
	}
	if _, err := tb.slot(1); err != nil {
		t.Fatalf("slot(1): %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing idx 1 before idx 0")
		}
	}()
	tb.release(1)
}

func TestTablePeekOutsideWindow(t *testing.T) {
	tb := newTable()
	if s := tb.peek(0); s != nil {
		t.Fatal("expected nil peek before any slot is touched")
	}
	if _, err := tb.slot(0); err != nil {
		t.Fatalf("slot(0): %v", err)
	}
	if s := tb.peek(0); s == nil {
		t.Fatal("expected non-nil peek after slot(0)")
	}
	if s := tb.peek(1); s != nil {
		t.Fatal("expected nil peek for untouched idx 1")
	}
}
