package memprobe

import "testing"

func TestTotalMemoryPositive(t *testing.T) {
	total, err := TotalMemory()
	if err != nil {
		t.Fatalf("TotalMemory: %v", err)
	}
	if total == 0 {
		t.Fatal("expected a nonzero total memory reading")
	}
}
