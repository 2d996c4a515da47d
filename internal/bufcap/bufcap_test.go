package bufcap

import "testing"

func TestCapacityClampsLow(t *testing.T) {
	if got := Capacity(1, 1); got != minCapacity {
		t.Errorf("Capacity(1,1) = %d, want %d", got, minCapacity)
	}
}

func TestCapacityLargeRatioBelowCeiling(t *testing.T) {
	// log2(1<<40 / 1) * 256 = 40 * 256 = 10240, still under maxCapacity.
	if got := Capacity(1<<40, 1); got != 10240 {
		t.Errorf("Capacity(1<<40,1) = %d, want 10240", got)
	}
}

func TestCapacityMidRange(t *testing.T) {
	// log2(1<<20 / 4096) * 256 = log2(256) * 256 = 8 * 256 = 2048
	if got := Capacity(1<<20, 4096); got != 2048 {
		t.Errorf("Capacity(1<<20,4096) = %d, want 2048", got)
	}
}

func TestCapacityZeroWriteBufferSize(t *testing.T) {
	// Must not divide by zero or panic.
	if got := Capacity(4096, 0); got < minCapacity || got > maxCapacity {
		t.Errorf("Capacity(4096,0) = %d out of bounds", got)
	}
}
