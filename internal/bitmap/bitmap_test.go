package bitmap

import "testing"

func TestSetClearGet(t *testing.T) {
	buf := make([]byte, 4)
	b := New(buf, len(buf))

	if b.Get(9) {
		t.Fatalf("bit 9 set before Set")
	}
	b.Set(9)
	if !b.Get(9) {
		t.Fatalf("bit 9 clear after Set")
	}
	if b.Get(8) || b.Get(10) {
		t.Fatalf("Set(9) touched neighboring bits")
	}
	b.Clear(9)
	if b.Get(9) {
		t.Fatalf("bit 9 still set after Clear")
	}
}

func TestBits(t *testing.T) {
	b := New(make([]byte, 4), 4)
	if got, want := b.Bits(), uint64(32); got != want {
		t.Errorf("Bits() = %d, want %d", got, want)
	}
}

func TestFindFirstFree(t *testing.T) {
	buf := make([]byte, 2)
	b := New(buf, len(buf))
	for i := uint64(0); i < 5; i++ {
		b.Set(i)
	}
	got, ok := b.FindFirstFree()
	if !ok || got != 5 {
		t.Errorf("FindFirstFree() = (%d, %v), want (5, true)", got, ok)
	}
}

func TestFindFirstFreeAllSet(t *testing.T) {
	buf := []byte{0xFF, 0xFF}
	b := New(buf, len(buf))
	if _, ok := b.FindFirstFree(); ok {
		t.Errorf("FindFirstFree() on full bitmap reported a free bit")
	}
}

func TestCountZeros(t *testing.T) {
	buf := make([]byte, 2)
	b := New(buf, len(buf))
	b.Set(0)
	b.Set(1)
	b.Set(15)
	if got, want := b.CountZeros(), uint64(13); got != want {
		t.Errorf("CountZeros() = %d, want %d", got, want)
	}
}
