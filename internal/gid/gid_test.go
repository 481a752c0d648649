package gid

import "testing"

func TestGetStableWithinGoroutine(t *testing.T) {
	a, b := Get(), Get()
	if a == 0 {
		t.Fatal("goroutine id parse failed")
	}
	if a != b {
		t.Fatalf("id changed within one goroutine: %d vs %d", a, b)
	}
}

func TestGetDiffersAcrossGoroutines(t *testing.T) {
	main := Get()
	ch := make(chan uint64)
	go func() { ch <- Get() }()
	other := <-ch
	if other == 0 || other == main {
		t.Fatalf("expected distinct ids, got %d and %d", main, other)
	}
}
