package eventloop

import (
	"sync"
	"testing"
	"time"
)

func TestSerialRunsInOrder(t *testing.T) {
	loop := NewSerial(nil)
	defer loop.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	loop.Do(func() {})

	if len(got) != 100 {
		t.Fatalf("expected 100 runs, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %d", i, v)
		}
	}
}

func TestSerialPostFromManyGoroutines(t *testing.T) {
	loop := NewSerial(nil)
	defer loop.Close()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				loop.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()
	loop.Do(func() {})

	if counter != 800 {
		t.Errorf("expected 800, got %d", counter)
	}
}

func TestSerialRecoversPanics(t *testing.T) {
	loop := NewSerial(nil)
	defer loop.Close()

	loop.Post(func() { panic("boom") })
	ran := false
	if !loop.Do(func() { ran = true }) || !ran {
		t.Fatal("loop should keep running after a panic")
	}
}

func TestSerialCloseDrainsAndRejects(t *testing.T) {
	loop := NewSerial(nil)
	ran := false
	loop.Post(func() { ran = true })
	loop.Close()
	loop.Close()

	if !ran {
		t.Error("queued work should run before Close returns")
	}
	if loop.Post(func() {}) {
		t.Error("Post after Close should return false")
	}
	if loop.Do(func() {}) {
		t.Error("Do after Close should return false")
	}
}

func TestManualAwait(t *testing.T) {
	m := NewManual()
	ran := false
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Post(func() { ran = true })
	}()

	if !m.Await(time.Second) {
		t.Fatal("Await timed out")
	}
	if !ran {
		t.Error("posted function did not run")
	}
	if m.Await(20 * time.Millisecond) {
		t.Error("Await with nothing posted should time out")
	}
}

func TestManualRunPendingIncludesNestedPosts(t *testing.T) {
	m := NewManual()
	order := []string{}
	m.Post(func() {
		order = append(order, "outer")
		m.Post(func() { order = append(order, "inner") })
	})

	if n := m.RunPending(); n != 2 {
		t.Fatalf("expected 2 runs, got %d", n)
	}
	if len(order) != 2 || order[1] != "inner" {
		t.Errorf("unexpected order %v", order)
	}
}
