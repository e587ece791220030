package world

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

type droppable struct {
	dropped *int
}

func (d droppable) Drop() { *d.dropped++ }

func TestArena_Basic(t *testing.T) {
	a := NewArena()

	slot, err := a.Allocate("test value")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if slot.Index == 0 {
		t.Fatal("Expected non-zero slot index")
	}

	v, ok := a.Get(slot)
	if !ok {
		t.Fatal("Get failed")
	}
	if v.String() != "test value" {
		t.Fatalf("Expected 'test value', got %v", v)
	}
	if !v.CanSet() {
		t.Fatal("Expected addressable value")
	}

	if !a.Release(slot) {
		t.Fatal("Release should free the only strong reference")
	}
	if _, ok := a.Get(slot); ok {
		t.Fatal("Expected Get to fail after release")
	}
}

func TestArena_StrongCount(t *testing.T) {
	a := NewArena()
	slot, _ := a.Allocate(42)

	for i := 0; i < 3; i++ {
		if !a.Retain(slot) {
			t.Fatalf("Retain %d failed", i)
		}
	}
	if n, _ := a.StrongCount(slot); n != 4 {
		t.Fatalf("Expected strong count 4, got %d", n)
	}

	for i := 0; i < 3; i++ {
		if a.Release(slot) {
			t.Fatalf("Release %d freed a retained slot", i)
		}
	}
	if !a.Release(slot) {
		t.Fatal("Last release should free")
	}
	if a.Retain(slot) {
		t.Fatal("Retain on freed slot should fail")
	}
}

func TestArena_StaleGeneration(t *testing.T) {
	a := NewArena()

	s1, _ := a.Allocate(1)
	a.Release(s1)
	s2, _ := a.Allocate(2)

	if s1.Index != s2.Index {
		t.Log("slot not reused, generation check not exercised")
		return
	}
	if s1.Generation == s2.Generation {
		t.Fatal("reused slot must carry a new generation")
	}
	if _, ok := a.Get(s1); ok {
		t.Fatal("stale slot must not resolve")
	}
	v, ok := a.Get(s2)
	if !ok || v.Int() != 2 {
		t.Fatalf("expected 2, got %v (%v)", v, ok)
	}
}

func TestArena_Dropper(t *testing.T) {
	a := NewArena()
	count := 0

	slot, _ := a.Allocate(droppable{dropped: &count})
	a.Release(slot)
	if count != 1 {
		t.Fatalf("Expected Drop to run once, ran %d", count)
	}

	a.Allocate(droppable{dropped: &count})
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected Close to drop remaining values, count %d", count)
	}
}

func TestArena_Close(t *testing.T) {
	a := NewArena()
	a.Allocate(1)
	a.Allocate(2)

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := a.Allocate(3); !errors.Is(err, ErrArenaClosed) {
		t.Fatal("Expected ErrArenaClosed after Close")
	}
}

func TestArena_LenAndEach(t *testing.T) {
	a := NewArena()

	s1, _ := a.Allocate("a")
	a.Allocate("b")
	a.Allocate("c")

	if a.Len() != 3 {
		t.Fatalf("Expected Len() == 3, got %d", a.Len())
	}

	a.Release(s1)
	if a.Len() != 2 {
		t.Fatalf("Expected Len() == 2, got %d", a.Len())
	}

	count := 0
	a.Each(func(Slot, reflect.Value) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Expected early termination after 1 item, got %d", count)
	}
}

func TestArena_InvalidSlot(t *testing.T) {
	a := NewArena()

	if _, ok := a.Get(Slot{}); ok {
		t.Fatal("Slot 0 should be invalid")
	}
	if a.Retain(Slot{Index: 99}) {
		t.Fatal("Non-existent slot should fail Retain")
	}
	if a.Release(Slot{Index: 99}) {
		t.Fatal("Non-existent slot should fail Release")
	}
	if _, err := a.Allocate(nil); err == nil {
		t.Fatal("Allocating nil should fail")
	}
}

func TestArena_Concurrent(t *testing.T) {
	a := NewArena()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s, err := a.Allocate(id)
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			a.Retain(s)
			a.Release(s)
			a.Release(s)
		}(i)
	}

	wg.Wait()
	if a.Len() != 0 {
		t.Fatalf("Expected empty arena, got %d", a.Len())
	}
}
