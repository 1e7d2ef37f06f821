package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}

	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardWrite(t *testing.T) {
	type counter struct{ value int }
	g := NewGuard(counter{value: 0})

	g.Write(func(c *counter) {
		c.value = 42
	})

	if got := g.Get().value; got != 42 {
		t.Errorf("Get().value = %d, want 42", got)
	}
}

func TestView(t *testing.T) {
	g := NewGuard([]string{"ID 125", "2362"})

	n := View(g, func(v []string) int { return len(v) })
	if n != 2 {
		t.Errorf("View() = %d, want 2", n)
	}
}

func TestGuardConcurrent(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.Write(func(v *int) { *v++ })
		}()
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}
	wg.Wait()

	if got := g.Get(); got != 100 {
		t.Errorf("Get() = %d, want 100", got)
	}
}
