package keyedmu_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talecast/internal/keyedmu"
)

func TestMutex(t *testing.T) {
	t.Parallel()

	var k keyedmu.Mutex

	unlockA := k.Lock("a")
	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
		close(released)
	}()

	// A different key is independent.
	unlockB := k.Lock("b")
	unlockB()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-acquired
	<-released

	if n := k.Len(); n != 0 {
		t.Errorf("size after release = %d, want 0", n)
	}
}

func TestMutex_Serializes(t *testing.T) {
	t.Parallel()

	var (
		k       keyedmu.Mutex
		wg      sync.WaitGroup
		counter int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("s")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}
