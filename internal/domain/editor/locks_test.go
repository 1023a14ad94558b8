package editor

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerialisesOneKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("q")

	acquired := make(chan struct{})
	go func() {
		release := k.Lock("q")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		k.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("q")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("expected 50, got %d", counter)
	}
	if k.size() != 0 {
		t.Errorf("expected no entries, got %d", k.size())
	}
}
