package keylock_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/keylock"
)

func TestLockSerializesSameKey(t *testing.T) {
	locks := keylock.New()

	const goroutines = 50
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("checkout-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestLockIndependentKeys(t *testing.T) {
	locks := keylock.New()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	// Holding "a" must not block "b".
	<-done
	unlockA()
}

func TestLockReacquireAfterUnlock(t *testing.T) {
	locks := keylock.New()

	unlock := locks.Lock("k")
	unlock()
	unlock = locks.Lock("k")
	unlock()
}
