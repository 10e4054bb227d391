package orglock

import (
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameOrg(t *testing.T) {
	registry := NewRegistry()
	orgID := snowflake.ID(42)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := registry.Lock(orgID)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
}

func TestLockDistinctOrgsDoNotBlock(t *testing.T) {
	registry := NewRegistry()

	unlockA := registry.Lock(snowflake.ID(1))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := registry.Lock(snowflake.ID(2))
		unlockB()
		close(done)
	}()
	<-done
}

func TestLockReentryAfterUnlock(t *testing.T) {
	registry := NewRegistry()
	orgID := snowflake.ID(7)

	unlock := registry.Lock(orgID)
	unlock()
	unlock = registry.Lock(orgID)
	unlock()
}
