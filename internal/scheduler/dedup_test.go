package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"wgkeeper/internal/notify"
)

func TestDedupMarkAndCheck(t *testing.T) {
	d := NewNotificationDedup()

	assert.True(t, d.MarkAndCheck(1, notify.CategoryExpired))
	assert.False(t, d.MarkAndCheck(1, notify.CategoryExpired))

	// другая категория той же подписки — отдельный ключ
	assert.True(t, d.MarkAndCheck(1, notify.CategoryExpiryWarning))
	assert.False(t, d.MarkAndCheck(1, notify.CategoryExpiryWarning))

	// другая подписка
	assert.True(t, d.MarkAndCheck(2, notify.CategoryExpired))
}

func TestDedupConcurrentMarkAndCheck(t *testing.T) {
	d := NewNotificationDedup()

	const goroutines = 32
	var wg sync.WaitGroup
	results := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.MarkAndCheck(7, notify.CategoryExpired)
		}()
	}
	wg.Wait()
	close(results)

	sent := 0
	for ok := range results {
		if ok {
			sent++
		}
	}
	assert.Equal(t, 1, sent, "exactly one goroutine may send")
}
