package retry

import (
	"context"
	"log"
	"time"

	"github.com/jpillora/backoff"
)

// Policy описывает единую политику повторов для вызовов к wg-easy API.
// Retryable решает, имеет ли смысл повторять после данной ошибки;
// если nil — повторяются все ошибки.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Retryable   func(error) bool
}

// Fixed возвращает политику с фиксированной задержкой между попытками.
func Fixed(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		MaxDelay:    delay,
		Factor:      1,
	}
}

// Do выполняет fn до первого успеха, но не более MaxAttempts раз.
// Успех любой попытки прекращает повторы. Отмена контекста
// прекращает ожидание между попытками.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.Backoff{
		Min:    p.Delay,
		Max:    p.MaxDelay,
		Factor: p.Factor,
		Jitter: false,
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		log.Printf("retry: %s attempt %d/%d failed: %v", op, attempt, attempts, err)

		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}
