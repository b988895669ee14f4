package inventory

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
)

// RetryPolicy presupuesto de reintentos ante domain.ErrConcurrencyConflict.
// Backoff exponencial con jitter completo, acotado por MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy valores por defecto (5 intentos, 10ms base, 250ms máximo).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
}

// Do ejecuta fn hasta que no devuelva un conflicto de concurrencia o se agote el presupuesto.
// Cualquier otro error se devuelve de inmediato. Devuelve el número de intentos realizados.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
			return i + 1, err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(p.backoff(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return i + 1, errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return attempts, err
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}
