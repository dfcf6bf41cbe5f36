package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrRetriesExhausted envuelve el último error cuando se agota el presupuesto de reintentos.
var ErrRetriesExhausted = errors.New("retries exhausted")

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marca err como reintentable. Un error sin marcar es definitivo.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient indica si err (o alguno de los errores que envuelve) fue marcado con Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// RetryPolicy describe el calendario de reintentos.
// Retries es el número de reintentos tras el primer intento.
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
	// OnRetry se llama antes de esperar al siguiente intento.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay devuelve la espera antes del reintento número attempt (empezando en 1): base * 2^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 30 {
		shift = 30
	}
	d := p.BaseDelay * time.Duration(1<<shift)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// la mitad fija y la otra mitad aleatoria, para no perder del todo el backoff
		d = d/2 + rand.N(d/2+1)
	}
	return d
}

// RetryWithPolicy ejecuta fn hasta que devuelve nil, un error no transitorio,
// o se agotan los reintentos. fn recibe el número de intento (0 = primer intento).
func RetryWithPolicy(ctx context.Context, p RetryPolicy, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == p.Retries {
			break
		}

		delay := p.Delay(attempt + 1)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if err := SleepWithContext(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.Retries+1, err)
}

// Retry ejecuta una función con reintentos configurables y espera fija.
// Todos los errores se consideran reintentables; se usa al arrancar, mientras
// las dependencias terminan de levantarse.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		// espera antes del siguiente intento
		if sleepErr := SleepWithContext(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

// SleepWithContext duerme d o hasta que se cancele ctx.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
