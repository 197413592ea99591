package resilience

import (
	"github.com/MrWong99/kittymode/pkg/keyboard"
)

// Injector guards a [keyboard.Injector] with a [CircuitBreaker]. Once the
// input subsystem has refused enough keystrokes in a row, further keystrokes
// fail with [ErrCircuitOpen] immediately until the breaker resets.
type Injector struct {
	inner   keyboard.Injector
	breaker *CircuitBreaker
}

var _ keyboard.Injector = (*Injector)(nil)

// NewInjector wraps inner. cfg.Name defaults to "injector".
func NewInjector(inner keyboard.Injector, cfg CircuitBreakerConfig) *Injector {
	if cfg.Name == "" {
		cfg.Name = "injector"
	}
	return &Injector{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Breaker returns the underlying breaker.
func (i *Injector) Breaker() *CircuitBreaker { return i.breaker }

// Backspace implements [keyboard.Injector].
func (i *Injector) Backspace() error {
	return i.breaker.Execute(i.inner.Backspace)
}

// TypeRune implements [keyboard.Injector].
func (i *Injector) TypeRune(r rune) error {
	return i.breaker.Execute(func() error { return i.inner.TypeRune(r) })
}

// Enter implements [keyboard.Injector].
func (i *Injector) Enter() error {
	return i.breaker.Execute(i.inner.Enter)
}
