// Package clock abstrae time.Now para poder controlar el tiempo en tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// Real usa el reloj del sistema.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fake es un reloj manual para tests. Cero valor no sirve: usar NewFake.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance mueve el reloj hacia adelante (o atrás con d negativo).
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set fija el instante actual.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
