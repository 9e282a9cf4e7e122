// Package timeutil provides a small abstraction over the system clock so
// components can be tested with a controlled notion of "now".
package timeutil

import "time"

// Provider supplies the current time.
type Provider interface {
	// Now returns the current time.
	Now() time.Time
}

type realProvider struct{}

// Now returns the current time in UTC.
func (realProvider) Now() time.Time { return time.Now().UTC() }

// Default returns a Provider backed by the system clock.
func Default() Provider { return realProvider{} }
