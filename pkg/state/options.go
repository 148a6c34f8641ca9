package state

import "github.com/google/uuid"

// Option is a functional option for configuring a Controller.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) {
	f(c)
}

type config struct {
	observer        Observer
	sweepers        []Sweeper
	noDefaultSweeps bool
	newID           func() uuid.UUID
}

// WithObserver routes controller events to obs.
// Use MultiObserver to combine several.
func WithObserver(obs Observer) Option {
	return optionFunc(func(c *config) {
		c.observer = obs
	})
}

// WithSweeper adds a fixed sweep that runs at the start of every cleanup
// pass, before queued cleanup tasks. Sweeps run in registration order, after
// the default sweeps.
func WithSweeper(s Sweeper) Option {
	return optionFunc(func(c *config) {
		c.sweepers = append(c.sweepers, s)
	})
}

// WithHandleIDGenerator replaces the random UUID source for handle ids.
// Intended for tests; the generator must produce unique values.
func WithHandleIDGenerator(gen func() uuid.UUID) Option {
	return optionFunc(func(c *config) {
		c.newID = gen
	})
}

// WithoutDefaultSweeps disables the sweeps every controller runs by default
// (currently StaleUsersSweep). Sweeps added with WithSweeper still run.
func WithoutDefaultSweeps() Option {
	return optionFunc(func(c *config) {
		c.noDefaultSweeps = true
	})
}
