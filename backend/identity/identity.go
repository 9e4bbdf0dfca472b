// Package identity provides participant id generators.
package identity

import (
	"github.com/google/uuid"
)

type Generator interface {
	NewID() string
}

// Func adapts a plain function to Generator.
type Func func() string

func (f Func) NewID() string { return f() }

type uuidGenerator struct{}

// UUID returns a generator of random (v4) UUID strings.
func UUID() Generator {
	return uuidGenerator{}
}

func (uuidGenerator) NewID() string {
	return uuid.NewString()
}

// Fixed always returns id.
func Fixed(id string) Generator {
	return Func(func() string { return id })
}
