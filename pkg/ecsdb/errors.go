package ecsdb

import "github.com/rotisserie/eris"

var (
	// ErrStaleEntity is returned when an entity handle no longer refers to a live entity.
	ErrStaleEntity = eris.New("entity does not exist")

	// ErrComponentNotFound is returned when an entity or archetype does not hold a component type.
	ErrComponentNotFound = eris.New("component not found")

	// ErrUnknownComponent is returned when a component name is not registered.
	ErrUnknownComponent = eris.New("component not registered")

	// ErrInvalidSearch is returned for malformed search parameters.
	ErrInvalidSearch = eris.New("invalid search params")
)
