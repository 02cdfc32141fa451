// Package testutils holds component fixtures and helpers shared by the ecsdb tests.
package testutils

import "sync/atomic"

type Health struct {
	Value int `json:"value"`
}

func (Health) Name() string { return "Health" }

type Position struct{ X, Y int }

func (Position) Name() string { return "Position" }

type Velocity struct{ X, Y int }

func (Velocity) Name() string { return "Velocity" }

type Experience struct{ Value int }

func (Experience) Name() string { return "Experience" }

type PlayerTag struct{ Tag string }

func (PlayerTag) Name() string { return "PlayerTag" }

// Marker is a zero-sized tag component.
type Marker struct{}

func (Marker) Name() string { return "Marker" }

type Inventory struct {
	Items map[string]int `json:"items"`
}

func (Inventory) Name() string { return "Inventory" }

// Resource counts how many times its destructor ran.
type Resource struct {
	ID    int
	Drops *atomic.Int64
}

func (Resource) Name() string { return "Resource" }

func (r *Resource) Drop() {
	if r.Drops != nil {
		r.Drops.Add(1)
	}
}
