// Package ecslog holds zerolog helpers that log storage structures with consistent field names.
package ecslog

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Component is the minimal view of a component type needed for logging.
type Component struct {
	ID   uint64
	Name string
}

func loadComponentIntoArrayLogger(component Component, arrayLogger *zerolog.Array) *zerolog.Array {
	dictLogger := zerolog.Dict()
	dictLogger = dictLogger.Uint64("component_id", component.ID)
	dictLogger = dictLogger.Str("component_name", component.Name)
	return arrayLogger.Dict(dictLogger)
}

func loadComponentsToEvent(zeroLoggerEvent *zerolog.Event, components []Component) *zerolog.Event {
	arrayLogger := zerolog.Arr()
	for _, c := range components {
		arrayLogger = loadComponentIntoArrayLogger(c, arrayLogger)
	}
	return zeroLoggerEvent.Array("components", arrayLogger)
}

// Archetype logs an archetype with its components.
func Archetype(logger *zerolog.Logger, level zerolog.Level, archID uint64, components []Component, msg string) {
	zeroLoggerEvent := logger.WithLevel(level)
	zeroLoggerEvent = zeroLoggerEvent.Str("archetype_id", hex(archID))
	loadComponentsToEvent(zeroLoggerEvent, components).Msg(msg)
}

// Entity logs an entity and the archetype it lives in.
func Entity(logger *zerolog.Logger, level zerolog.Level, index, generation uint32, archID uint64, msg string) {
	logger.WithLevel(level).
		Uint32("entity_id", index).
		Uint32("entity_generation", generation).
		Str("archetype_id", hex(archID)).
		Msg(msg)
}

// CreateWorldLogger creates a sub logger with the entry {"world": name}.
func CreateWorldLogger(logger *zerolog.Logger, name string) *zerolog.Logger {
	newLogger := logger.With().Str("world", name).Logger()
	return &newLogger
}

func hex(v uint64) string {
	return fmt.Sprintf("%016x", v)
}
