// Package statsd is a helper package that wraps the statsd calls made by the store. It hides the
// datadog dependency so a migration away from datadog only touches this file.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

// Init replaces the no-op client with one that sends to address.
func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("ecsdb."),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "failed to create statsd client")
	}
	client = newClient
	return nil
}

// EmitRetry counts one lost optimistic race for the given operation.
func EmitRetry(op string) {
	if err := Client().Incr("migration.retry", []string{"op:" + op}, 1); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to emit retry stat")
	}
}

// EmitRepack records the duration of a repack and how many chunks it freed.
func EmitRepack(start time.Time, chunksFreed int) {
	if err := Client().Timing("repack", time.Since(start), nil, 1); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to emit repack stat")
	}
	if err := Client().Count("repack.chunks_freed", int64(chunksFreed), nil, 1); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to emit repack stat")
	}
}

// GaugeArchetypes records the number of live archetypes.
func GaugeArchetypes(n int) {
	if err := Client().Gauge("archetypes", float64(n), nil, 1); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to emit archetype gauge")
	}
}
