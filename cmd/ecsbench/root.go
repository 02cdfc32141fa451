package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/argus-labs/ecsdb/pkg/ecsdb"
	"github.com/argus-labs/ecsdb/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type position struct{ X, Y float64 }

func (position) Name() string { return "position" }

type velocity struct{ X, Y float64 }

func (velocity) Name() string { return "velocity" }

type health struct{ Value int }

func (health) Name() string { return "health" }

type churnOptions struct {
	workers    int
	entities   int
	iterations int
	repack     bool
	dump       bool
}

// NewRootCmd builds the ecsbench command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ecsbench",
		Short:        "Exercise an ecsdb world under concurrent load",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newChurnCmd())
	return rootCmd
}

func newChurnCmd() *cobra.Command {
	opts := churnOptions{}
	cmd := &cobra.Command{
		Use:     "churn",
		Short:   "Spawn, migrate, query and despawn entities from several goroutines",
		Example: "ecsbench churn --workers 8 --entities 10000 --iterations 20",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tel, err := telemetry.New(cmd.Context(), telemetry.Options{ServiceName: "ecsbench", Output: cmd.ErrOrStderr()})
			if err != nil {
				return eris.Wrap(err, "failed to initialize telemetry")
			}
			defer func() {
				if err := tel.Shutdown(context.Background()); err != nil {
					tel.Logger.Warn().Err(err).Msg("telemetry shutdown failed")
				}
			}()
			return runChurn(cmd.Context(), &tel.Logger, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.entities, "entities", 10_000, "entities spawned per worker")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 10, "migration rounds per worker")
	cmd.Flags().BoolVar(&opts.repack, "repack", true, "repack the world after the workload")
	cmd.Flags().BoolVar(&opts.dump, "dump", false, "print the world stats as JSON")
	return cmd
}

func runChurn(ctx context.Context, logger *zerolog.Logger, opts churnOptions, out io.Writer) error {
	if opts.workers <= 0 || opts.entities <= 0 || opts.iterations < 0 {
		return eris.New("workers and entities must be positive and iterations must not be negative")
	}

	w, err := ecsdb.NewWorld(ecsdb.WorldOptions{Name: "ecsbench", Logger: logger})
	if err != nil {
		return eris.Wrap(err, "failed to create world")
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for worker := range opts.workers {
		g.Go(func() error {
			return churn(gctx, w, worker, opts)
		})
	}

	// A reader integrates velocities until the workers are done.
	stop := make(chan struct{})
	passes := make(chan int)
	go func() {
		q := ecsdb.NewQuery2[position, velocity](w)
		n := 0
		for {
			select {
			case <-stop:
				passes <- n
				return
			default:
			}
			q.EachMut(func(_ ecsdb.Entity, p *position, v *velocity) bool {
				p.X += v.X
				p.Y += v.Y
				return true
			})
			n++
		}
	}()

	err = g.Wait()
	close(stop)
	queryPasses := <-passes
	if err != nil {
		return err
	}
	logger.Info().
		Int("entities", w.Len()).
		Int("query_passes", queryPasses).
		Dur("elapsed", time.Since(start)).
		Msg("workload finished")

	if opts.repack {
		moved := w.Repack(ctx, -1)
		logger.Info().Int("rows_moved", moved).Msg("repacked")
	}

	if opts.dump {
		bz, err := w.DebugJSON()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, string(bz)); err != nil {
			return eris.Wrap(err, "failed to write stats")
		}
	}
	return nil
}

// churn spawns a worker's entities in one batch, toggles velocity on them for a number of rounds and
// despawns every other one.
func churn(ctx context.Context, w *ecsdb.World, worker int, opts churnOptions) error {
	positions := make([]position, opts.entities)
	healths := make([]health, opts.entities)
	for i := range positions {
		positions[i] = position{X: float64(worker), Y: float64(i)}
		healths[i] = health{Value: 100}
	}
	entities := ecsdb.SpawnColumns2(w, positions, healths)

	for round := range opts.iterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, e := range entities {
			if (i+round)%2 == 0 {
				if !w.AddComponents(e, ecsdb.Of1(velocity{X: 1, Y: 1})) {
					return eris.Errorf("worker %d lost entity %s", worker, e)
				}
				continue
			}
			if !w.RemoveComponents(e, ecsdb.TypeOf[velocity]()) {
				return eris.Errorf("worker %d lost entity %s", worker, e)
			}
		}
	}

	odd := make([]ecsdb.Entity, 0, len(entities)/2)
	for i := 1; i < len(entities); i += 2 {
		odd = append(odd, entities[i])
	}
	if removed := w.DespawnBatch(odd...); removed != len(odd) {
		return eris.Errorf("worker %d despawned %d of %d entities", worker, removed, len(odd))
	}
	return nil
}
