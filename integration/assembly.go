// Package integration assembles the node subsystems into a runnable stack
// and provides the named configuration presets.
package integration

import (
	"context"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/kvdb"

	"github.com/veridian-network/go-veridian/backend"
	"github.com/veridian-network/go-veridian/checkpointer"
	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/executor"
	"github.com/veridian-network/go-veridian/lifecycle"
	"github.com/veridian-network/go-veridian/locktable"
	"github.com/veridian-network/go-veridian/objstore"
)

// Config aggregates the subsystem configurations a stack is built from.
type Config struct {
	Executor  executor.Config
	Lifecycle lifecycle.Config
	Backend   backend.Config
}

// Stack is the assembled validator core: object store, lock table, epoch
// manager, checkpoint builder, execution coordinator and the lifecycle
// manager, all wired over one database producer.
type Stack struct {
	Objects     *objstore.Store
	Locks       *locktable.Table
	Epochs      *epochs.Manager
	Checkpoints *checkpointer.Builder
	Coordinator *executor.Coordinator
	Lifecycle   *lifecycle.Manager
	Blobs       backend.Store
}

// MakeStack opens the subsystem databases and wires the stack together.
// genesis is used only on first start; afterwards the persisted epoch
// context wins.
func MakeStack(dbs kvdb.DBProducer, cfg Config, genesis epochs.Context, vm executor.VM) (*Stack, error) {
	objectsDB, err := dbs.OpenDB("objects")
	if err != nil {
		return nil, fmt.Errorf("open objects db: %w", err)
	}
	locksDB, err := dbs.OpenDB("locks")
	if err != nil {
		return nil, fmt.Errorf("open locks db: %w", err)
	}
	epochsDB, err := dbs.OpenDB("epochs")
	if err != nil {
		return nil, fmt.Errorf("open epochs db: %w", err)
	}
	checkpointsDB, err := dbs.OpenDB("checkpoints")
	if err != nil {
		return nil, fmt.Errorf("open checkpoints db: %w", err)
	}
	lifecycleDB, err := dbs.OpenDB("lifecycle")
	if err != nil {
		return nil, fmt.Errorf("open lifecycle db: %w", err)
	}

	s := &Stack{}
	s.Objects = objstore.NewStore(objectsDB)
	s.Locks = locktable.New(locksDB, s.Objects)
	s.Epochs, err = epochs.NewManager(epochsDB, genesis)
	if err != nil {
		return nil, fmt.Errorf("open epoch manager: %w", err)
	}
	s.Checkpoints = checkpointer.NewBuilder(checkpointsDB, s.Epochs)
	s.Coordinator = executor.NewCoordinator(cfg.Executor, s.Objects, s.Locks, s.Epochs, vm, s.Checkpoints)

	if cfg.Lifecycle.Snapshot.Enabled || cfg.Lifecycle.Archive.Enabled {
		s.Blobs, err = backend.Open(cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("open blob backend: %w", err)
		}
	}
	s.Lifecycle = lifecycle.New(cfg.Lifecycle, lifecycleDB, s.Objects, s.Checkpoints, s.Epochs, s.Blobs, dbs.OpenDB)
	return s, nil
}

// Start recovers in-flight transactions from the consensus log and launches
// the background lifecycle loop.
func (s *Stack) Start(ctx context.Context) error {
	from, err := s.Checkpoints.NextConsensusSeq()
	if err != nil {
		return fmt.Errorf("read checkpoint head: %w", err)
	}
	if err := s.Coordinator.Recover(ctx, from); err != nil {
		return fmt.Errorf("recover execution: %w", err)
	}
	s.Lifecycle.Start()
	return nil
}

// Stop drains in-flight executions and stops the lifecycle loop.
func (s *Stack) Stop() error {
	s.Coordinator.Wait()
	s.Lifecycle.Stop()
	return s.Objects.Close()
}
