// Package lifecycle manages storage growth: it prunes per-epoch data below
// a retention watermark, takes local database checkpoints, publishes formal
// snapshots of live state and mirrors executed transactions into an
// append-only archive.
package lifecycle

import (
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
)

// RetentionConfig bounds how much history validators keep locally.
type RetentionConfig struct {
	// NumEpochsToRetain is the number of sealed epochs whose object
	// versions, transactions and effects are kept before pruning.
	NumEpochsToRetain idx.Epoch
	// NumEpochsToRetainForCheckpoints is the same bound for checkpoint
	// summaries and contents. Usually larger, since checkpoints are what
	// lagging peers sync from.
	NumEpochsToRetainForCheckpoints idx.Epoch
}

// PruningConfig controls the background pruner.
type PruningConfig struct {
	Enabled bool
	// RunDelay is the pause between background lifecycle sweeps.
	RunDelay time.Duration
	// MaxTransactionsInBatch bounds one atomic transaction-deletion step.
	MaxTransactionsInBatch int
	// MaxLogEntriesInBatch bounds one atomic consensus-log deletion step.
	MaxLogEntriesInBatch int
}

// DBCheckpointConfig controls local database restore points.
type DBCheckpointConfig struct {
	Enabled bool
	// Period is the number of epochs between restore points.
	Period idx.Epoch
	// Compact triggers a database compaction after each restore point.
	Compact bool
	// MaxBatchValues bounds one copy batch.
	MaxBatchValues int
}

// SnapshotConfig controls formal state snapshots.
type SnapshotConfig struct {
	Enabled bool
	// Period is the number of epochs between snapshots.
	Period idx.Epoch
	// MaxChunkObjects bounds the number of objects per snapshot chunk.
	MaxChunkObjects int
	// UseForPruningWatermark gates pruning on snapshot persistence: an
	// epoch may only be pruned once a snapshot at or after it is uploaded.
	UseForPruningWatermark bool
}

// ArchiveConfig controls the append-only transaction archive.
type ArchiveConfig struct {
	Enabled bool
	// UseForPruningWatermark gates pruning on archive persistence.
	UseForPruningWatermark bool
}

// Config aggregates the lifecycle configuration.
type Config struct {
	Retention    RetentionConfig
	Pruning      PruningConfig
	DBCheckpoint DBCheckpointConfig
	Snapshot     SnapshotConfig
	Archive      ArchiveConfig
}

// DefaultConfig returns the lifecycle configuration of a validator node.
func DefaultConfig() Config {
	return Config{
		Retention: RetentionConfig{
			NumEpochsToRetain:               8,
			NumEpochsToRetainForCheckpoints: 64,
		},
		Pruning: PruningConfig{
			Enabled:                true,
			RunDelay:               30 * time.Second,
			MaxTransactionsInBatch: 4096,
			MaxLogEntriesInBatch:   4096,
		},
		DBCheckpoint: DBCheckpointConfig{
			Enabled:        false,
			Period:         16,
			Compact:        true,
			MaxBatchValues: 8192,
		},
		Snapshot: SnapshotConfig{
			Enabled:                false,
			Period:                 4,
			MaxChunkObjects:        4096,
			UseForPruningWatermark: true,
		},
		Archive: ArchiveConfig{
			Enabled:                false,
			UseForPruningWatermark: true,
		},
	}
}

// ArchiveNodeConfig returns a lifecycle configuration that keeps everything
// and mirrors it into the archive.
func ArchiveNodeConfig() Config {
	cfg := DefaultConfig()
	cfg.Pruning.Enabled = false
	cfg.Archive.Enabled = true
	cfg.Snapshot.Enabled = true
	return cfg
}
