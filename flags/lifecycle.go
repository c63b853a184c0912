package flags

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// LifecycleFlags covers retention, pruning and the lifecycle sinks
// (snapshots, the archive and database restore points).
func LifecycleFlags() []cli.Flag {
	return []cli.Flag{
		cli.Uint64Flag{
			Name:  "retention.epochs",
			Usage: "Number of recent epochs kept from pruning",
			Value: 8,
		},
		cli.Uint64Flag{
			Name:  "retention.checkpoints.epochs",
			Usage: "Number of recent epochs whose checkpoints are kept",
			Value: 64,
		},
		cli.BoolTFlag{
			Name:  "pruning",
			Usage: "Prune state of expired epochs in the background",
		},
		cli.DurationFlag{
			Name:  "pruning.delay",
			Usage: "Delay between background pruning sweeps",
			Value: 30 * time.Second,
		},
		cli.IntFlag{
			Name:  "pruning.batch.txs",
			Usage: "Max transactions deleted in one DB batch",
			Value: 4096,
		},
		cli.BoolFlag{
			Name:  "snapshot",
			Usage: "Upload object state snapshots at epoch boundaries",
		},
		cli.Uint64Flag{
			Name:  "snapshot.period",
			Usage: "Number of epochs between snapshots",
			Value: 4,
		},
		cli.BoolTFlag{
			Name:  "snapshot.watermark",
			Usage: "Gate pruning on snapshot persistence",
		},
		cli.BoolFlag{
			Name:  "archive",
			Usage: "Mirror sealed epochs into the blob archive",
		},
		cli.BoolTFlag{
			Name:  "archive.watermark",
			Usage: "Gate pruning on archive persistence",
		},
		cli.BoolFlag{
			Name:  "dbcheckpoint",
			Usage: "Write periodic database restore points",
		},
		cli.Uint64Flag{
			Name:  "dbcheckpoint.period",
			Usage: "Number of epochs between restore points",
			Value: 16,
		},
		cli.BoolTFlag{
			Name:  "dbcheckpoint.compact",
			Usage: "Compact restore point databases after copying",
		},
	}
}
