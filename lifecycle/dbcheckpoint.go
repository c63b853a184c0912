package lifecycle

import (
	"context"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/objstore"
)

// DBCheckpointer takes local restore points of the object store: a
// consistent point-in-time copy of the whole database into a fresh one, for
// fast crash recovery without replaying from genesis.
type DBCheckpointer struct {
	cfg     DBCheckpointConfig
	store   *objstore.Store
	openDB  func(name string) (kvdb.Store, error)
	tracker *JobTracker

	log *logrus.Entry
}

// NewDBCheckpointer wires the checkpointer. openDB creates the destination
// database for a restore point by name.
func NewDBCheckpointer(cfg DBCheckpointConfig, store *objstore.Store, tracker *JobTracker, openDB func(name string) (kvdb.Store, error)) *DBCheckpointer {
	return &DBCheckpointer{
		cfg:     cfg,
		store:   store,
		openDB:  openDB,
		tracker: tracker,
		log:     logrus.WithField("module", "dbcheckpoint"),
	}
}

// Run copies the store into a restore-point database labeled with the
// epoch. The epoch stays pinned against pruning for the duration.
func (c *DBCheckpointer) Run(ctx context.Context, epoch idx.Epoch) error {
	release := c.tracker.Begin(epoch)
	defer release()

	name := fmt.Sprintf("restore-epoch-%08d", epoch)
	db, err := c.openDB(name)
	if err != nil {
		return fmt.Errorf("dbcheckpoint: open %s: %w", name, err)
	}
	defer db.Close()

	if err := c.store.CopyTo(db, c.cfg.MaxBatchValues); err != nil {
		return err
	}
	if c.cfg.Compact {
		if err := c.store.Compact(); err != nil {
			return fmt.Errorf("dbcheckpoint: compact: %w", err)
		}
	}
	c.log.WithField("epoch", epoch).Info("Database restore point taken")
	return nil
}
