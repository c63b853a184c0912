package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/Fantom-foundation/lachesis-base/kvdb/table"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/backend"
	"github.com/veridian-network/go-veridian/checkpointer"
	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/objstore"
)

// Manager runs the lifecycle jobs in the background: after each sealed
// epoch it triggers the enabled sinks (snapshot, archive, restore point),
// then prunes whatever the watermark allows. Every job is idempotent, so
// the manager can replay them after a restart without bookkeeping.
type Manager struct {
	cfg Config
	em  *epochs.Manager

	Tracker        *JobTracker
	Pruner         *Pruner
	DBCheckpointer *DBCheckpointer
	Snapshotter    *Snapshotter
	Archiver       *Archiver

	handled idx.Epoch

	quit chan struct{}
	wg   sync.WaitGroup
	log  *logrus.Entry
}

// New wires the lifecycle manager. db holds the lifecycle's own metadata;
// openDB creates restore-point databases; blobs may be nil when neither
// snapshots nor the archive are enabled.
func New(cfg Config, db kvdb.Store, store *objstore.Store, cps *checkpointer.Builder, em *epochs.Manager, blobs backend.Store, openDB func(name string) (kvdb.Store, error)) *Manager {
	m := &Manager{
		cfg:     cfg,
		em:      em,
		Tracker: NewJobTracker(),
		quit:    make(chan struct{}),
		log:     logrus.WithField("module", "lifecycle"),
	}
	m.Snapshotter = NewSnapshotter(cfg.Snapshot, table.New(db, []byte("s")), store, blobs, m.Tracker)
	m.Archiver = NewArchiver(cfg.Archive, table.New(db, []byte("a")), store, cps, em, blobs, m.Tracker)
	m.DBCheckpointer = NewDBCheckpointer(cfg.DBCheckpoint, store, m.Tracker, openDB)

	var gating []WatermarkSource
	if cfg.Snapshot.Enabled && cfg.Snapshot.UseForPruningWatermark {
		gating = append(gating, m.Snapshotter)
	}
	if cfg.Archive.Enabled && cfg.Archive.UseForPruningWatermark {
		gating = append(gating, m.Archiver)
	}
	m.Pruner = NewPruner(cfg, table.New(db, []byte("p")), store, cps, em, m.Tracker, gating)
	return m
}

// Start launches the background sweep loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-m.quit
			cancel()
		}()

		delay := m.cfg.Pruning.RunDelay
		if delay <= 0 {
			delay = 30 * time.Second
		}
		ticker := time.NewTicker(delay)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
					m.log.WithError(err).Warn("Lifecycle sweep failed")
				}
			case <-m.quit:
				return
			}
		}
	}()
}

// Stop terminates the background loop and waits for it.
func (m *Manager) Stop() {
	close(m.quit)
	m.wg.Wait()
}

// Sweep handles every newly sealed epoch, then prunes. A job failure stops
// the sweep; the next sweep retries from the same epoch.
func (m *Manager) Sweep(ctx context.Context) error {
	cur := m.em.CurrentEpoch()
	for e := m.handled + 1; e < cur; e++ {
		rec, err := m.em.Record(e)
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		if err := m.handleSealed(ctx, e); err != nil {
			return err
		}
		m.handled = e
	}
	return m.Pruner.Run(ctx)
}

func (m *Manager) handleSealed(ctx context.Context, e idx.Epoch) error {
	if m.cfg.Snapshot.Enabled && m.cfg.Snapshot.Period > 0 && e%m.cfg.Snapshot.Period == 0 {
		if err := m.Snapshotter.Run(ctx, e); err != nil {
			return err
		}
	}
	if m.cfg.Archive.Enabled {
		if err := m.Archiver.Run(ctx, e); err != nil {
			return err
		}
	}
	if m.cfg.DBCheckpoint.Enabled && m.cfg.DBCheckpoint.Period > 0 && e%m.cfg.DBCheckpoint.Period == 0 {
		if err := m.DBCheckpointer.Run(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
