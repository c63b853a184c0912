package lifecycle

import (
	"context"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/checkpointer"
	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/inter/epochrec"
	"github.com/veridian-network/go-veridian/objstore"
)

// WatermarkSource is a sink whose persistence gates pruning: data of an
// epoch may only be pruned once every gating source has durably persisted
// that epoch. The snapshotter and archiver implement it.
type WatermarkSource interface {
	// PersistedEpoch returns the newest epoch the sink has fully persisted.
	// ok is false if nothing has been persisted yet.
	PersistedEpoch() (epoch idx.Epoch, ok bool, err error)
}

// Pruner deletes per-epoch data below the retention watermark. The
// watermark is the conservative minimum of the retention policy, every
// gating sink and the oldest epoch pinned by an in-progress job, so a slow
// or failing sink stalls pruning rather than losing data.
type Pruner struct {
	cfg     Config
	store   *objstore.Store
	cps     *checkpointer.Builder
	em      *epochs.Manager
	tracker *JobTracker
	gating  []WatermarkSource

	meta kvdb.Store

	log *logrus.Entry
}

var prunedKey = []byte("p")

// NewPruner wires the pruner. meta persists the last-pruned epoch so a
// restarted pruner does not rescan already-empty epochs.
func NewPruner(cfg Config, meta kvdb.Store, store *objstore.Store, cps *checkpointer.Builder, em *epochs.Manager, tracker *JobTracker, gating []WatermarkSource) *Pruner {
	return &Pruner{
		cfg:     cfg,
		store:   store,
		cps:     cps,
		em:      em,
		tracker: tracker,
		gating:  gating,
		meta:    meta,
		log:     logrus.WithField("module", "pruner"),
	}
}

// Watermark returns the first epoch that must be kept. Everything strictly
// below it is prunable.
func (p *Pruner) Watermark() (idx.Epoch, error) {
	cur := p.em.CurrentEpoch()
	if cur <= p.cfg.Retention.NumEpochsToRetain {
		return 0, nil
	}
	w := cur - p.cfg.Retention.NumEpochsToRetain

	for _, src := range p.gating {
		persisted, ok, err := src.PersistedEpoch()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		if persisted+1 < w {
			w = persisted + 1
		}
	}

	if pinned, ok := p.tracker.MinPinned(); ok && pinned < w {
		w = pinned
	}
	return w, nil
}

// Run prunes every fully sealed epoch below the watermark, oldest first.
// Each epoch is removed in bounded atomic steps; an interrupted run resumes
// where it stopped.
func (p *Pruner) Run(ctx context.Context) error {
	if !p.cfg.Pruning.Enabled {
		return nil
	}
	w, err := p.Watermark()
	if err != nil {
		return err
	}

	start, err := p.lastPruned()
	if err != nil {
		return err
	}
	for e := start + 1; e < w; e++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := p.em.Record(e)
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		if err := p.pruneEpoch(ctx, e, rec); err != nil {
			return err
		}
		if err := p.setLastPruned(e); err != nil {
			return err
		}
	}

	return p.pruneCheckpoints(ctx, w)
}

// pruneEpoch removes the object versions consumed in the epoch, then its
// transactions, effects and consensus log entries.
func (p *Pruner) pruneEpoch(ctx context.Context, e idx.Epoch, rec *epochrec.Record) error {
	var (
		versions int
		txs      int
		maxSeq   uint64
	)
	for seq := rec.FirstCheckpoint; seq <= rec.LastCheckpoint; seq++ {
		cc, err := p.cps.Contents(seq)
		if err != nil {
			return err
		}
		if cc == nil {
			continue
		}

		batch := make([]hash.Hash, 0, p.cfg.Pruning.MaxTransactionsInBatch)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := p.store.DeleteTransactions(batch); err != nil {
				return err
			}
			txs += len(batch)
			batch = batch[:0]
			return nil
		}

		for _, digest := range cc.Digests {
			if err := ctx.Err(); err != nil {
				return err
			}
			fx, err := p.store.GetEffects(digest)
			if err != nil {
				return err
			}
			if fx != nil {
				if fx.ConsensusSeq > maxSeq {
					maxSeq = fx.ConsensusSeq
				}
				n, err := p.pruneEffects(fx)
				if err != nil {
					return err
				}
				versions += n
			}
			batch = append(batch, digest)
			if len(batch) >= p.cfg.Pruning.MaxTransactionsInBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}
	}

	logEntries := 0
	if maxSeq > 0 {
		for {
			n, err := p.store.DeleteLogBelow(maxSeq+1, p.cfg.Pruning.MaxLogEntriesInBatch)
			if err != nil {
				return err
			}
			logEntries += n
			if n < p.cfg.Pruning.MaxLogEntriesInBatch {
				break
			}
		}
	}

	p.log.WithFields(logrus.Fields{
		"epoch":      e,
		"versions":   versions,
		"txs":        txs,
		"logEntries": logEntries,
	}).Info("Pruned epoch")
	return nil
}

// pruneEffects drops the object versions an execution superseded. The new
// versions named by the refs stay, so heads are never pruned.
func (p *Pruner) pruneEffects(fx *inter.TransactionEffects) (int, error) {
	total := 0
	for _, ref := range fx.Mutated {
		n, err := p.store.DeleteVersionsBelow(ref.ID, ref.Version)
		if err != nil {
			return total, err
		}
		total += n
	}
	for _, ref := range fx.Deleted {
		n, err := p.store.DeleteAllVersions(ref.ID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// pruneCheckpoints removes checkpoint summaries and contents under the
// checkpoint retention policy, which is gated by the same sinks.
func (p *Pruner) pruneCheckpoints(ctx context.Context, objWatermark idx.Epoch) error {
	cur := p.em.CurrentEpoch()
	if cur <= p.cfg.Retention.NumEpochsToRetainForCheckpoints {
		return nil
	}
	w := cur - p.cfg.Retention.NumEpochsToRetainForCheckpoints
	if objWatermark < w {
		w = objWatermark
	}

	start, err := p.lastCheckpointPruned()
	if err != nil {
		return err
	}
	for e := start + 1; e < w; e++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := p.em.Record(e)
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		for seq := rec.FirstCheckpoint; seq <= rec.LastCheckpoint; seq++ {
			if err := p.cps.DeleteCheckpoint(seq); err != nil {
				return err
			}
		}
		if err := p.setLastCheckpointPruned(e); err != nil {
			return err
		}
		p.log.WithField("epoch", e).Info("Pruned checkpoints")
	}
	return nil
}

var cpPrunedKey = []byte("q")

func (p *Pruner) lastPruned() (idx.Epoch, error) {
	return p.getEpoch(prunedKey)
}

func (p *Pruner) setLastPruned(e idx.Epoch) error {
	return p.putEpoch(prunedKey, e)
}

func (p *Pruner) lastCheckpointPruned() (idx.Epoch, error) {
	return p.getEpoch(cpPrunedKey)
}

func (p *Pruner) setLastCheckpointPruned(e idx.Epoch) error {
	return p.putEpoch(cpPrunedKey, e)
}

func (p *Pruner) getEpoch(key []byte) (idx.Epoch, error) {
	buf, err := p.meta.Get(key)
	if err != nil {
		return 0, fmt.Errorf("pruner: get meta: %w", err)
	}
	if buf == nil {
		return 0, nil
	}
	return idx.BytesToEpoch(buf), nil
}

func (p *Pruner) putEpoch(key []byte, e idx.Epoch) error {
	if err := p.meta.Put(key, e.Bytes()); err != nil {
		return fmt.Errorf("pruner: put meta: %w", err)
	}
	return nil
}
