package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/backend"
	"github.com/veridian-network/go-veridian/checkpointer"
	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/objstore"
	"github.com/veridian-network/go-veridian/utils/cser"
)

// Archiver mirrors sealed epochs into the append-only archive: one segment
// blob per checkpoint carrying the summary, the certified transactions and
// their effects. Segments are immutable; an existing segment is never
// rewritten.
type Archiver struct {
	cfg     ArchiveConfig
	store   *objstore.Store
	cps     *checkpointer.Builder
	em      *epochs.Manager
	blobs   backend.Store
	tracker *JobTracker
	meta    kvdb.Store

	log *logrus.Entry
}

var archiveEpochKey = []byte("a")

// NewArchiver wires the archiver. meta persists the newest archived epoch,
// which gates pruning.
func NewArchiver(cfg ArchiveConfig, meta kvdb.Store, store *objstore.Store, cps *checkpointer.Builder, em *epochs.Manager, blobs backend.Store, tracker *JobTracker) *Archiver {
	return &Archiver{
		cfg:     cfg,
		store:   store,
		cps:     cps,
		em:      em,
		blobs:   blobs,
		tracker: tracker,
		meta:    meta,
		log:     logrus.WithField("module", "archive"),
	}
}

func archiveManifestName(epoch idx.Epoch) string {
	return fmt.Sprintf("archive/epoch-%08d/manifest", epoch)
}

func archiveSegmentName(epoch idx.Epoch, seq inter.CheckpointSeq) string {
	return fmt.Sprintf("archive/epoch-%08d/checkpoint-%012d", epoch, seq)
}

// archiveSegment is the unit of archive storage: one checkpoint with its
// transactions.
type archiveSegment struct {
	Summary *inter.CheckpointSummary
	Txs     []*inter.CertifiedTransaction
	Effects []*inter.TransactionEffects
}

// Run archives a sealed epoch: every checkpoint of the epoch becomes one
// segment, then the epoch manifest is written. Segments already present are
// left untouched, so an interrupted run resumes without rewriting history.
func (a *Archiver) Run(ctx context.Context, epoch idx.Epoch) error {
	if _, err := a.blobs.Get(ctx, archiveManifestName(epoch)); err == nil {
		return a.setPersisted(epoch)
	}

	rec, err := a.em.Record(epoch)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("archive: epoch %d is not sealed", epoch)
	}

	release := a.tracker.Begin(epoch)
	defer release()

	txTotal := 0
	for seq := rec.FirstCheckpoint; seq <= rec.LastCheckpoint; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := archiveSegmentName(epoch, seq)
		if _, err := a.blobs.Get(ctx, name); err == nil {
			continue
		} else if !errors.Is(err, backend.ErrNotFound) {
			return err
		}

		seg, err := a.buildSegment(seq)
		if err != nil {
			return err
		}
		data, err := encodeArchiveSegment(seg)
		if err != nil {
			return err
		}
		if err := a.blobs.Put(ctx, name, data); err != nil {
			return err
		}
		txTotal += len(seg.Txs)
	}

	manifest, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("archive: encode manifest: %w", err)
	}
	if err := a.blobs.Put(ctx, archiveManifestName(epoch), manifest); err != nil {
		return err
	}
	if err := a.setPersisted(epoch); err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"epoch": epoch,
		"txs":   txTotal,
	}).Info("Epoch archived")
	return nil
}

func (a *Archiver) buildSegment(seq inter.CheckpointSeq) (*archiveSegment, error) {
	summary, err := a.cps.Summary(seq)
	if err != nil {
		return nil, err
	}
	cc, err := a.cps.Contents(seq)
	if err != nil {
		return nil, err
	}
	if summary == nil || cc == nil {
		return nil, fmt.Errorf("archive: checkpoint %d is missing", seq)
	}

	seg := &archiveSegment{Summary: summary}
	for _, digest := range cc.Digests {
		tx, err := a.store.GetTransaction(digest)
		if err != nil {
			return nil, err
		}
		fx, err := a.store.GetEffects(digest)
		if err != nil {
			return nil, err
		}
		if tx == nil || fx == nil {
			return nil, fmt.Errorf("archive: tx %s of checkpoint %d is missing", digest.String(), seq)
		}
		seg.Txs = append(seg.Txs, tx)
		seg.Effects = append(seg.Effects, fx)
	}
	return seg, nil
}

// Segment loads one archived checkpoint back.
func (a *Archiver) Segment(ctx context.Context, epoch idx.Epoch, seq inter.CheckpointSeq) (*archiveSegment, error) {
	data, err := a.blobs.Get(ctx, archiveSegmentName(epoch, seq))
	if err != nil {
		return nil, err
	}
	return decodeArchiveSegment(data)
}

// PersistedEpoch implements WatermarkSource.
func (a *Archiver) PersistedEpoch() (idx.Epoch, bool, error) {
	buf, err := a.meta.Get(archiveEpochKey)
	if err != nil {
		return 0, false, fmt.Errorf("archive: get meta: %w", err)
	}
	if buf == nil {
		return 0, false, nil
	}
	return idx.BytesToEpoch(buf), true, nil
}

func (a *Archiver) setPersisted(epoch idx.Epoch) error {
	cur, ok, err := a.PersistedEpoch()
	if err != nil {
		return err
	}
	if ok && cur >= epoch {
		return nil
	}
	if err := a.meta.Put(archiveEpochKey, epoch.Bytes()); err != nil {
		return fmt.Errorf("archive: put meta: %w", err)
	}
	return nil
}

// Segments are a cser container: the summary is kept in its rlp form, the
// transactions and effects use their own cser codecs.
func encodeArchiveSegment(seg *archiveSegment) ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		sum, err := rlp.EncodeToBytes(seg.Summary)
		if err != nil {
			return err
		}
		w.SliceBytes(sum)
		w.U32(uint32(len(seg.Txs)))
		for i := range seg.Txs {
			if err := inter.TransactionMarshalCSER(w, seg.Txs[i]); err != nil {
				return err
			}
			if err := inter.EffectsMarshalCSER(w, seg.Effects[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeArchiveSegment(raw []byte) (seg *archiveSegment, err error) {
	err = cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		seg = &archiveSegment{Summary: &inter.CheckpointSummary{}}
		if err := rlp.DecodeBytes(r.SliceBytes(cser.MaxAlloc), seg.Summary); err != nil {
			return err
		}
		count := r.U32()
		for i := uint32(0); i < count; i++ {
			tx, err := inter.TransactionUnmarshalCSER(r)
			if err != nil {
				return err
			}
			fx, err := inter.EffectsUnmarshalCSER(r)
			if err != nil {
				return err
			}
			seg.Txs = append(seg.Txs, tx)
			seg.Effects = append(seg.Effects, fx)
		}
		return nil
	})
	return
}
