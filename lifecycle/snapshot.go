package lifecycle

import (
	"context"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/backend"
	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/objstore"
	"github.com/veridian-network/go-veridian/utils/cser"
)

// Snapshotter publishes formal snapshots: a chunked dump of every live
// object head, written to the blob backend with a digest-carrying manifest.
// A snapshot labeled with an epoch covers all state up to and including
// that epoch, which is what lets the pruner discard the raw history behind
// it.
type Snapshotter struct {
	cfg     SnapshotConfig
	store   *objstore.Store
	blobs   backend.Store
	tracker *JobTracker
	meta    kvdb.Store

	log *logrus.Entry
}

var snapshotEpochKey = []byte("s")

// NewSnapshotter wires the snapshotter. meta persists the newest uploaded
// snapshot epoch, which gates pruning.
func NewSnapshotter(cfg SnapshotConfig, meta kvdb.Store, store *objstore.Store, blobs backend.Store, tracker *JobTracker) *Snapshotter {
	return &Snapshotter{
		cfg:     cfg,
		store:   store,
		blobs:   blobs,
		tracker: tracker,
		meta:    meta,
		log:     logrus.WithField("module", "snapshot"),
	}
}

func snapshotManifestName(epoch idx.Epoch) string {
	return fmt.Sprintf("snapshots/epoch-%08d/manifest", epoch)
}

func snapshotChunkName(epoch idx.Epoch, i int) string {
	return fmt.Sprintf("snapshots/epoch-%08d/chunk-%06d", epoch, i)
}

// snapshotManifest describes one uploaded snapshot.
type snapshotManifest struct {
	Epoch   idx.Epoch
	Objects uint64
	Chunks  []hash.Hash
}

// Run uploads a snapshot labeled with the epoch. Chunks are written before
// the manifest, so a crashed run leaves no manifest and is simply redone.
// A snapshot that already has a manifest is not rewritten.
func (s *Snapshotter) Run(ctx context.Context, epoch idx.Epoch) error {
	if _, err := s.blobs.Get(ctx, snapshotManifestName(epoch)); err == nil {
		return s.setPersisted(epoch)
	}

	release := s.tracker.Begin(epoch)
	defer release()

	manifest := &snapshotManifest{Epoch: epoch}
	chunk := make([]*inter.Object, 0, s.cfg.MaxChunkObjects)
	upload := func() error {
		if len(chunk) == 0 {
			return nil
		}
		data, err := encodeSnapshotChunk(chunk)
		if err != nil {
			return err
		}
		name := snapshotChunkName(epoch, len(manifest.Chunks))
		if err := s.blobs.Put(ctx, name, data); err != nil {
			return err
		}
		manifest.Chunks = append(manifest.Chunks, hash.Of(data))
		manifest.Objects += uint64(len(chunk))
		chunk = chunk[:0]
		return nil
	}

	var iterErr error
	err := s.store.ForEachLatest(func(obj *inter.Object) bool {
		chunk = append(chunk, obj)
		if len(chunk) >= s.cfg.MaxChunkObjects {
			if iterErr = upload(); iterErr != nil {
				return false
			}
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return err
	}
	if iterErr != nil {
		return iterErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := upload(); err != nil {
		return err
	}

	data, err := encodeSnapshotManifest(manifest)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, snapshotManifestName(epoch), data); err != nil {
		return err
	}
	if err := s.setPersisted(epoch); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"epoch":   epoch,
		"objects": manifest.Objects,
		"chunks":  len(manifest.Chunks),
	}).Info("Snapshot uploaded")
	return nil
}

// Restore loads a snapshot into the store. Chunk digests are verified
// against the manifest before anything is committed.
func (s *Snapshotter) Restore(ctx context.Context, epoch idx.Epoch, dst *objstore.Store) error {
	data, err := s.blobs.Get(ctx, snapshotManifestName(epoch))
	if err != nil {
		return err
	}
	manifest, err := decodeSnapshotManifest(data)
	if err != nil {
		return err
	}

	for i, want := range manifest.Chunks {
		raw, err := s.blobs.Get(ctx, snapshotChunkName(epoch, i))
		if err != nil {
			return err
		}
		if got := hash.Of(raw); got != want {
			return fmt.Errorf("snapshot: chunk %d of epoch %d is corrupt", i, epoch)
		}
		objs, err := decodeSnapshotChunk(raw)
		if err != nil {
			return err
		}
		if err := dst.CommitBatch(objs, nil); err != nil {
			return err
		}
	}
	return nil
}

// PersistedEpoch implements WatermarkSource.
func (s *Snapshotter) PersistedEpoch() (idx.Epoch, bool, error) {
	buf, err := s.meta.Get(snapshotEpochKey)
	if err != nil {
		return 0, false, fmt.Errorf("snapshot: get meta: %w", err)
	}
	if buf == nil {
		return 0, false, nil
	}
	return idx.BytesToEpoch(buf), true, nil
}

func (s *Snapshotter) setPersisted(epoch idx.Epoch) error {
	cur, ok, err := s.PersistedEpoch()
	if err != nil {
		return err
	}
	if ok && cur >= epoch {
		return nil
	}
	if err := s.meta.Put(snapshotEpochKey, epoch.Bytes()); err != nil {
		return fmt.Errorf("snapshot: put meta: %w", err)
	}
	return nil
}

func encodeSnapshotChunk(objs []*inter.Object) ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		w.U32(uint32(len(objs)))
		for _, o := range objs {
			w.FixedBytes(o.ID.Bytes())
			w.U64(uint64(o.Version))
			w.U8(uint8(o.Owner.Kind))
			w.FixedBytes(o.Owner.Address.Bytes())
			w.U64(uint64(o.Owner.InitialVersion))
			w.SliceBytes(o.Payload)
		}
		return nil
	})
}

func decodeSnapshotChunk(raw []byte) (objs []*inter.Object, err error) {
	err = cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		count := r.U32()
		objs = make([]*inter.Object, 0, count)
		for i := uint32(0); i < count; i++ {
			obj := &inter.Object{}
			id := make([]byte, 32)
			r.FixedBytes(id)
			obj.ID = inter.BytesToObjectID(id)
			obj.Version = inter.Version(r.U64())
			obj.Owner.Kind = inter.OwnerKind(r.U8())
			addr := make([]byte, common.AddressLength)
			r.FixedBytes(addr)
			obj.Owner.Address = common.BytesToAddress(addr)
			obj.Owner.InitialVersion = inter.Version(r.U64())
			obj.Payload = r.SliceBytes(cser.MaxAlloc)
			objs = append(objs, obj)
		}
		return nil
	})
	return
}

func encodeSnapshotManifest(m *snapshotManifest) ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		w.U32(uint32(m.Epoch))
		w.U64(m.Objects)
		w.U32(uint32(len(m.Chunks)))
		for _, h := range m.Chunks {
			w.FixedBytes(h.Bytes())
		}
		return nil
	})
}

func decodeSnapshotManifest(raw []byte) (m *snapshotManifest, err error) {
	err = cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		m = &snapshotManifest{}
		m.Epoch = idx.Epoch(r.U32())
		m.Objects = r.U64()
		count := r.U32()
		m.Chunks = make([]hash.Hash, count)
		for i := uint32(0); i < count; i++ {
			buf := make([]byte, 32)
			r.FixedBytes(buf)
			m.Chunks[i] = hash.BytesToHash(buf)
		}
		return nil
	})
	return
}
