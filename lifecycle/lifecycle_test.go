package lifecycle

import (
	"context"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/Fantom-foundation/lachesis-base/kvdb/memorydb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/veridian-network/go-veridian/backend"
	"github.com/veridian-network/go-veridian/checkpointer"
	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/executor"
	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/locktable"
	"github.com/veridian-network/go-veridian/objstore"
	"github.com/veridian-network/go-veridian/veridian"
)

// mutateVM copies every input and appends a byte to its payload.
type mutateVM struct{}

func (mutateVM) Execute(tx *inter.CertifiedTransaction, inputs []*inter.Object) *executor.Result {
	res := &executor.Result{}
	for _, in := range inputs {
		obj := in.Copy()
		obj.Payload = append(obj.Payload, 0xff)
		res.Writes = append(res.Writes, obj)
	}
	return res
}

// pipeline is a minimal single-node execution stack for lifecycle tests.
type pipeline struct {
	store     *objstore.Store
	locks     *locktable.Table
	em        *epochs.Manager
	builder   *checkpointer.Builder
	co        *executor.Coordinator
	committee epochs.Committee

	seq     uint64
	obj     inter.ObjectID
	digests map[idx.Epoch][]hash.Hash
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	committee, err := epochs.NewCommittee([]epochs.Member{
		{ID: 1, Weight: 10},
		{ID: 2, Weight: 20},
	})
	require.NoError(t, err)

	rules := veridian.FakeNetRules()
	rules.Checkpoints.MaxCheckpointTxs = 100
	em, err := epochs.NewManager(memorydb.New(), epochs.Context{
		Epoch:           1,
		Committee:       committee,
		Rules:           rules,
		FirstCheckpoint: 0,
	})
	require.NoError(t, err)

	p := &pipeline{
		store:     objstore.NewStore(memorydb.New()),
		em:        em,
		committee: committee,
		digests:   make(map[idx.Epoch][]hash.Hash),
	}
	p.locks = locktable.New(memorydb.New(), p.store)
	p.builder = checkpointer.NewBuilder(memorydb.New(), em)
	p.co = executor.NewCoordinator(executor.Config{OwnedWorkers: 1}, p.store, p.locks, em, mutateVM{}, p.builder)

	obj := &inter.Object{
		ID:      inter.BytesToObjectID([]byte{1}),
		Version: 1,
		Owner:   inter.Owner{Kind: inter.OwnerAddress, Address: common.BytesToAddress([]byte{1})},
		Payload: []byte{1},
	}
	require.NoError(t, p.store.CommitBatch([]*inter.Object{obj}, nil))
	p.obj = obj.ID
	return p
}

// runEpoch executes txCount regular transactions on the test object, then
// the reconfiguration transaction, which seals the epoch's checkpoint.
func (p *pipeline) runEpoch(t *testing.T, txCount int) {
	t.Helper()
	epoch := p.em.CurrentEpoch()
	for i := 0; i < txCount; i++ {
		head, _, ok, err := p.store.GetLatestVersion(p.obj)
		require.NoError(t, err)
		require.True(t, ok)

		p.seq++
		tx := &inter.CertifiedTransaction{
			Sender:       common.BytesToAddress([]byte{byte(p.seq)}),
			Kind:         inter.TxRegular,
			Inputs:       []inter.InputRef{{ID: p.obj, Version: head, Mode: inter.InputOwned}},
			ConsensusSeq: p.seq,
			Payload:      []byte{byte(p.seq)},
		}
		require.NoError(t, p.co.Process(context.Background(), tx))
		p.co.Wait()
		p.digests[epoch] = append(p.digests[epoch], tx.Digest())
	}

	p.seq++
	eoe := &inter.CertifiedTransaction{
		Kind:         inter.TxEndOfEpoch,
		ConsensusSeq: p.seq,
		Payload:      p.committee.Encode(),
	}
	require.NoError(t, p.co.Process(context.Background(), eoe))
	p.co.Wait()
	p.digests[epoch] = append(p.digests[epoch], eoe.Digest())
	require.Equal(t, epoch+1, p.em.CurrentEpoch())
}

func testPruner(p *pipeline, cfg Config, gating []WatermarkSource) *Pruner {
	return NewPruner(cfg, memorydb.New(), p.store, p.builder, p.em, NewJobTracker(), gating)
}

func retention(objs, cps idx.Epoch) Config {
	cfg := DefaultConfig()
	cfg.Retention.NumEpochsToRetain = objs
	cfg.Retention.NumEpochsToRetainForCheckpoints = cps
	return cfg
}

func TestPrunerRemovesExpiredEpochs(t *testing.T) {
	require := require.New(t)
	p := newPipeline(t)
	for i := 0; i < 4; i++ {
		p.runEpoch(t, 3)
	}
	require.Equal(idx.Epoch(5), p.em.CurrentEpoch())

	before, err := p.store.ObjectVersions(p.obj)
	require.NoError(err)

	pruner := testPruner(p, retention(1, 2), nil)
	require.NoError(pruner.Run(context.Background()))

	// epochs 1..3 are gone: their transactions and effects are deleted
	for e := idx.Epoch(1); e <= 3; e++ {
		for _, d := range p.digests[e] {
			fx, err := p.store.GetEffects(d)
			require.NoError(err)
			require.Nil(fx, "epoch %d effects should be pruned", e)
		}
	}
	// epoch 4 is retained
	for _, d := range p.digests[4] {
		fx, err := p.store.GetEffects(d)
		require.NoError(err)
		require.NotNil(fx)
	}

	// superseded object versions are gone, the head is not
	after, err := p.store.ObjectVersions(p.obj)
	require.NoError(err)
	require.Less(len(after), len(before))
	head, err := p.store.GetLatest(p.obj)
	require.NoError(err)
	require.NotNil(head)
	require.Equal(after[len(after)-1], head.Version)

	// checkpoint retention is separate: epochs 1..2 lost their
	// checkpoints, epoch 3 kept them
	rec1, err := p.em.Record(1)
	require.NoError(err)
	cp1, err := p.builder.Summary(rec1.FirstCheckpoint)
	require.NoError(err)
	require.Nil(cp1)
	rec3, err := p.em.Record(3)
	require.NoError(err)
	cp3, err := p.builder.Summary(rec3.FirstCheckpoint)
	require.NoError(err)
	require.NotNil(cp3)

	// a second run is a no-op
	require.NoError(pruner.Run(context.Background()))
}

// stubSink is a scriptable gating watermark source.
type stubSink struct {
	epoch idx.Epoch
	ok    bool
}

func (s *stubSink) PersistedEpoch() (idx.Epoch, bool, error) {
	return s.epoch, s.ok, nil
}

func TestPrunerGatedBySinks(t *testing.T) {
	require := require.New(t)
	p := newPipeline(t)
	for i := 0; i < 4; i++ {
		p.runEpoch(t, 2)
	}

	lagging := &stubSink{epoch: 1, ok: true}
	current := &stubSink{epoch: 3, ok: true}
	pruner := testPruner(p, retention(1, 10), []WatermarkSource{current, lagging})

	// the watermark is the minimum over all gating sinks
	w, err := pruner.Watermark()
	require.NoError(err)
	require.Equal(idx.Epoch(2), w)

	require.NoError(pruner.Run(context.Background()))
	fx, err := p.store.GetEffects(p.digests[1][0])
	require.NoError(err)
	require.Nil(fx)
	fx, err = p.store.GetEffects(p.digests[2][0])
	require.NoError(err)
	require.NotNil(fx, "pruning must stall behind the lagging sink")

	// the sink catches up, pruning resumes
	lagging.epoch = 3
	require.NoError(pruner.Run(context.Background()))
	fx, err = p.store.GetEffects(p.digests[3][0])
	require.NoError(err)
	require.Nil(fx)

	// a sink that has persisted nothing blocks pruning entirely
	pruner2 := testPruner(p, retention(1, 10), []WatermarkSource{&stubSink{}})
	w, err = pruner2.Watermark()
	require.NoError(err)
	require.Equal(idx.Epoch(0), w)
}

func TestPrunerRespectsPinnedJobs(t *testing.T) {
	require := require.New(t)
	p := newPipeline(t)
	for i := 0; i < 3; i++ {
		p.runEpoch(t, 1)
	}

	tracker := NewJobTracker()
	pruner := NewPruner(retention(1, 10), memorydb.New(), p.store, p.builder, p.em, tracker, nil)

	release := tracker.Begin(1)
	require.NoError(pruner.Run(context.Background()))
	fx, err := p.store.GetEffects(p.digests[1][0])
	require.NoError(err)
	require.NotNil(fx, "pinned epoch must not be pruned")

	release()
	release() // double release is safe
	require.NoError(pruner.Run(context.Background()))
	fx, err = p.store.GetEffects(p.digests[1][0])
	require.NoError(err)
	require.Nil(fx)
}

func TestSnapshotRoundTrip(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPipeline(t)
	p.runEpoch(t, 3)
	p.runEpoch(t, 3)

	blobs, err := backend.OpenFilesystem(t.TempDir())
	require.NoError(err)
	cfg := DefaultConfig().Snapshot
	cfg.MaxChunkObjects = 2
	snap := NewSnapshotter(cfg, memorydb.New(), p.store, blobs, NewJobTracker())

	_, ok, err := snap.PersistedEpoch()
	require.NoError(err)
	require.False(ok)

	require.NoError(snap.Run(ctx, 2))
	e, ok, err := snap.PersistedEpoch()
	require.NoError(err)
	require.True(ok)
	require.Equal(idx.Epoch(2), e)

	// rerunning does not rewrite the snapshot
	require.NoError(snap.Run(ctx, 2))

	// restore into a fresh store reproduces the live state
	restored := objstore.NewStore(memorydb.New())
	require.NoError(snap.Restore(ctx, 2, restored))

	want, err := p.store.GetLatest(p.obj)
	require.NoError(err)
	got, err := restored.GetLatest(p.obj)
	require.NoError(err)
	require.Equal(want.Digest(), got.Digest())
}

func TestArchiveEpoch(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPipeline(t)
	p.runEpoch(t, 3)

	blobs, err := backend.OpenFilesystem(t.TempDir())
	require.NoError(err)
	arch := NewArchiver(DefaultConfig().Archive, memorydb.New(), p.store, p.builder, p.em, blobs, NewJobTracker())

	// an unsealed epoch cannot be archived
	require.Error(arch.Run(ctx, 5))

	require.NoError(arch.Run(ctx, 1))
	e, ok, err := arch.PersistedEpoch()
	require.NoError(err)
	require.True(ok)
	require.Equal(idx.Epoch(1), e)

	// segments round trip with consensus positions intact
	rec, err := p.em.Record(1)
	require.NoError(err)
	seg, err := arch.Segment(ctx, 1, rec.FirstCheckpoint)
	require.NoError(err)
	require.Len(seg.Txs, 4)
	want, err := p.builder.Summary(rec.FirstCheckpoint)
	require.NoError(err)
	require.Equal(want.Digest(), seg.Summary.Digest())
	for i, tx := range seg.Txs {
		require.Equal(tx.Digest(), seg.Effects[i].TxDigest)
		require.Equal(tx.ConsensusSeq, seg.Effects[i].ConsensusSeq)
	}

	// archiving again is a no-op, segments are never rewritten
	require.NoError(arch.Run(ctx, 1))
}

func TestManagerSweep(t *testing.T) {
	require := require.New(t)
	p := newPipeline(t)
	for i := 0; i < 3; i++ {
		p.runEpoch(t, 2)
	}

	blobs, err := backend.OpenFilesystem(t.TempDir())
	require.NoError(err)
	cfg := retention(1, 10)
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.Period = 1
	cfg.Archive.Enabled = true

	openDB := func(name string) (kvdb.Store, error) { return memorydb.New(), nil }
	m := New(cfg, memorydb.New(), p.store, p.builder, p.em, blobs, openDB)
	require.NoError(m.Sweep(context.Background()))

	// all sealed epochs reached the sinks
	e, ok, err := m.Archiver.PersistedEpoch()
	require.NoError(err)
	require.True(ok)
	require.Equal(idx.Epoch(3), e)
	e, ok, err = m.Snapshotter.PersistedEpoch()
	require.NoError(err)
	require.True(ok)
	require.Equal(idx.Epoch(3), e)

	// pruning followed: epochs below both the policy and the sinks are gone
	fx, err := p.store.GetEffects(p.digests[1][0])
	require.NoError(err)
	require.Nil(fx)
	fx, err = p.store.GetEffects(p.digests[3][0])
	require.NoError(err)
	require.NotNil(fx)
}
