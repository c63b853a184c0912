// Package checkpointer folds executed transactions into the sequenced,
// digest-linked chain of checkpoints. Executions arrive in arbitrary order
// from the owned worker lane; the builder re-sequences them by consensus
// position and seals a checkpoint once a contiguous run is complete.
package checkpointer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/Fantom-foundation/lachesis-base/kvdb/table"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/inter"
)

// ErrDivergence means a checkpoint produced locally disagrees with the
// chain's canonical checkpoint at the same sequence number. Local execution
// is corrupt or non-deterministic; the builder halts and refuses further
// work, because continuing would bury the divergence point.
var ErrDivergence = errors.New("checkpoint divergence")

// EpochSource provides the epoch context a checkpoint is stamped with, and
// receives the seal notification that drives epoch transitions.
// *epochs.Manager implements it.
type EpochSource interface {
	Current() epochs.Context
	EndOfEpochPending() bool
	NextCommitteeHash() hash.Hash
	OnSealed(summary *inter.CheckpointSummary) error
}

// pendingTx is one executed transaction awaiting inclusion.
type pendingTx struct {
	Seq      uint64
	Time     inter.Timestamp
	Digest   hash.Hash
	FxDigest hash.Hash
}

// headRec is the durable builder position: the last sealed checkpoint and
// the last consensus position it covered.
type headRec struct {
	Seq          inter.CheckpointSeq
	Digest       hash.Hash
	ConsensusSeq uint64
}

var headKey = []byte("h")

// Builder accumulates executed transactions and seals checkpoints. All
// sealed data is durable before OnSealed fires, so a crash never loses a
// sealed checkpoint.
type Builder struct {
	es EpochSource

	tab struct {
		// Summaries: big-endian checkpoint seq -> rlp(CheckpointSummary).
		Summaries kvdb.Store
		// Contents: big-endian checkpoint seq -> rlp(CheckpointContents).
		Contents kvdb.Store
		// Meta: builder head.
		Meta kvdb.Store
	}

	mu      sync.Mutex
	pending []pendingTx
	seen    map[hash.Hash]bool
	halted  error

	log *logrus.Entry
}

// NewBuilder opens the checkpoint builder over the given database.
func NewBuilder(db kvdb.Store, es EpochSource) *Builder {
	b := &Builder{
		es:   es,
		seen: make(map[hash.Hash]bool),
		log:  logrus.WithField("module", "checkpointer"),
	}
	b.tab.Summaries = table.New(db, []byte("s"))
	b.tab.Contents = table.New(db, []byte("c"))
	b.tab.Meta = table.New(db, []byte("m"))
	return b
}

// Push accepts an executed transaction. Replays of already-sealed or
// already-pending transactions are ignored. Implements executor.Sink.
func (b *Builder) Push(tx *inter.CertifiedTransaction, fx *inter.TransactionEffects) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halted != nil {
		return b.halted
	}

	head, err := b.head()
	if err != nil {
		return err
	}
	if head != nil && fx.ConsensusSeq <= head.ConsensusSeq {
		return nil
	}
	if b.seen[fx.TxDigest] {
		return nil
	}

	entry := pendingTx{
		Seq:      fx.ConsensusSeq,
		Time:     tx.Time,
		Digest:   fx.TxDigest,
		FxDigest: fx.Digest(),
	}
	i := sort.Search(len(b.pending), func(i int) bool {
		return b.pending[i].Seq >= entry.Seq
	})
	b.pending = append(b.pending, pendingTx{})
	copy(b.pending[i+1:], b.pending[i:])
	b.pending[i] = entry
	b.seen[fx.TxDigest] = true

	return b.sealReady(head)
}

// sealReady seals as many checkpoints as the contiguous pending prefix
// allows. Caller holds the lock.
func (b *Builder) sealReady(head *headRec) error {
	maxTxs := int(b.es.Current().Rules.Checkpoints.MaxCheckpointTxs)
	if maxTxs < 1 {
		maxTxs = 1
	}
	for {
		n := b.contiguous(head)
		if n == 0 {
			return nil
		}
		endOfEpoch := b.es.EndOfEpochPending() && n == len(b.pending)
		switch {
		case n >= maxTxs:
			var err error
			head, err = b.seal(head, maxTxs, endOfEpoch && n == maxTxs)
			if err != nil {
				return err
			}
		case endOfEpoch:
			var err error
			head, err = b.seal(head, n, true)
			if err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// SealRound closes the current checkpoint at a consensus round boundary.
// The consensus collaborator calls it when a round commits, so round-aligned
// checkpoints seal before MaxCheckpointTxs fills. A boundary with no
// complete pending prefix is a no-op.
func (b *Builder) SealRound() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halted != nil {
		return b.halted
	}

	head, err := b.head()
	if err != nil {
		return err
	}
	maxTxs := int(b.es.Current().Rules.Checkpoints.MaxCheckpointTxs)
	if maxTxs < 1 {
		maxTxs = 1
	}
	for {
		n := b.contiguous(head)
		if n == 0 {
			return nil
		}
		cut := n
		if cut > maxTxs {
			cut = maxTxs
		}
		endOfEpoch := b.es.EndOfEpochPending() && cut == len(b.pending)
		head, err = b.seal(head, cut, endOfEpoch)
		if err != nil {
			return err
		}
		if cut == n {
			return nil
		}
	}
}

// contiguous returns the length of the gap-free pending prefix starting
// right after the head's consensus position. Consensus positions start
// at 1.
func (b *Builder) contiguous(head *headRec) int {
	if len(b.pending) == 0 {
		return 0
	}
	base := uint64(1)
	if head != nil {
		base = head.ConsensusSeq + 1
	}
	if b.pending[0].Seq != base {
		return 0
	}
	n := 1
	for n < len(b.pending) && b.pending[n].Seq == b.pending[n-1].Seq+1 {
		n++
	}
	return n
}

// seal writes the checkpoint covering the first n pending transactions.
// Contents and summary hit the database before the head moves, so a crash
// mid-seal is repaired by resealing the same transactions identically.
func (b *Builder) seal(head *headRec, n int, endOfEpoch bool) (*headRec, error) {
	cut := b.pending[:n]
	contents := &inter.CheckpointContents{
		Digests:        make([]hash.Hash, n),
		EffectsDigests: make([]hash.Hash, n),
	}
	for i, p := range cut {
		contents.Digests[i] = p.Digest
		contents.EffectsDigests[i] = p.FxDigest
	}

	cur := b.es.Current()
	var seq inter.CheckpointSeq
	prev := hash.Zero
	if head != nil {
		seq = head.Seq + 1
		prev = head.Digest
	} else {
		seq = cur.FirstCheckpoint
	}

	// the timestamp is the consensus timestamp of the last included
	// transaction, so every validator seals a byte-identical summary
	summary := &inter.CheckpointSummary{
		Epoch:          cur.Epoch,
		Seq:            seq,
		ContentDigest:  contents.ContentDigest(),
		PreviousDigest: prev,
		TxCount:        uint32(n),
		Time:           cut[n-1].Time,
		EndOfEpoch:     endOfEpoch,
	}
	if endOfEpoch {
		summary.NextCommitteeHash = b.es.NextCommitteeHash()
	}

	if err := b.putContents(seq, contents); err != nil {
		return nil, err
	}
	if err := b.putSummary(summary); err != nil {
		return nil, err
	}
	newHead := &headRec{
		Seq:          seq,
		Digest:       summary.Digest(),
		ConsensusSeq: cut[n-1].Seq,
	}
	if err := b.putHead(newHead); err != nil {
		return nil, err
	}

	for _, p := range cut {
		delete(b.seen, p.Digest)
	}
	b.pending = b.pending[n:]

	b.log.WithFields(logrus.Fields{
		"seq":        seq,
		"epoch":      summary.Epoch,
		"txs":        n,
		"endOfEpoch": endOfEpoch,
	}).Info("Checkpoint sealed")

	if err := b.es.OnSealed(summary); err != nil {
		return nil, err
	}
	return newHead, nil
}

// Verify compares a canonical summary against the locally built one at the
// same sequence. A mismatch is fatal: the builder halts permanently.
func (b *Builder) Verify(canonical *inter.CheckpointSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halted != nil {
		return b.halted
	}

	local, err := b.summary(canonical.Seq)
	if err != nil {
		return err
	}
	if local == nil {
		return nil
	}
	if local.Digest() != canonical.Digest() {
		b.halted = fmt.Errorf("%w: checkpoint %d local %s canonical %s",
			ErrDivergence, canonical.Seq, local.Digest().String(), canonical.Digest().String())
		b.log.WithFields(logrus.Fields{
			"seq":       canonical.Seq,
			"local":     local.Digest().String(),
			"canonical": canonical.Digest().String(),
		}).Error("Checkpoint divergence, halting")
		return b.halted
	}
	return nil
}

// Halted returns the divergence error if the builder has halted.
func (b *Builder) Halted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// NextConsensusSeq returns the first consensus position not covered by a
// sealed checkpoint. The executor replays its log from here on recovery.
func (b *Builder) NextConsensusSeq() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	head, err := b.head()
	if err != nil {
		return 0, err
	}
	if head == nil {
		return 1, nil
	}
	return head.ConsensusSeq + 1, nil
}

// LastSealed returns the summary of the newest sealed checkpoint, or nil.
func (b *Builder) LastSealed() (*inter.CheckpointSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	head, err := b.head()
	if err != nil || head == nil {
		return nil, err
	}
	return b.summary(head.Seq)
}

// Summary returns a sealed checkpoint summary, or nil.
func (b *Builder) Summary(seq inter.CheckpointSeq) (*inter.CheckpointSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary(seq)
}

// Contents returns the transaction list of a sealed checkpoint, or nil.
func (b *Builder) Contents(seq inter.CheckpointSeq) (*inter.CheckpointContents, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.tab.Contents.Get(seq.Bytes())
	if err != nil {
		return nil, fmt.Errorf("checkpointer: get contents: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	cc := &inter.CheckpointContents{}
	if err := rlp.DecodeBytes(buf, cc); err != nil {
		return nil, fmt.Errorf("checkpointer: decode contents: %w", err)
	}
	return cc, nil
}

// DeleteCheckpoint removes a sealed checkpoint's summary and contents.
// Used by the pruner for checkpoints below the retention watermark.
func (b *Builder) DeleteCheckpoint(seq inter.CheckpointSeq) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.tab.Contents.Delete(seq.Bytes()); err != nil {
		return fmt.Errorf("checkpointer: delete contents: %w", err)
	}
	if err := b.tab.Summaries.Delete(seq.Bytes()); err != nil {
		return fmt.Errorf("checkpointer: delete summary: %w", err)
	}
	return nil
}

func (b *Builder) summary(seq inter.CheckpointSeq) (*inter.CheckpointSummary, error) {
	buf, err := b.tab.Summaries.Get(seq.Bytes())
	if err != nil {
		return nil, fmt.Errorf("checkpointer: get summary: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	cs := &inter.CheckpointSummary{}
	if err := rlp.DecodeBytes(buf, cs); err != nil {
		return nil, fmt.Errorf("checkpointer: decode summary: %w", err)
	}
	return cs, nil
}

func (b *Builder) putSummary(cs *inter.CheckpointSummary) error {
	buf, err := rlp.EncodeToBytes(cs)
	if err != nil {
		return fmt.Errorf("checkpointer: encode summary: %w", err)
	}
	if err := b.tab.Summaries.Put(cs.Seq.Bytes(), buf); err != nil {
		return fmt.Errorf("checkpointer: put summary: %w", err)
	}
	return nil
}

func (b *Builder) putContents(seq inter.CheckpointSeq, cc *inter.CheckpointContents) error {
	buf, err := rlp.EncodeToBytes(cc)
	if err != nil {
		return fmt.Errorf("checkpointer: encode contents: %w", err)
	}
	if err := b.tab.Contents.Put(seq.Bytes(), buf); err != nil {
		return fmt.Errorf("checkpointer: put contents: %w", err)
	}
	return nil
}

func (b *Builder) head() (*headRec, error) {
	buf, err := b.tab.Meta.Get(headKey)
	if err != nil {
		return nil, fmt.Errorf("checkpointer: get head: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	rec := &headRec{}
	if err := rlp.DecodeBytes(buf, rec); err != nil {
		return nil, fmt.Errorf("checkpointer: decode head: %w", err)
	}
	return rec, nil
}

func (b *Builder) putHead(rec *headRec) error {
	buf, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("checkpointer: encode head: %w", err)
	}
	if err := b.tab.Meta.Put(headKey, buf); err != nil {
		return fmt.Errorf("checkpointer: put head: %w", err)
	}
	return nil
}
