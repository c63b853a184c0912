package epochs

import (
	"context"
	"fmt"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/Fantom-foundation/lachesis-base/kvdb/table"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/inter/epochrec"
	"github.com/veridian-network/go-veridian/veridian"
)

// Manager owns the current epoch context and drives reconfiguration.
//
// Transition protocol: when the committed effects of a successful
// end-of-epoch transaction are observed, the manager freezes further
// commits and waits for the checkpoint builder to close the current
// checkpoint. That checkpoint is marked end-of-epoch; once it seals, the
// manager persists the epoch record, swaps the context to the next epoch
// and unfreezes. The epoch counter therefore advances atomically with the
// checkpoint sequence boundary.
type Manager struct {
	tab struct {
		// Records: big-endian epoch -> rlp(epochrec.Record).
		Records kvdb.Store
		// Meta: current context snapshot.
		Meta kvdb.Store
	}

	mu       sync.RWMutex
	cur      Context
	frozen   bool
	unfrozen chan struct{}
	next     *Committee

	log *logrus.Entry
}

// ctxRec is the durable snapshot of the active context.
type ctxRec struct {
	Epoch           idx.Epoch
	FirstCheckpoint inter.CheckpointSeq
	Members         []Member
	Rules           veridian.Rules
}

var ctxKey = []byte("x")

// NewManager opens the epoch manager. genesis is used only when the
// database holds no context yet.
func NewManager(db kvdb.Store, genesis Context) (*Manager, error) {
	m := &Manager{
		unfrozen: closedChan(),
		log:      logrus.WithField("module", "epochs"),
	}
	m.tab.Records = table.New(db, []byte("r"))
	m.tab.Meta = table.New(db, []byte("m"))

	buf, err := m.tab.Meta.Get(ctxKey)
	if err != nil {
		return nil, fmt.Errorf("epochs: get context: %w", err)
	}
	if buf == nil {
		m.cur = genesis.Copy()
		if err := m.persistCtx(); err != nil {
			return nil, err
		}
	} else {
		rec := &ctxRec{}
		if err := rlp.DecodeBytes(buf, rec); err != nil {
			return nil, fmt.Errorf("epochs: decode context: %w", err)
		}
		committee, err := NewCommittee(rec.Members)
		if err != nil {
			return nil, fmt.Errorf("epochs: restore committee: %w", err)
		}
		m.cur = Context{
			Epoch:           rec.Epoch,
			Committee:       committee,
			Rules:           rec.Rules,
			FirstCheckpoint: rec.FirstCheckpoint,
		}
	}
	return m, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (m *Manager) persistCtx() error {
	rec := &ctxRec{
		Epoch:           m.cur.Epoch,
		FirstCheckpoint: m.cur.FirstCheckpoint,
		Members:         m.cur.Committee.Members(),
		Rules:           m.cur.Rules,
	}
	buf, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("epochs: encode context: %w", err)
	}
	if err := m.tab.Meta.Put(ctxKey, buf); err != nil {
		return fmt.Errorf("epochs: put context: %w", err)
	}
	return nil
}

// Current returns a copy of the active epoch context.
func (m *Manager) Current() Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.Copy()
}

// CurrentEpoch returns the active epoch number.
func (m *Manager) CurrentEpoch() idx.Epoch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.Epoch
}

// Observe inspects a committed transaction. A successful end-of-epoch
// transaction freezes new commits until the closing checkpoint seals.
// Replays of the same transaction while frozen are harmless.
func (m *Manager) Observe(tx *inter.CertifiedTransaction, fx *inter.TransactionEffects) error {
	if tx.Kind != inter.TxEndOfEpoch || !fx.Status.IsSuccess() {
		return nil
	}
	committee, err := DecodeCommittee(tx.Payload)
	if err != nil {
		return fmt.Errorf("epochs: reconfiguration payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return nil
	}
	m.frozen = true
	m.unfrozen = make(chan struct{})
	m.next = &committee
	m.log.WithFields(logrus.Fields{
		"epoch":     m.cur.Epoch,
		"committee": committee.Hash().String(),
	}).Info("End of epoch observed, freezing commits")
	return nil
}

// Frozen reports whether commits are currently gated by a pending epoch
// transition.
func (m *Manager) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// WaitUnfrozen blocks until the pending epoch transition (if any)
// completes.
func (m *Manager) WaitUnfrozen(ctx context.Context) error {
	m.mu.RLock()
	ch := m.unfrozen
	m.mu.RUnlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndOfEpochPending reports whether the next sealed checkpoint closes the
// epoch. Consulted by the checkpoint builder.
func (m *Manager) EndOfEpochPending() bool {
	return m.Frozen()
}

// NextCommitteeHash returns the hash of the incoming committee, or zero if
// no transition is pending.
func (m *Manager) NextCommitteeHash() hash.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.next == nil {
		return hash.Zero
	}
	return m.next.Hash()
}

// OnSealed completes a pending transition when the end-of-epoch checkpoint
// seals: the epoch record is persisted, the context swaps to the next
// epoch and commits unfreeze. Non-boundary checkpoints are ignored.
func (m *Manager) OnSealed(summary *inter.CheckpointSummary) error {
	if !summary.EndOfEpoch {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.frozen || m.next == nil {
		return fmt.Errorf("epochs: unexpected end-of-epoch checkpoint %d", summary.Seq)
	}

	rec := epochrec.Record{
		FirstCheckpoint:      m.cur.FirstCheckpoint,
		LastCheckpoint:       summary.Seq,
		LastCheckpointDigest: summary.Digest(),
		CommitteeHash:        m.cur.Committee.Hash(),
		RulesHash:            m.cur.Rules.Hash(),
	}
	buf, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("epochs: encode record: %w", err)
	}
	if err := m.tab.Records.Put(epochKey(m.cur.Epoch), buf); err != nil {
		return fmt.Errorf("epochs: put record: %w", err)
	}

	prev := m.cur.Epoch
	m.cur = Context{
		Epoch:           m.cur.Epoch + 1,
		Committee:       *m.next,
		Rules:           m.cur.Rules,
		FirstCheckpoint: summary.Seq + 1,
	}
	if err := m.persistCtx(); err != nil {
		return err
	}
	m.next = nil
	m.frozen = false
	close(m.unfrozen)

	m.log.WithFields(logrus.Fields{
		"epoch":           m.cur.Epoch,
		"prevEpoch":       prev,
		"firstCheckpoint": m.cur.FirstCheckpoint,
	}).Info("Epoch sealed")
	return nil
}

// Record returns the durable record of a sealed epoch, or nil.
func (m *Manager) Record(epoch idx.Epoch) (*epochrec.Record, error) {
	buf, err := m.tab.Records.Get(epochKey(epoch))
	if err != nil {
		return nil, fmt.Errorf("epochs: get record: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	rec := &epochrec.Record{}
	if err := rlp.DecodeBytes(buf, rec); err != nil {
		return nil, fmt.Errorf("epochs: decode record: %w", err)
	}
	return rec, nil
}

func epochKey(epoch idx.Epoch) []byte {
	return bigendian.Uint32ToBytes(uint32(epoch))
}
