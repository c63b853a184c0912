// Package locktable tracks the next-expected version of owned objects and
// the deterministic version assignments of shared objects. It is the
// equivocation guard of the execution pipeline: two transactions naming the
// same owned object version can never both commit.
//
// The table is persisted so a crashed coordinator's reservations can be
// reclaimed by a new one from durable state alone, and is additionally
// rebuildable against the object store's head versions.
package locktable

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/Fantom-foundation/lachesis-base/kvdb/table"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/objstore"
)

var (
	// ErrVersionMismatch means the reserved version is not the object's
	// current version. This is an expected concurrency outcome (a stale or
	// equivocating transaction), resolved by a deterministic abort.
	ErrVersionMismatch = errors.New("input version mismatch")
	// ErrAlreadyReserved means another in-flight transaction holds the
	// lock. Also an expected outcome, also resolved by an abort.
	ErrAlreadyReserved = errors.New("object already reserved")
	// ErrStaleSequence means a shared-object assignment arrived out of
	// consensus order. That is a protocol violation by the caller.
	ErrStaleSequence = errors.New("shared assignment out of consensus order")
)

// Table is the persistent lock table.
type Table struct {
	store *objstore.Store

	tab struct {
		// Owned: object ID -> rlp(ownedLock).
		Owned kvdb.Store
		// SharedNext: object ID -> rlp(sharedState).
		SharedNext kvdb.Store
		// Assignments: tx digest + object ID -> big-endian assigned version.
		Assignments kvdb.Store
	}

	mu  sync.Mutex
	log *logrus.Entry
}

// ownedLock records an in-flight exclusive reservation.
type ownedLock struct {
	Holder   hash.Hash
	Expected inter.Version
}

// sharedState tracks deterministic shared version assignment for one
// object.
type sharedState struct {
	// Next is the head version the next assignment will read.
	Next inter.Version
	// LastSeq is the consensus position of the last assignment, kept to
	// reject out-of-order shared access.
	LastSeq uint64
}

// New opens the lock table over the given database. The object store is
// consulted for head versions during reservation and recovery.
func New(db kvdb.Store, store *objstore.Store) *Table {
	t := &Table{
		store: store,
		log:   logrus.WithField("module", "locktable"),
	}
	t.tab.Owned = table.New(db, []byte("O"))
	t.tab.SharedNext = table.New(db, []byte("S"))
	t.tab.Assignments = table.New(db, []byte("A"))
	return t
}

// ReserveOwned takes the exclusive lock on an owned object at the expected
// version. It fails with ErrVersionMismatch if the object's current version
// differs and with ErrAlreadyReserved if another transaction holds the
// lock. Re-reserving by the same holder is a no-op, so a recovering
// coordinator can safely repeat its steps.
func (t *Table) ReserveOwned(holder hash.Hash, id inter.ObjectID, expected inter.Version) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, deleted, ok, err := t.store.GetLatestVersion(id)
	if err != nil {
		return err
	}
	if !ok || deleted || cur != expected {
		return fmt.Errorf("%w: object %s at v%d", ErrVersionMismatch, id.String(), expected)
	}

	lock, err := t.getOwned(id)
	if err != nil {
		return err
	}
	if lock != nil {
		if lock.Holder == holder {
			return nil
		}
		return fmt.Errorf("%w: object %s held by %s", ErrAlreadyReserved, id.String(), lock.Holder.String())
	}
	return t.putOwned(id, ownedLock{Holder: holder, Expected: expected})
}

// AssignShared deterministically assigns the version a shared-object input
// will execute against. Calls must arrive in consensus order; the
// assignment is persisted before it is returned, so a replay after a crash
// reuses the stored value instead of computing a new one.
func (t *Table) AssignShared(holder hash.Hash, seq uint64, id inter.ObjectID, initial inter.Version) (inter.Version, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// replay: the assignment was already made durably
	if v, ok, err := t.getAssignment(holder, id); err != nil {
		return 0, err
	} else if ok {
		return v, nil
	}

	st, err := t.getShared(id)
	if err != nil {
		return 0, err
	}
	if st == nil {
		st = &sharedState{Next: initial}
	}
	if st.Next < initial {
		st.Next = initial
	}
	if st.LastSeq > seq {
		return 0, fmt.Errorf("%w: object %s seq %d after %d", ErrStaleSequence, id.String(), seq, st.LastSeq)
	}

	assigned := st.Next
	if err := t.putAssignment(holder, id, assigned); err != nil {
		return 0, err
	}
	st.LastSeq = seq
	if err := t.putShared(id, *st); err != nil {
		return 0, err
	}
	return assigned, nil
}

// BumpShared records that a mutation of the shared object committed at
// head. The next assignment will read that head version.
func (t *Table) BumpShared(id inter.ObjectID, head inter.Version) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.getShared(id)
	if err != nil {
		return err
	}
	if st == nil {
		st = &sharedState{}
	}
	if st.Next < head {
		st.Next = head
	}
	return t.putShared(id, *st)
}

// Release drops the holder's reservations on the given objects. Called on
// commit and on abort.
func (t *Table) Release(holder hash.Hash, ids []inter.ObjectID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		lock, err := t.getOwned(id)
		if err != nil {
			return err
		}
		if lock != nil && lock.Holder == holder {
			if err := t.tab.Owned.Delete(id.Bytes()); err != nil {
				return fmt.Errorf("locktable: delete owned: %w", err)
			}
		}
		if err := t.tab.Assignments.Delete(assignmentKey(holder, id)); err != nil {
			return fmt.Errorf("locktable: delete assignment: %w", err)
		}
	}
	return nil
}

// Recover reclaims reservations abandoned by a crashed coordinator: any
// owned lock whose expected version no longer matches the store's head was
// either committed or invalidated, and is dropped. Uses only durable state.
func (t *Table) Recover() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale [][]byte
	it := t.tab.Owned.NewIterator(nil, nil)
	for it.Next() {
		lock := &ownedLock{}
		if err := rlp.DecodeBytes(it.Value(), lock); err != nil {
			it.Release()
			return fmt.Errorf("locktable: decode owned: %w", err)
		}
		id := inter.BytesToObjectID(it.Key())
		cur, deleted, ok, err := t.store.GetLatestVersion(id)
		if err != nil {
			it.Release()
			return err
		}
		if !ok || deleted || cur != lock.Expected {
			stale = append(stale, append([]byte(nil), it.Key()...))
		}
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return fmt.Errorf("locktable: iterate owned: %w", err)
	}

	for _, key := range stale {
		if err := t.tab.Owned.Delete(key); err != nil {
			return fmt.Errorf("locktable: delete owned: %w", err)
		}
	}
	if len(stale) > 0 {
		t.log.WithField("reclaimed", len(stale)).Info("Reclaimed abandoned reservations")
	}
	return nil
}

func assignmentKey(holder hash.Hash, id inter.ObjectID) []byte {
	k := make([]byte, 0, 64)
	k = append(k, holder.Bytes()...)
	k = append(k, id.Bytes()...)
	return k
}

func (t *Table) getOwned(id inter.ObjectID) (*ownedLock, error) {
	buf, err := t.tab.Owned.Get(id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("locktable: get owned: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	lock := &ownedLock{}
	if err := rlp.DecodeBytes(buf, lock); err != nil {
		return nil, fmt.Errorf("locktable: decode owned: %w", err)
	}
	return lock, nil
}

func (t *Table) putOwned(id inter.ObjectID, lock ownedLock) error {
	buf, err := rlp.EncodeToBytes(&lock)
	if err != nil {
		return fmt.Errorf("locktable: encode owned: %w", err)
	}
	if err := t.tab.Owned.Put(id.Bytes(), buf); err != nil {
		return fmt.Errorf("locktable: put owned: %w", err)
	}
	return nil
}

func (t *Table) getShared(id inter.ObjectID) (*sharedState, error) {
	buf, err := t.tab.SharedNext.Get(id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("locktable: get shared: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	st := &sharedState{}
	if err := rlp.DecodeBytes(buf, st); err != nil {
		return nil, fmt.Errorf("locktable: decode shared: %w", err)
	}
	return st, nil
}

func (t *Table) putShared(id inter.ObjectID, st sharedState) error {
	buf, err := rlp.EncodeToBytes(&st)
	if err != nil {
		return fmt.Errorf("locktable: encode shared: %w", err)
	}
	if err := t.tab.SharedNext.Put(id.Bytes(), buf); err != nil {
		return fmt.Errorf("locktable: put shared: %w", err)
	}
	return nil
}

func (t *Table) getAssignment(holder hash.Hash, id inter.ObjectID) (inter.Version, bool, error) {
	buf, err := t.tab.Assignments.Get(assignmentKey(holder, id))
	if err != nil {
		return 0, false, fmt.Errorf("locktable: get assignment: %w", err)
	}
	if buf == nil {
		return 0, false, nil
	}
	return inter.Version(bigendian.BytesToUint64(buf)), true, nil
}

func (t *Table) putAssignment(holder hash.Hash, id inter.ObjectID, v inter.Version) error {
	if err := t.tab.Assignments.Put(assignmentKey(holder, id), v.Bytes()); err != nil {
		return fmt.Errorf("locktable: put assignment: %w", err)
	}
	return nil
}
