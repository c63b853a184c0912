// Package objstore implements the authority object store: a versioned
// key-value store mapping object IDs to immutable version sequences, plus
// the durable transaction records (certified bodies, consensus log,
// effects) the execution pipeline needs for crash recovery.
//
// All mutation goes through commit methods that stage writes on a flushable
// overlay and flush them as a single underlying batch, so a crash between
// individual writes never leaves partial transaction effects visible.
package objstore

import (
	"fmt"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/Fantom-foundation/lachesis-base/kvdb/flushable"
	"github.com/Fantom-foundation/lachesis-base/kvdb/table"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/inter"
)

// Store is the authority object store. Reads are served under a read lock;
// commits take the write lock, so a reader observes either none or all of a
// batch (snapshot isolation at batch granularity).
type Store struct {
	mainDB *flushable.Flushable

	table struct {
		// Objects: object ID + big-endian version -> rlp(Object).
		Objects kvdb.Store
		// Latest: object ID -> rlp(latestRec). Tombstones live here so a
		// deleted object is distinguishable from one that never existed.
		Latest kvdb.Store
		// Txs: tx digest -> rlp(txRec).
		Txs kvdb.Store
		// Effects: tx digest -> rlp(TransactionEffects).
		Effects kvdb.Store
		// ConsensusLog: big-endian consensus seq -> tx digest.
		ConsensusLog kvdb.Store
		// Meta: misc watermarks (last logged consensus seq).
		Meta kvdb.Store
	}

	mu  sync.RWMutex
	log *logrus.Entry
}

// latestRec is the per-object head record.
type latestRec struct {
	Version inter.Version
	Deleted bool
}

// txRec persists a certified transaction with its consensus position and
// consensus timestamp, which the tx's own encoding omits.
type txRec struct {
	Seq  uint64
	Time inter.Timestamp
	Tx   *inter.CertifiedTransaction
}

var lastLoggedKey = []byte("g")

// NewStore opens the object store over the given database.
func NewStore(db kvdb.Store) *Store {
	s := &Store{
		mainDB: flushable.Wrap(db),
		log:    logrus.WithField("module", "objstore"),
	}
	s.table.Objects = table.New(s.mainDB, []byte("o"))
	s.table.Latest = table.New(s.mainDB, []byte("l"))
	s.table.Txs = table.New(s.mainDB, []byte("t"))
	s.table.Effects = table.New(s.mainDB, []byte("e"))
	s.table.ConsensusLog = table.New(s.mainDB, []byte("c"))
	s.table.Meta = table.New(s.mainDB, []byte("m"))
	return s
}

// Close flushes nothing and releases the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mainDB.Close()
}

func objectKey(id inter.ObjectID, v inter.Version) []byte {
	k := make([]byte, 0, 40)
	k = append(k, id.Bytes()...)
	k = append(k, v.Bytes()...)
	return k
}

// GetObject returns the exact object version, or nil if it is absent
// (never written, deleted, or pruned).
func (s *Store) GetObject(id inter.ObjectID, v inter.Version) (*inter.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getObject(id, v)
}

func (s *Store) getObject(id inter.ObjectID, v inter.Version) (*inter.Object, error) {
	buf, err := s.table.Objects.Get(objectKey(id, v))
	if err != nil {
		return nil, fmt.Errorf("objstore: get object: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	obj := &inter.Object{}
	if err := rlp.DecodeBytes(buf, obj); err != nil {
		return nil, fmt.Errorf("objstore: decode object: %w", err)
	}
	return obj, nil
}

// GetLatest returns the live head version of the object, or nil if the
// object does not exist or is deleted.
func (s *Store) GetLatest(id inter.ObjectID) (*inter.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.getLatestRec(id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, nil
	}
	return s.getObject(id, rec.Version)
}

// GetLatestVersion returns the head version number of the object and
// whether that head is a deletion tombstone. ok is false if the object was
// never committed.
func (s *Store) GetLatestVersion(id inter.ObjectID) (v inter.Version, deleted bool, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.getLatestRec(id)
	if err != nil || rec == nil {
		return 0, false, false, err
	}
	return rec.Version, rec.Deleted, true, nil
}

func (s *Store) getLatestRec(id inter.ObjectID) (*latestRec, error) {
	buf, err := s.table.Latest.Get(id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("objstore: get latest: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	rec := &latestRec{}
	if err := rlp.DecodeBytes(buf, rec); err != nil {
		return nil, fmt.Errorf("objstore: decode latest: %w", err)
	}
	return rec, nil
}

// CommitBatch atomically applies a set of object writes and deletions.
// It fails with ErrConflict if any target (ID, version) already exists,
// which makes committed batches safe to replay. On an I/O error nothing is
// applied and the whole batch must be retried.
func (s *Store) CommitBatch(writes []*inter.Object, deletes []inter.Deletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stageBatch(writes, deletes); err != nil {
		s.mainDB.DropNotFlushed()
		return err
	}
	return s.flush()
}

// CommitTransaction atomically applies a transaction's effects together
// with its object writes and deletions. Replaying an already-committed
// transaction fails with ErrConflict without touching state.
func (s *Store) CommitTransaction(fx *inter.TransactionEffects, writes []*inter.Object, deletes []inter.Deletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	has, err := s.table.Effects.Has(fx.TxDigest.Bytes())
	if err != nil {
		return fmt.Errorf("objstore: has effects: %w", err)
	}
	if has {
		return fmt.Errorf("%w: effects of %s", ErrConflict, fx.TxDigest.String())
	}

	if err := s.stageBatch(writes, deletes); err != nil {
		s.mainDB.DropNotFlushed()
		return err
	}
	buf, err := rlp.EncodeToBytes(fx)
	if err != nil {
		s.mainDB.DropNotFlushed()
		return fmt.Errorf("objstore: encode effects: %w", err)
	}
	if err := s.table.Effects.Put(fx.TxDigest.Bytes(), buf); err != nil {
		s.mainDB.DropNotFlushed()
		return fmt.Errorf("objstore: put effects: %w", err)
	}
	return s.flush()
}

// stageBatch checks for conflicts and stages writes on the flushable
// overlay. Caller holds the write lock and flushes or drops afterwards.
func (s *Store) stageBatch(writes []*inter.Object, deletes []inter.Deletion) error {
	for _, w := range writes {
		has, err := s.table.Objects.Has(objectKey(w.ID, w.Version))
		if err != nil {
			return fmt.Errorf("objstore: has object: %w", err)
		}
		if has {
			return fmt.Errorf("%w: object %s v%d", ErrConflict, w.ID.String(), w.Version)
		}
	}

	for _, w := range writes {
		buf, err := rlp.EncodeToBytes(w)
		if err != nil {
			return fmt.Errorf("objstore: encode object: %w", err)
		}
		if err := s.table.Objects.Put(objectKey(w.ID, w.Version), buf); err != nil {
			return fmt.Errorf("objstore: put object: %w", err)
		}
		if err := s.putLatest(w.ID, latestRec{Version: w.Version}); err != nil {
			return err
		}
	}
	for _, d := range deletes {
		if err := s.putLatest(d.ID, latestRec{Version: d.Version, Deleted: true}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) putLatest(id inter.ObjectID, rec latestRec) error {
	buf, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("objstore: encode latest: %w", err)
	}
	if err := s.table.Latest.Put(id.Bytes(), buf); err != nil {
		return fmt.Errorf("objstore: put latest: %w", err)
	}
	return nil
}

func (s *Store) flush() error {
	if err := s.mainDB.Flush(); err != nil {
		s.mainDB.DropNotFlushed()
		return fmt.Errorf("objstore: flush: %w", err)
	}
	return nil
}

// LogCertified durably records a certified transaction at its consensus
// position, before execution. The log is the replay source after a crash.
// Logging the same position twice is a no-op.
func (s *Store) LogCertified(seq uint64, tx *inter.CertifiedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqKey := bigendian.Uint64ToBytes(seq)
	has, err := s.table.ConsensusLog.Has(seqKey)
	if err != nil {
		return fmt.Errorf("objstore: has log entry: %w", err)
	}
	if has {
		return nil
	}

	digest := tx.Digest()
	buf, err := rlp.EncodeToBytes(&txRec{Seq: seq, Time: tx.Time, Tx: tx})
	if err != nil {
		return fmt.Errorf("objstore: encode tx: %w", err)
	}
	if err := s.table.Txs.Put(digest.Bytes(), buf); err != nil {
		s.mainDB.DropNotFlushed()
		return fmt.Errorf("objstore: put tx: %w", err)
	}
	if err := s.table.ConsensusLog.Put(seqKey, digest.Bytes()); err != nil {
		s.mainDB.DropNotFlushed()
		return fmt.Errorf("objstore: put log entry: %w", err)
	}
	if err := s.table.Meta.Put(lastLoggedKey, seqKey); err != nil {
		s.mainDB.DropNotFlushed()
		return fmt.Errorf("objstore: put log head: %w", err)
	}
	return s.flush()
}

// LastLoggedSeq returns the highest consensus position ever logged.
func (s *Store) LastLoggedSeq() (seq uint64, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, err := s.table.Meta.Get(lastLoggedKey)
	if err != nil {
		return 0, false, fmt.Errorf("objstore: get log head: %w", err)
	}
	if buf == nil {
		return 0, false, nil
	}
	return bigendian.BytesToUint64(buf), true, nil
}

// GetTransaction returns the certified transaction by digest, with its
// consensus position and timestamp restored.
func (s *Store) GetTransaction(digest hash.Hash) (*inter.CertifiedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTransaction(digest)
}

func (s *Store) getTransaction(digest hash.Hash) (*inter.CertifiedTransaction, error) {
	buf, err := s.table.Txs.Get(digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("objstore: get tx: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	rec := &txRec{}
	if err := rlp.DecodeBytes(buf, rec); err != nil {
		return nil, fmt.Errorf("objstore: decode tx: %w", err)
	}
	rec.Tx.ConsensusSeq = rec.Seq
	rec.Tx.Time = rec.Time
	return rec.Tx, nil
}

// HasEffects reports whether the transaction already has committed effects.
func (s *Store) HasEffects(digest hash.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	has, err := s.table.Effects.Has(digest.Bytes())
	if err != nil {
		return false, fmt.Errorf("objstore: has effects: %w", err)
	}
	return has, nil
}

// GetEffects returns the committed effects of a transaction, or nil.
func (s *Store) GetEffects(digest hash.Hash) (*inter.TransactionEffects, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, err := s.table.Effects.Get(digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("objstore: get effects: %w", err)
	}
	if buf == nil {
		return nil, nil
	}
	fx := &inter.TransactionEffects{}
	if err := rlp.DecodeBytes(buf, fx); err != nil {
		return nil, fmt.Errorf("objstore: decode effects: %w", err)
	}
	return fx, nil
}

// ForEachLogged iterates the consensus log in order, starting at from.
// The callback returns false to stop.
func (s *Store) ForEachLogged(from uint64, fn func(seq uint64, tx *inter.CertifiedTransaction) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.table.ConsensusLog.NewIterator(nil, bigendian.Uint64ToBytes(from))
	defer it.Release()
	for it.Next() {
		seq := bigendian.BytesToUint64(it.Key())
		tx, err := s.getTransaction(hash.BytesToHash(it.Value()))
		if err != nil {
			return err
		}
		if tx == nil {
			return fmt.Errorf("objstore: log entry %d names unknown tx", seq)
		}
		if !fn(seq, tx) {
			break
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("objstore: iterate log: %w", err)
	}
	return nil
}

// ForEachLatest iterates the live heads of all objects. Used by the formal
// snapshot to dump live state. The callback returns false to stop.
func (s *Store) ForEachLatest(fn func(obj *inter.Object) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.table.Latest.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		rec := &latestRec{}
		if err := rlp.DecodeBytes(it.Value(), rec); err != nil {
			return fmt.Errorf("objstore: decode latest: %w", err)
		}
		if rec.Deleted {
			continue
		}
		obj, err := s.getObject(inter.BytesToObjectID(it.Key()), rec.Version)
		if err != nil {
			return err
		}
		if obj == nil {
			return fmt.Errorf("objstore: head version %d of %s is missing", rec.Version, inter.BytesToObjectID(it.Key()).String())
		}
		if !fn(obj) {
			break
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("objstore: iterate latest: %w", err)
	}
	return nil
}

// ObjectVersions lists the retained versions of an object in ascending
// order.
func (s *Store) ObjectVersions(id inter.ObjectID) ([]inter.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vv []inter.Version
	it := s.table.Objects.NewIterator(id.Bytes(), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		vv = append(vv, inter.BytesToVersion(key[len(key)-8:]))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("objstore: iterate versions: %w", err)
	}
	return vv, nil
}
