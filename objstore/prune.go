package objstore

import (
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/kvdb"

	"github.com/veridian-network/go-veridian/inter"
)

// Deletion entry points used by the storage lifecycle manager. Each method
// applies atomically and takes the write lock, so concurrent readers and
// the execution pipeline never observe a half-applied prune step.

// DeleteVersionsBelow removes retained versions of an object strictly below
// the given version. The head record is left untouched, so the live version
// sequence stays gap-free within the remaining window. Returns the number
// of versions removed.
func (s *Store) DeleteVersionsBelow(id inter.ObjectID, below inter.Version) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys [][]byte
	it := s.table.Objects.NewIterator(id.Bytes(), nil)
	for it.Next() {
		key := it.Key()
		if inter.BytesToVersion(key[len(key)-8:]) >= below {
			break
		}
		keys = append(keys, append([]byte(nil), key...))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, fmt.Errorf("objstore: iterate versions: %w", err)
	}

	for _, key := range keys {
		if err := s.table.Objects.Delete(key); err != nil {
			s.mainDB.DropNotFlushed()
			return 0, fmt.Errorf("objstore: delete object: %w", err)
		}
	}
	if err := s.flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteAllVersions removes every retained version of an object and its
// head record. Used when pruning deleted objects whose tombstone fell below
// the watermark.
func (s *Store) DeleteAllVersions(id inter.ObjectID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys [][]byte
	it := s.table.Objects.NewIterator(id.Bytes(), nil)
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, fmt.Errorf("objstore: iterate versions: %w", err)
	}

	for _, key := range keys {
		if err := s.table.Objects.Delete(key); err != nil {
			s.mainDB.DropNotFlushed()
			return 0, fmt.Errorf("objstore: delete object: %w", err)
		}
	}
	if err := s.table.Latest.Delete(id.Bytes()); err != nil {
		s.mainDB.DropNotFlushed()
		return 0, fmt.Errorf("objstore: delete latest: %w", err)
	}
	if err := s.flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteTransactions removes transaction bodies and effects for the given
// digests in one atomic step.
func (s *Store) DeleteTransactions(digests []hash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range digests {
		if err := s.table.Txs.Delete(d.Bytes()); err != nil {
			s.mainDB.DropNotFlushed()
			return fmt.Errorf("objstore: delete tx: %w", err)
		}
		if err := s.table.Effects.Delete(d.Bytes()); err != nil {
			s.mainDB.DropNotFlushed()
			return fmt.Errorf("objstore: delete effects: %w", err)
		}
	}
	return s.flush()
}

// DeleteLogBelow removes consensus log entries strictly below the given
// position, in bounded chunks. Returns the number of removed entries.
func (s *Store) DeleteLogBelow(seq uint64, maxBatch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys [][]byte
	it := s.table.ConsensusLog.NewIterator(nil, nil)
	for it.Next() {
		if bigendian.BytesToUint64(it.Key()) >= seq {
			break
		}
		keys = append(keys, append([]byte(nil), it.Key()...))
		if maxBatch > 0 && len(keys) >= maxBatch {
			break
		}
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, fmt.Errorf("objstore: iterate log: %w", err)
	}

	for _, key := range keys {
		if err := s.table.ConsensusLog.Delete(key); err != nil {
			s.mainDB.DropNotFlushed()
			return 0, fmt.Errorf("objstore: delete log entry: %w", err)
		}
	}
	if err := s.flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// CopyTo streams the whole store into dst in bounded batches. Used to take
// a local restore point of the database. The write lock is held for the
// duration, so the copy is a consistent point-in-time image.
func (s *Store) CopyTo(dst kvdb.Store, maxBatchValues int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxBatchValues <= 0 {
		maxBatchValues = 1024
	}
	batch := dst.NewBatch()
	defer batch.Reset()
	n := 0

	it := s.mainDB.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		if err := batch.Put(it.Key(), it.Value()); err != nil {
			return fmt.Errorf("objstore: copy put: %w", err)
		}
		n++
		if n%maxBatchValues == 0 {
			if err := batch.Write(); err != nil {
				return fmt.Errorf("objstore: copy write: %w", err)
			}
			batch.Reset()
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("objstore: copy iterate: %w", err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("objstore: copy write: %w", err)
	}
	return nil
}

// Compact triggers a compaction of the whole underlying database.
func (s *Store) Compact() error {
	return s.mainDB.Compact(nil, nil)
}
