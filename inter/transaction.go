package inter

import (
	"crypto/sha256"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxKind discriminates ordinary transactions from the distinguished
// reconfiguration transaction that terminates an epoch.
type TxKind uint8

const (
	// TxRegular is an ordinary user transaction.
	TxRegular TxKind = iota
	// TxEndOfEpoch is the reconfiguration transaction. It is executed like
	// any other transaction, but its committed effects trigger the epoch
	// transition. Its payload carries the next committee (see epochs).
	TxEndOfEpoch
)

// InputMode describes how a transaction accesses one of its inputs.
type InputMode uint8

const (
	// InputOwned requires an exclusive reservation at an exact version.
	InputOwned InputMode = iota
	// InputShared is arbitrated by consensus order; the actual version is
	// assigned deterministically at execution time.
	InputShared
)

// InputRef names a transaction input. For owned inputs Version is the exact
// expected version (a mismatch aborts the transaction). For shared inputs
// Version is the initial shared version; the executed version is assigned
// from consensus order.
type InputRef struct {
	ID      ObjectID
	Version Version
	Mode    InputMode
}

// CertifiedTransaction is a transaction that already carries a BFT
// certificate from the consensus collaborator. The core never validates
// signatures; it only executes.
type CertifiedTransaction struct {
	Sender common.Address
	Kind   TxKind
	Inputs []InputRef
	// ConsensusSeq is the position assigned by the consensus collaborator
	// within its ordered output stream. It totally orders shared-object
	// access and is excluded from the content digest.
	ConsensusSeq uint64 `rlp:"-"`
	// Time is the commit timestamp assigned by the consensus collaborator
	// alongside the position. Every validator observes the same value for
	// the same position. Excluded from the content digest, like the
	// position itself.
	Time Timestamp `rlp:"-"`
	// Payload is the opaque command interpreted by the VM collaborator.
	Payload []byte
}

// Digest returns the content hash identifying the transaction. It covers
// sender, kind, inputs and payload, but not the consensus position.
func (tx *CertifiedTransaction) Digest() hash.Hash {
	hasher := sha256.New()
	err := rlp.Encode(hasher, tx)
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}

// HasShared reports whether any input is a shared object. Such transactions
// must execute strictly in consensus order.
func (tx *CertifiedTransaction) HasShared() bool {
	for _, in := range tx.Inputs {
		if in.Mode == InputShared {
			return true
		}
	}
	return false
}

// Copy creates a deep copy of the transaction.
func (tx *CertifiedTransaction) Copy() *CertifiedTransaction {
	cp := *tx
	cp.Inputs = make([]InputRef, len(tx.Inputs))
	copy(cp.Inputs, tx.Inputs)
	cp.Payload = common.CopyBytes(tx.Payload)
	return &cp
}
