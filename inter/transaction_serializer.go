package inter

import (
	"errors"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/veridian-network/go-veridian/utils/cser"
)

// ErrUnknownTxKind is returned when serializing a transaction whose kind is
// not part of the protocol.
var ErrUnknownTxKind = errors.New("unknown tx kind")

// TransactionMarshalCSER serializes a certified transaction, including its
// consensus position and timestamp. Used for cold storage; the content
// digest is still computed over the rlp form.
func TransactionMarshalCSER(w *cser.Writer, tx *CertifiedTransaction) error {
	if tx.Kind != TxRegular && tx.Kind != TxEndOfEpoch {
		return ErrUnknownTxKind
	}
	w.Bool(tx.Kind == TxEndOfEpoch)
	w.FixedBytes(tx.Sender.Bytes())
	w.U64(tx.ConsensusSeq)
	w.U64(uint64(tx.Time))
	w.U32(uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		w.Bool(in.Mode == InputShared)
		w.FixedBytes(in.ID.Bytes())
		w.U64(uint64(in.Version))
	}
	w.SliceBytes(tx.Payload)
	return nil
}

// TransactionUnmarshalCSER parses a certified transaction.
func TransactionUnmarshalCSER(r *cser.Reader) (*CertifiedTransaction, error) {
	tx := &CertifiedTransaction{}
	if r.Bool() {
		tx.Kind = TxEndOfEpoch
	}
	sender := make([]byte, common.AddressLength)
	r.FixedBytes(sender)
	tx.Sender = common.BytesToAddress(sender)
	tx.ConsensusSeq = r.U64()
	tx.Time = Timestamp(r.U64())
	count := r.U32()
	tx.Inputs = make([]InputRef, count)
	for i := range tx.Inputs {
		mode := InputOwned
		if r.Bool() {
			mode = InputShared
		}
		var id ObjectID
		r.FixedBytes(id[:])
		version := Version(r.U64())
		tx.Inputs[i] = InputRef{ID: id, Version: version, Mode: mode}
	}
	tx.Payload = r.SliceBytes(cser.MaxAlloc)
	return tx, nil
}

// EffectsMarshalCSER serializes transaction effects.
func EffectsMarshalCSER(w *cser.Writer, fx *TransactionEffects) error {
	w.FixedBytes(fx.TxDigest.Bytes())
	w.U32(uint32(fx.Epoch))
	w.U64(fx.ConsensusSeq)
	w.Bool(fx.Status.Code == StatusAborted)
	if fx.Status.Code == StatusAborted {
		w.U64(fx.Status.AbortCode)
	}
	marshalRefsCSER(w, fx.Created)
	marshalRefsCSER(w, fx.Mutated)
	marshalRefsCSER(w, fx.Deleted)
	w.U32(uint32(len(fx.Dependencies)))
	for _, dep := range fx.Dependencies {
		w.FixedBytes(dep.Bytes())
	}
	return nil
}

// EffectsUnmarshalCSER parses transaction effects.
func EffectsUnmarshalCSER(r *cser.Reader) (*TransactionEffects, error) {
	fx := &TransactionEffects{}
	fx.TxDigest = readHashCSER(r)
	fx.Epoch = idx.Epoch(r.U32())
	fx.ConsensusSeq = r.U64()
	if r.Bool() {
		fx.Status.Code = StatusAborted
		fx.Status.AbortCode = r.U64()
	}
	fx.Created = unmarshalRefsCSER(r)
	fx.Mutated = unmarshalRefsCSER(r)
	fx.Deleted = unmarshalRefsCSER(r)
	count := r.U32()
	for i := uint32(0); i < count; i++ {
		fx.Dependencies = append(fx.Dependencies, readHashCSER(r))
	}
	return fx, nil
}

func marshalRefsCSER(w *cser.Writer, refs []ObjectRef) {
	w.U32(uint32(len(refs)))
	for _, ref := range refs {
		w.FixedBytes(ref.ID.Bytes())
		w.U64(uint64(ref.Version))
		w.FixedBytes(ref.Digest.Bytes())
	}
}

func unmarshalRefsCSER(r *cser.Reader) []ObjectRef {
	count := r.U32()
	if count == 0 {
		return nil
	}
	refs := make([]ObjectRef, count)
	for i := range refs {
		var id ObjectID
		r.FixedBytes(id[:])
		version := Version(r.U64())
		refs[i] = ObjectRef{ID: id, Version: version, Digest: readHashCSER(r)}
	}
	return refs
}

func readHashCSER(r *cser.Reader) hash.Hash {
	buf := make([]byte, len(hash.Hash{}))
	r.FixedBytes(buf)
	return hash.BytesToHash(buf)
}
