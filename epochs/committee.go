// Package epochs tracks epoch boundaries: it watches for the committed
// reconfiguration transaction, freezes commits while the closing checkpoint
// seals, and swaps the active committee and rules atomically with the
// checkpoint sequence boundary.
package epochs

import (
	"errors"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/inter/pos"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/veridian-network/go-veridian/inter/validatorpk"
)

// Member is one validator slot of a committee.
type Member struct {
	ID     idx.ValidatorID
	Weight uint64
	PubKey validatorpk.PubKey
}

// Committee is the validator set of an epoch. It is immutable; a new epoch
// gets a new Committee value.
type Committee struct {
	members    []Member
	validators *pos.Validators
}

// NewCommittee builds a committee from its members. Members are kept sorted
// by ID so the committee hash is independent of input order.
func NewCommittee(members []Member) (Committee, error) {
	if len(members) == 0 {
		return Committee{}, errors.New("empty committee")
	}
	mm := make([]Member, len(members))
	copy(mm, members)
	sort.Slice(mm, func(i, j int) bool {
		return mm[i].ID < mm[j].ID
	})
	builder := pos.NewBuilder()
	for i := range mm {
		if i > 0 && mm[i].ID == mm[i-1].ID {
			return Committee{}, errors.New("duplicated committee member")
		}
		if mm[i].Weight == 0 {
			return Committee{}, errors.New("zero committee weight")
		}
		builder.Set(mm[i].ID, pos.Weight(mm[i].Weight))
	}
	return Committee{
		members:    mm,
		validators: builder.Build(),
	}, nil
}

// Members returns the members sorted by ID.
func (c Committee) Members() []Member {
	return c.members
}

// Validators returns the weighted validator set.
func (c Committee) Validators() *pos.Validators {
	return c.validators
}

// Len returns the committee size.
func (c Committee) Len() int {
	return len(c.members)
}

// Hash returns a deterministic fingerprint of the committee.
func (c Committee) Hash() hash.Hash {
	bb := make([][]byte, 0, len(c.members)*3)
	for _, m := range c.members {
		bb = append(bb,
			bigendian.Uint32ToBytes(uint32(m.ID)),
			bigendian.Uint64ToBytes(m.Weight),
			m.PubKey.Bytes(),
		)
	}
	return hash.Of(bb...)
}

// Copy creates a deep copy of the committee.
func (c Committee) Copy() Committee {
	if len(c.members) == 0 {
		return Committee{}
	}
	cp, err := NewCommittee(c.members)
	if err != nil {
		panic("can't copy committee: " + err.Error())
	}
	return cp
}

// Encode serializes the committee for the reconfiguration payload.
func (c Committee) Encode() []byte {
	buf, err := rlp.EncodeToBytes(c.members)
	if err != nil {
		panic("can't encode: " + err.Error())
	}
	return buf
}

// DecodeCommittee parses a reconfiguration payload into a committee.
func DecodeCommittee(payload []byte) (Committee, error) {
	var mm []Member
	if err := rlp.DecodeBytes(payload, &mm); err != nil {
		return Committee{}, err
	}
	return NewCommittee(mm)
}
