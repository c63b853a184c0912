// Package inter defines Veridian's core data structures that bridge the
// consensus collaborator with deterministic execution: versioned objects,
// certified transactions, execution effects and checkpoints.
package inter

import (
	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common"
)

// Version is a monotonically increasing object version. Each committed
// version of an object is immutable; a new version supersedes the previous
// one without overwriting it.
type Version uint64

// Bytes returns the big-endian representation, used for ordered DB keys.
func (v Version) Bytes() []byte {
	return bigendian.Uint64ToBytes(uint64(v))
}

// BytesToVersion decodes a big-endian encoded version.
func BytesToVersion(b []byte) Version {
	return Version(bigendian.BytesToUint64(b))
}

// ObjectID is the stable identifier of an object. It never changes across
// versions of the same object.
type ObjectID [32]byte

// Bytes returns the raw ID bytes.
func (id ObjectID) Bytes() []byte {
	return id[:]
}

// Hex returns the "0x"-prefixed hex representation.
func (id ObjectID) Hex() string {
	return "0x" + common.Bytes2Hex(id[:])
}

func (id ObjectID) String() string {
	return id.Hex()
}

// BytesToObjectID converts bytes to an ObjectID, left-truncating if needed.
func BytesToObjectID(b []byte) ObjectID {
	var id ObjectID
	if len(b) > len(id) {
		b = b[len(b)-len(id):]
	}
	copy(id[len(id)-len(b):], b)
	return id
}

// HexToObjectID parses a hex string (with or without "0x") into an ObjectID.
func HexToObjectID(s string) ObjectID {
	return BytesToObjectID(common.FromHex(s))
}

// OwnerKind discriminates the ownership models an object may have.
type OwnerKind uint8

const (
	// OwnerAddress marks an owned object: mutations must be authorized by
	// a single address and access is exclusive.
	OwnerAddress OwnerKind = iota
	// OwnerShared marks a shared object: any authorized transaction may
	// touch it, with access ordered by the consensus sequence.
	OwnerShared
	// OwnerImmutable marks an object that can never be mutated again.
	OwnerImmutable
)

// Owner describes who may mutate an object and how access is arbitrated.
type Owner struct {
	Kind OwnerKind
	// Address is the owning address. Meaningful only for OwnerAddress.
	Address common.Address
	// InitialVersion is the version at which the object became shared.
	// Meaningful only for OwnerShared; shared version assignment never
	// goes below it.
	InitialVersion Version
}

// Object is a single immutable version of a state object. The (ID, Version)
// pair uniquely identifies it for the chain's lifetime.
type Object struct {
	ID      ObjectID
	Version Version
	Owner   Owner
	// Payload is the opaque content interpreted by the VM collaborator.
	Payload []byte
}

// Digest returns the content hash of this object version.
func (o *Object) Digest() hash.Hash {
	return hash.Of(
		o.ID.Bytes(),
		o.Version.Bytes(),
		[]byte{byte(o.Owner.Kind)},
		o.Owner.Address.Bytes(),
		o.Owner.InitialVersion.Bytes(),
		o.Payload,
	)
}

// Ref returns the reference naming this exact object version.
func (o *Object) Ref() ObjectRef {
	return ObjectRef{
		ID:      o.ID,
		Version: o.Version,
		Digest:  o.Digest(),
	}
}

// IsShared reports whether the object is under shared ownership.
func (o *Object) IsShared() bool {
	return o.Owner.Kind == OwnerShared
}

// Copy creates a deep copy of the object.
func (o *Object) Copy() *Object {
	cp := *o
	cp.Payload = common.CopyBytes(o.Payload)
	return &cp
}

// ObjectRef names an exact object version together with its content digest.
type ObjectRef struct {
	ID      ObjectID
	Version Version
	Digest  hash.Hash
}

// Deletion names an object removal. Version is the tombstone version the
// deletion produces; it supersedes every live version of the object.
type Deletion struct {
	ID      ObjectID
	Version Version
}
