// Package validatorpk abstracts validator public keys behind a scheme-tagged
// container, so committee handling does not depend on a particular curve.
package validatorpk

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// PubKey is a validator public key: a scheme identifier plus raw key bytes.
type PubKey struct {
	Type uint8
	Raw  []byte
}

// Types enumerates the supported key schemes.
var Types = struct {
	Secp256k1 uint8
	Bls12381  uint8
}{
	Secp256k1: 0xc0,
	Bls12381:  0xc1,
}

// Empty reports whether the key is uninitialized.
func (pk PubKey) Empty() bool {
	return len(pk.Raw) == 0 && pk.Type == 0
}

// String returns the "0x"-prefixed hex representation.
func (pk PubKey) String() string {
	return "0x" + common.Bytes2Hex(pk.Bytes())
}

// Bytes returns the flat representation: type byte followed by raw bytes.
func (pk PubKey) Bytes() []byte {
	return append([]byte{pk.Type}, pk.Raw...)
}

// Copy creates a deep copy of the key.
func (pk PubKey) Copy() PubKey {
	return PubKey{
		Type: pk.Type,
		Raw:  common.CopyBytes(pk.Raw),
	}
}

// FromString parses a hex string (with or without "0x" prefix).
func FromString(str string) (PubKey, error) {
	return FromBytes(common.FromHex(str))
}

// FromBytes reconstructs a PubKey from its flat representation.
func FromBytes(b []byte) (PubKey, error) {
	if len(b) == 0 {
		return PubKey{}, errors.New("empty pubkey")
	}
	return PubKey{b[0], b[1:]}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (pk *PubKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PubKey) UnmarshalText(input []byte) error {
	res, err := FromString(string(input))
	if err != nil {
		return err
	}
	*pk = res
	return nil
}
