package tron

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// addressVersion prefixes every mainnet TRON address.
const addressVersion byte = 0x41

var (
	ErrInvalidAddress    = errors.New("tron: invalid address")
	ErrInvalidPrivateKey = errors.New("tron: invalid private key")
)

// Address is a decoded 20-byte TRON account address.
type Address [20]byte

// ParseAddress decodes a base58check "T..." address.
func ParseAddress(s string) (Address, error) {
	var a Address
	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if version != addressVersion || len(payload) != len(a) {
		return a, ErrInvalidAddress
	}
	copy(a[:], payload)
	return a, nil
}

// ParseHexAddress decodes the 21-byte hex form ("41...") the node API returns.
func ParseHexAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch len(raw) {
	case 21:
		if raw[0] != addressVersion {
			return a, ErrInvalidAddress
		}
		copy(a[:], raw[1:])
	case 20:
		copy(a[:], raw)
	default:
		return a, ErrInvalidAddress
	}
	return a, nil
}

// IsValidAddress reports whether s is a well-formed base58check TRON address.
func IsValidAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// String renders the base58check form.
func (a Address) String() string {
	return base58.CheckEncode(a[:], addressVersion)
}

// Hex renders the 21-byte hex form used in contract event payloads.
func (a Address) Hex() string {
	return hex.EncodeToString(append([]byte{addressVersion}, a[:]...))
}

// EVM returns the address as an ABI-packable value.
func (a Address) EVM() common.Address {
	return common.BytesToAddress(a[:])
}

// KeyPair parses a hex private key and derives its TRON address.
func KeyPair(privateKeyHex string) (*ecdsa.PrivateKey, Address, error) {
	var a Address
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, a, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	copy(a[:], crypto.PubkeyToAddress(key.PublicKey).Bytes())
	return key, a, nil
}

// AddressFromKey derives the base58 address for a hex private key.
func AddressFromKey(privateKeyHex string) (string, error) {
	_, a, err := KeyPair(privateKeyHex)
	if err != nil {
		return "", err
	}
	return a.String(), nil
}
