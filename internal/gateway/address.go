package gateway

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"nav-strike-engine/internal/domain"
)

// ValidateAccount checks that addr is a base58-encoded 32-byte account key.
func ValidateAccount(addr string) error {
	_, err := decodeAccount(addr)
	return err
}

// ValidateWallet checks that addr is an account key on the ed25519 curve,
// i.e. one backed by a keypair an investor can sign with. Program-derived
// accounts are rejected.
func ValidateWallet(addr string) error {
	b, err := decodeAccount(addr)
	if err != nil {
		return err
	}
	if !isOnCurve(b) {
		return domain.NewValidationError("address %s is not a wallet key", addr)
	}
	return nil
}

func decodeAccount(addr string) ([]byte, error) {
	if addr == "" {
		return nil, domain.NewValidationError("address is empty")
	}
	b, err := base58.Decode(addr)
	if err != nil {
		return nil, domain.NewValidationError("address %q is not base58", addr)
	}
	if len(b) != 32 {
		return nil, domain.NewValidationError("address %s decodes to %d bytes, want 32", addr, len(b))
	}
	return b, nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
