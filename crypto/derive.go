package crypto

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeedLength bounds each derivation seed.
	MaxSeedLength = 32
	// MaxSeeds bounds the number of seeds, bump included.
	MaxSeeds = 16

	programDerivedMarker = "ProgramDerivedAddress"
)

var (
	// ErrSeedTooLong is returned when a seed exceeds MaxSeedLength.
	ErrSeedTooLong = errors.New("crypto: derivation seed too long")
	// ErrTooManySeeds is returned when more than MaxSeeds seeds are supplied.
	ErrTooManySeeds = errors.New("crypto: too many derivation seeds")
	// ErrOnCurve is returned when a candidate derived address is a valid
	// public key and could therefore be signed for by a private key.
	ErrOnCurve = errors.New("crypto: derived address is on curve")
	// ErrNoViableBump is returned when no bump yields an off-curve address.
	ErrNoViableBump = errors.New("crypto: unable to find a viable derivation bump")
)

// CreateProgramAddress hashes seeds together with the owning program ID.
// The resulting address has no private key: candidates that land on the
// curve are rejected.
func CreateProgramAddress(programID Address, seeds ...[]byte) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrTooManySeeds
	}
	parts := make([][]byte, 0, len(seeds)+2)
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, fmt.Errorf("%w: %d bytes", ErrSeedTooLong, len(seed))
		}
		parts = append(parts, seed)
	}
	parts = append(parts, programID[:], []byte(programDerivedMarker))
	var addr Address
	copy(addr[:], ethcrypto.Keccak256(parts...))
	if IsOnCurve(addr) {
		return Address{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 downwards and returns the first
// off-curve address together with the canonical bump.
func FindProgramAddress(programID Address, seeds ...[]byte) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Address{}, 0, ErrTooManySeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(programID, withBump...)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// LabelAddress derives a fixed identifier (program IDs, well-known mints)
// from a human-readable label.
func LabelAddress(label string) Address {
	var addr Address
	copy(addr[:], ethcrypto.Keccak256([]byte(label)))
	return addr
}
