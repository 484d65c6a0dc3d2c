package runtime

// AccountStorageOverhead is the per-account byte charge added to the data
// length when computing rent.
const AccountStorageOverhead = 128

// DefaultLamportsPerByte is the default rent rate.
const DefaultLamportsPerByte = 6960

// Rent prices account storage. An account holding at least MinimumBalance
// for its data length is rent-exempt.
type Rent struct {
	LamportsPerByte uint64
}

// DefaultRent returns the rent schedule used when none is configured.
func DefaultRent() Rent {
	return Rent{LamportsPerByte: DefaultLamportsPerByte}
}

// MinimumBalance returns the rent-exempt balance for an account of the
// given data length.
func (r Rent) MinimumBalance(space uint64) uint64 {
	return (AccountStorageOverhead + space) * r.LamportsPerByte
}
