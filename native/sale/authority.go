package sale

import (
	"salechain/crypto"
)

var (
	// AuthoritySeed labels the custody signing authority.
	AuthoritySeed = []byte("authority")
	// ConfigSeed labels the configuration record.
	ConfigSeed = []byte("config")
)

// Derived is a program-derived address with the bump that proves it.
type Derived struct {
	Address crypto.Address `json:"address"`
	Bump    uint8          `json:"bump"`
	seed    []byte
}

// SignerSeeds returns the seeds the program presents to sign as Address.
func (d Derived) SignerSeeds() [][]byte {
	return [][]byte{d.seed, {d.Bump}}
}

func derive(programID crypto.Address, seed []byte) (Derived, error) {
	addr, bump, err := crypto.FindProgramAddress(programID, seed)
	if err != nil {
		return Derived{}, err
	}
	return Derived{Address: addr, Bump: bump, seed: seed}, nil
}

// DeriveAuthority returns the keyless identity that owns the custody token
// account of the sale run by programID.
func DeriveAuthority(programID crypto.Address) (Derived, error) {
	return derive(programID, AuthoritySeed)
}

// DeriveConfig returns the address of the configuration record of the sale
// run by programID.
func DeriveConfig(programID crypto.Address) (Derived, error) {
	return derive(programID, ConfigSeed)
}
