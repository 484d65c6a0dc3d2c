package crypto

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTripBech32AndHex(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.Address()

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr, decoded)

	decoded, err = DecodeAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, decoded)

	var viaText Address
	require.NoError(t, viaText.UnmarshalText([]byte(addr.String())))
	require.Equal(t, addr, viaText)
}

func TestDecodeAddressRejectsMalformedInput(t *testing.T) {
	cases := []string{"", "0x1234", "cosmos1qqqqqq", "sale1notbech32!"}
	for _, input := range cases {
		if _, err := DecodeAddress(input); err == nil {
			t.Fatalf("expected error decoding %q", input)
		}
	}
}

func TestSignAndVerify(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	digest := ethcrypto.Keccak256([]byte("message"))

	sig, err := key.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	require.NoError(t, Verify(key.Address(), digest, sig))

	other, err := GeneratePrivateKey()
	require.NoError(t, err)
	require.ErrorIs(t, Verify(other.Address(), digest, sig), ErrInvalidSignature)

	tampered := append([]byte(nil), digest...)
	tampered[0] ^= 0xff
	require.ErrorIs(t, Verify(key.Address(), tampered, sig), ErrInvalidSignature)
}

func TestFindProgramAddressIsDeterministicAndOffCurve(t *testing.T) {
	program := LabelAddress("test/program")

	addr, bump, err := FindProgramAddress(program, []byte("authority"))
	require.NoError(t, err)
	require.False(t, IsOnCurve(addr))

	again, againBump, err := FindProgramAddress(program, []byte("authority"))
	require.NoError(t, err)
	require.Equal(t, addr, again)
	require.Equal(t, bump, againBump)

	recreated, err := CreateProgramAddress(program, []byte("authority"), []byte{bump})
	require.NoError(t, err)
	require.Equal(t, addr, recreated)

	otherProgram := LabelAddress("test/other")
	different, _, err := FindProgramAddress(otherProgram, []byte("authority"))
	require.NoError(t, err)
	require.NotEqual(t, addr, different)
}

func TestCreateProgramAddressLimits(t *testing.T) {
	program := LabelAddress("test/program")
	_, err := CreateProgramAddress(program, make([]byte, MaxSeedLength+1))
	require.True(t, errors.Is(err, ErrSeedTooLong))

	seeds := make([][]byte, MaxSeeds+1)
	for i := range seeds {
		seeds[i] = []byte{byte(i)}
	}
	_, err = CreateProgramAddress(program, seeds...)
	require.ErrorIs(t, err, ErrTooManySeeds)
}

func TestKeystoreRoundTrip(t *testing.T) {
	keystoreScryptN, keystoreScryptP = keystore.LightScryptN, keystore.LightScryptP

	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "owner.json")

	require.NoError(t, SaveToKeystore(path, key, "hunter2"))
	loaded, err := LoadFromKeystore(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, key.Address(), loaded.Address())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
