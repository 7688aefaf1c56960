package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(s *Signer) OrderPayload {
	return OrderPayload{
		Salt:          "479249096354",
		Maker:         s.Address().Hex(),
		Signer:        s.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "50000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 2,
	}
}

func TestSignOrderRecoversSignerAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	order := testOrder(s)
	sigHex, err := s.SignOrder(order)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sigHex, "0x"))

	raw, err := hex.DecodeString(sigHex[2:])
	require.NoError(t, err)
	require.Len(t, raw, 65)
	require.GreaterOrEqual(t, raw[64], byte(27))

	// The signature must recover to the signing wallet.
	structHash, err := orderStructHash(order)
	require.NoError(t, err)
	digest := s.typedDataDigest(structHash)
	raw[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, raw)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), ethcrypto.PubkeyToAddress(*pub))
}

func TestSignOrderSensitiveToPayload(t *testing.T) {
	s, err := NewSigner("0x"+testKeyHex, 137)
	require.NoError(t, err)

	base := testOrder(s)
	sigA, err := s.SignOrder(base)
	require.NoError(t, err)

	again, err := s.SignOrder(base)
	require.NoError(t, err)
	assert.Equal(t, sigA, again, "signing is deterministic")

	bumped := base
	bumped.Salt = "479249096355"
	sigB, err := s.SignOrder(bumped)
	require.NoError(t, err)
	assert.NotEqual(t, sigA, sigB)
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sigA, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	sigB, err := s.SignAuthMessage(s.Address().Hex(), 1700000001, 0)
	require.NoError(t, err)

	assert.NotEqual(t, sigA, sigB)
	for _, sig := range []string{sigA, sigB} {
		raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
		require.NoError(t, err)
		assert.Len(t, raw, 65)
	}
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	_, err := NewSigner("not-a-key", 137)
	assert.Error(t, err)
}

func TestOrderStructHashNamesBadField(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	bad := testOrder(s)
	bad.MakerAmount = "1.5"
	_, err = orderStructHash(bad)
	assert.ErrorContains(t, err, "makerAmount")
}
