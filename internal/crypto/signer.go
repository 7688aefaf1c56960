package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 hashes of the canonical EIP-712 type strings. The
// strings must match the CLOB's verifying side byte for byte.
var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// OrderPayload carries the twelve signed fields of a CLOB limit order.
// Addresses and uint256 values travel as strings so JSON round-trips never
// lose precision.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// Signer signs CLOB auth messages and orders with a secp256k1 wallet key.
// Both flows share the ClobAuthDomain separator, which is fixed at
// construction.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domain     []byte
}

// NewSigner builds a Signer from a hex-encoded private key and the target
// chain ID (137 for Polygon mainnet, 80002 for Amoy).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domain = ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		uint256Word(big.NewInt(int64(chainID))),
	)
	return s, nil
}

// Address returns the wallet address derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth struct the CLOB exchanges for an API
// key. The result is a hex-encoded 65-byte r||s||v signature.
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(
		clobAuthTypeHash,
		addressWord(common.HexToAddress(address)),
		uint256Word(big.NewInt(timestamp)),
		uint256Word(big.NewInt(nonce)),
	)
	return s.signDigest(s.typedDataDigest(structHash))
}

// SignOrder signs an Order struct for placement on the CLOB. The result is a
// hex-encoded 65-byte r||s||v signature.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(s.typedDataDigest(structHash))
}

// typedDataDigest folds a struct hash into the final EIP-712 digest:
// keccak256("\x19\x01" || domainSeparator || structHash).
func (s *Signer) typedDataDigest(structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, s.domain, structHash)
}

// signDigest signs a 32-byte digest and hex-encodes the 65-byte signature.
// go-ethereum yields v in {0,1}; the CLOB wants {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// orderStructHash hashes the Order fields in their canonical EIP-712 order.
func orderStructHash(o OrderPayload) ([]byte, error) {
	salt, err := decimalBig("salt", o.Salt)
	if err != nil {
		return nil, err
	}
	tokenID, err := decimalBig("tokenId", o.TokenID)
	if err != nil {
		return nil, err
	}
	makerAmt, err := decimalBig("makerAmount", o.MakerAmount)
	if err != nil {
		return nil, err
	}
	takerAmt, err := decimalBig("takerAmount", o.TakerAmount)
	if err != nil {
		return nil, err
	}
	expiration, err := decimalBig("expiration", o.Expiration)
	if err != nil {
		return nil, err
	}
	nonce, err := decimalBig("nonce", o.Nonce)
	if err != nil {
		return nil, err
	}
	feeRate, err := decimalBig("feeRateBps", o.FeeRateBps)
	if err != nil {
		return nil, err
	}

	return ethcrypto.Keccak256(
		orderTypeHash,
		uint256Word(salt),
		addressWord(common.HexToAddress(o.Maker)),
		addressWord(common.HexToAddress(o.Signer)),
		addressWord(common.HexToAddress(o.Taker)),
		uint256Word(tokenID),
		uint256Word(makerAmt),
		uint256Word(takerAmt),
		uint256Word(expiration),
		uint256Word(nonce),
		uint256Word(feeRate),
		uint256Word(big.NewInt(int64(o.Side))),
		uint256Word(big.NewInt(int64(o.SignatureType))),
	), nil
}

// decimalBig parses a base-10 uint256 field, naming the field on failure.
func decimalBig(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: %s is not a base-10 integer: %q", field, s)
	}
	return n, nil
}

// uint256Word encodes n as a 32-byte big-endian word.
func uint256Word(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// addressWord left-pads a 20-byte address to a 32-byte word.
func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
