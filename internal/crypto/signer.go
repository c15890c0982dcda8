// Package crypto holds the signing and key-handling pieces of venue
// authentication: EIP-712 order and auth signatures, HMAC request headers,
// and encrypted private key storage.
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

// Pre-computed keccak256 hashes of the canonical EIP-712 type strings.
var (
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce,string message)"))
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"))
)

// clobAuthMessage is the fixed attestation string the CLOB expects inside
// ClobAuth signatures.
const clobAuthMessage = "This message attests that I control the given wallet"

// SignedOrder carries the EIP-712 order fields plus the produced signature.
// Large numbers travel as decimal strings to survive JSON.
type SignedOrder struct {
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
	SignatureType int    `json:"signatureType"` // 0 = EOA
	Signature     string `json:"signature"`
}

// Signer signs CLOB auth messages and orders with a secp256k1 key.
type Signer struct {
	key        *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	authDomain []byte // cached ClobAuthDomain separator
}

// NewSigner builds a Signer from a hex private key and chain id (137 for
// Polygon mainnet).
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	s := &Signer{
		key:     pk,
		address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID: chainID,
	}
	s.authDomain = ethcrypto.Keccak256(concat(
		authDomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		uint256Bytes(big.NewInt(chainID)),
	))
	return s, nil
}

// Address returns the address derived from the private key.
func (s *Signer) Address() common.Address { return s.address }

// SignAuth signs the ClobAuth message used to derive API credentials.
// Returns a 65-byte hex signature.
func (s *Signer) SignAuth(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(concat(
		clobAuthTypeHash,
		common.LeftPadBytes(s.address.Bytes(), 32),
		uint256Bytes(big.NewInt(timestamp)),
		uint256Bytes(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(clobAuthMessage)),
	))
	return s.sign(typedDataDigest(s.authDomain, structHash))
}

// SignOrder signs an order against the exchange contract's domain and
// returns the order with its signature attached.
func (s *Signer) SignOrder(o SignedOrder, exchangeContract string) (SignedOrder, error) {
	domain := ethcrypto.Keccak256(concat(
		exchangeDomainTypeHash,
		ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		uint256Bytes(big.NewInt(s.chainID)),
		common.LeftPadBytes(common.HexToAddress(exchangeContract).Bytes(), 32),
	))
	structHash, err := orderStructHash(o)
	if err != nil {
		return o, err
	}
	sig, err := s.sign(typedDataDigest(domain, structHash))
	if err != nil {
		return o, err
	}
	o.Signature = sig
	return o, nil
}

func (s *Signer) sign(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	// go-ethereum yields v in {0,1}; the CLOB expects {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// typedDataDigest is keccak256("\x19\x01" || domain || structHash).
func typedDataDigest(domain, structHash []byte) []byte {
	return ethcrypto.Keccak256(concat([]byte{0x19, 0x01}, domain, structHash))
}

func orderStructHash(o SignedOrder) ([]byte, error) {
	nums := make([]*big.Int, 0, 7)
	for _, f := range []struct{ name, val string }{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	} {
		n, ok := new(big.Int).SetString(f.val, 10)
		if !ok {
			return nil, fmt.Errorf("crypto: order %s is not a decimal number: %q", f.name, f.val)
		}
		nums = append(nums, n)
	}

	return ethcrypto.Keccak256(concat(
		orderTypeHash,
		uint256Bytes(nums[0]),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		uint256Bytes(nums[1]),
		uint256Bytes(nums[2]),
		uint256Bytes(nums[3]),
		uint256Bytes(nums[4]),
		uint256Bytes(nums[5]),
		uint256Bytes(nums[6]),
		uint256Bytes(big.NewInt(int64(o.Side))),
		uint256Bytes(big.NewInt(int64(o.SignatureType))),
	)), nil
}

// uint256Bytes left-pads n to the 32-byte ABI word.
func uint256Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
