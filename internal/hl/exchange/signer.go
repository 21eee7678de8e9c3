package exchange

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var agentTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Agent": {
		{Name: "source", Type: "string"},
		{Name: "connectionId", Type: "bytes32"},
	},
}

var l1Domain = apitypes.TypedDataDomain{
	Name:              "Exchange",
	Version:           "1",
	ChainId:           math.NewHexOrDecimal256(1337),
	VerifyingContract: "0x0000000000000000000000000000000000000000",
}

// Signer signs L1 actions for one wallet on one network.
type Signer struct {
	key        *ecdsa.PrivateKey
	address    common.Address
	source     string
	domainHash []byte
}

func NewSigner(hexKey string, isMainnet bool) (*Signer, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	typed := apitypes.TypedData{Types: agentTypes, Domain: l1Domain}
	domainHash, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash signing domain: %w", err)
	}
	source := "a"
	if !isMainnet {
		source = "b"
	}
	return &Signer{
		key:        key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		source:     source,
		domainHash: domainHash,
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignL1Action signs an order or updateLeverage action with the agent
// (phantom) EIP-712 scheme.
func (s *Signer) SignL1Action(action any, nonce uint64, vault *common.Address) (Signature, error) {
	packed, err := EncodeAction(action)
	if err != nil {
		return Signature{}, err
	}
	digest, err := s.digest(connectionID(packed, nonce, vault))
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, err
	}
	return signatureFromBytes(sig)
}

// connectionID is keccak256(msgpack(action) | nonce | vault flag [| vault]).
func connectionID(packed []byte, nonce uint64, vault *common.Address) []byte {
	buf := make([]byte, 0, len(packed)+8+1+common.AddressLength)
	buf = append(buf, packed...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	if vault == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = append(buf, vault.Bytes()...)
	}
	return crypto.Keccak256(buf)
}

func (s *Signer) digest(connID []byte) ([]byte, error) {
	typed := apitypes.TypedData{
		Types:       agentTypes,
		PrimaryType: "Agent",
		Domain:      l1Domain,
		Message: apitypes.TypedDataMessage{
			"source":       s.source,
			"connectionId": hexutil.Encode(connID),
		},
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, fmt.Errorf("hash agent message: %w", err)
	}
	return crypto.Keccak256([]byte("\x19\x01"), s.domainHash, messageHash), nil
}

func signatureFromBytes(sig []byte) (Signature, error) {
	if len(sig) != crypto.SignatureLength {
		return Signature{}, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}
