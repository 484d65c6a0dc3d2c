package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"salechain/crypto"
)

var (
	// ErrNoInstructions is returned for a message that does nothing.
	ErrNoInstructions = errors.New("types: message has no instructions")
	// ErrNoSigners is returned for a message nobody authorised.
	ErrNoSigners = errors.New("types: message has no signers")
	// ErrSignatureCount is returned when signatures and signers disagree in length.
	ErrSignatureCount = errors.New("types: signature count does not match signers")
	// ErrUnexpectedSigner is returned when signing with a key the message does not list.
	ErrUnexpectedSigner = errors.New("types: key is not a message signer")
)

// AccountMeta describes how an instruction uses one account.
type AccountMeta struct {
	Address  crypto.Address `json:"address"`
	Signer   bool           `json:"signer"`
	Writable bool           `json:"writable"`
}

// Instruction is one call into a program.
type Instruction struct {
	ProgramID crypto.Address `json:"programId"`
	Accounts  []AccountMeta  `json:"accounts"`
	Data      hexutil.Bytes  `json:"data"`
}

// Message is the signed body of a transaction. Nonce only distinguishes
// otherwise identical messages so each can be replay-protected by hash.
type Message struct {
	Nonce        uint64           `json:"nonce"`
	Signers      []crypto.Address `json:"signers"`
	Instructions []Instruction    `json:"instructions"`
}

// NewMessage builds a message whose signer list is every account flagged as
// a signer in the instructions, in order of first appearance.
func NewMessage(nonce uint64, instructions ...Instruction) *Message {
	seen := make(map[crypto.Address]struct{})
	signers := make([]crypto.Address, 0)
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			if !meta.Signer {
				continue
			}
			if _, ok := seen[meta.Address]; ok {
				continue
			}
			seen[meta.Address] = struct{}{}
			signers = append(signers, meta.Address)
		}
	}
	return &Message{Nonce: nonce, Signers: signers, Instructions: instructions}
}

// Hash returns keccak256 of the RLP-encoded message.
func (m *Message) Hash() ([32]byte, error) {
	var out [32]byte
	encoded, err := rlp.EncodeToBytes(m)
	if err != nil {
		return out, err
	}
	copy(out[:], ethcrypto.Keccak256(encoded))
	return out, nil
}

// Validate performs the structural checks that need no state.
func (m *Message) Validate() error {
	if m == nil || len(m.Instructions) == 0 {
		return ErrNoInstructions
	}
	if len(m.Signers) == 0 {
		return ErrNoSigners
	}
	return nil
}

// IsSigner reports whether addr is in the signer list.
func (m *Message) IsSigner(addr crypto.Address) bool {
	for _, signer := range m.Signers {
		if signer == addr {
			return true
		}
	}
	return false
}

// Transaction is a message plus one signature per listed signer.
type Transaction struct {
	Message    Message         `json:"message"`
	Signatures []hexutil.Bytes `json:"signatures"`
}

// NewTransaction wraps a message ready for signing.
func NewTransaction(msg *Message) *Transaction {
	tx := &Transaction{Message: *msg}
	tx.Signatures = make([]hexutil.Bytes, len(msg.Signers))
	return tx
}

// Hash is the hash of the signed message; signatures are not covered.
func (tx *Transaction) Hash() ([32]byte, error) {
	return tx.Message.Hash()
}

// Sign places each key's signature in the slot of its signer. Keys not
// listed as signers are rejected.
func (tx *Transaction) Sign(keys ...*crypto.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	if len(tx.Signatures) != len(tx.Message.Signers) {
		tx.Signatures = make([]hexutil.Bytes, len(tx.Message.Signers))
	}
	for _, key := range keys {
		addr := key.Address()
		slot := -1
		for i, signer := range tx.Message.Signers {
			if signer == addr {
				slot = i
				break
			}
		}
		if slot < 0 {
			return fmt.Errorf("%w: %s", ErrUnexpectedSigner, addr)
		}
		sig, err := key.Sign(hash[:])
		if err != nil {
			return err
		}
		tx.Signatures[slot] = sig
	}
	return nil
}

// VerifySignatures checks that every listed signer produced a valid signature.
func (tx *Transaction) VerifySignatures() error {
	if err := tx.Message.Validate(); err != nil {
		return err
	}
	if len(tx.Signatures) != len(tx.Message.Signers) {
		return ErrSignatureCount
	}
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	for i, signer := range tx.Message.Signers {
		if err := crypto.Verify(signer, hash[:], tx.Signatures[i]); err != nil {
			return fmt.Errorf("signer %d (%s): %w", i, signer, err)
		}
	}
	return nil
}

// Encode returns the RLP wire form.
func (tx *Transaction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// DecodeTransaction parses the RLP wire form.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := rlp.DecodeBytes(raw, tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}
