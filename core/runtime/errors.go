package runtime

import (
	"errors"
	"fmt"

	"salechain/crypto"
)

var (
	ErrUnknownProgram        = errors.New("runtime: unknown program")
	ErrDuplicateProgram      = errors.New("runtime: program already registered")
	ErrReplay                = errors.New("runtime: transaction already processed")
	ErrMissingSignature      = errors.New("runtime: missing required signature")
	ErrAccountNotListed      = errors.New("runtime: account not passed to instruction")
	ErrReadonlyAccount       = errors.New("runtime: account is not writable")
	ErrExternalDataModified  = errors.New("runtime: data modified by non-owner program")
	ErrExternalLamportDebit  = errors.New("runtime: lamports debited by non-owner program")
	ErrOwnerChangeForbidden  = errors.New("runtime: owner changed by non-owner program")
	ErrExecutableModified    = errors.New("runtime: executable account modified")
	ErrLamportsNotConserved  = errors.New("runtime: lamports not conserved across instruction")
	ErrInvokeDepthExceeded   = errors.New("runtime: cross-program invocation depth exceeded")
	ErrPrivilegeEscalation   = errors.New("runtime: cross-program invocation escalates privileges")
	ErrInvalidSignerSeeds    = errors.New("runtime: signer seeds do not derive a program address")
	ErrInstructionDataLength = errors.New("runtime: instruction data too short")
)

// InstructionError reports which top-level instruction failed. The whole
// transaction has been discarded when it is returned.
type InstructionError struct {
	Index   int
	Program crypto.Address
	Err     error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d (program %s): %v", e.Index, e.Program, e.Err)
}

func (e *InstructionError) Unwrap() error { return e.Err }
