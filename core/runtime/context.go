package runtime

import (
	"bytes"
	"context"
	"fmt"

	"salechain/core/events"
	"salechain/core/types"
	"salechain/crypto"
)

// InvokeContext is the view a program gets of the transaction while one of
// its instructions executes. Access is limited to the accounts the
// instruction lists, with the privileges the caller granted.
type InvokeContext struct {
	ctx      context.Context
	exec     *execution
	program  crypto.Address
	accounts map[crypto.Address]types.AccountMeta
	depth    int
}

// Context returns the request context of the transaction.
func (c *InvokeContext) Context() context.Context { return c.ctx }

// ProgramID returns the program currently executing.
func (c *InvokeContext) ProgramID() crypto.Address { return c.program }

// Depth returns the invocation depth, zero for top-level instructions.
func (c *InvokeContext) Depth() int { return c.depth }

// Rent returns the active rent schedule.
func (c *InvokeContext) Rent() Rent { return c.exec.rt.rent }

// MinimumBalance is shorthand for Rent().MinimumBalance.
func (c *InvokeContext) MinimumBalance(space uint64) uint64 {
	return c.exec.rt.rent.MinimumBalance(space)
}

// Account returns a copy of a listed account.
func (c *InvokeContext) Account(addr crypto.Address) (*types.Account, error) {
	if _, ok := c.accounts[addr]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotListed, addr)
	}
	return c.exec.overlay.Account(addr)
}

// IsSigner reports whether addr signed, either in the transaction or by
// derivation proof from the calling program.
func (c *InvokeContext) IsSigner(addr crypto.Address) bool {
	meta, ok := c.accounts[addr]
	return ok && meta.Signer
}

// IsWritable reports whether the instruction may modify addr.
func (c *InvokeContext) IsWritable(addr crypto.Address) bool {
	meta, ok := c.accounts[addr]
	return ok && meta.Writable
}

// SetAccount stores a new value for a listed writable account. Only the
// owning program may change data, owner or executable, or reduce lamports;
// any program may credit lamports.
func (c *InvokeContext) SetAccount(addr crypto.Address, next *types.Account) error {
	meta, ok := c.accounts[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotListed, addr)
	}
	if !meta.Writable {
		return fmt.Errorf("%w: %s", ErrReadonlyAccount, addr)
	}
	current, err := c.exec.overlay.Account(addr)
	if err != nil {
		return err
	}
	if current.Executable {
		return fmt.Errorf("%w: %s", ErrExecutableModified, addr)
	}
	if current.Owner != c.program {
		if next.Owner != current.Owner {
			return fmt.Errorf("%w: %s", ErrOwnerChangeForbidden, addr)
		}
		if next.Executable != current.Executable || !bytes.Equal(next.Data, current.Data) {
			return fmt.Errorf("%w: %s", ErrExternalDataModified, addr)
		}
		if next.Lamports < current.Lamports {
			return fmt.Errorf("%w: %s", ErrExternalLamportDebit, addr)
		}
	}
	c.exec.overlay.SetAccount(addr, next)
	return nil
}

// Log appends a line to the transaction log.
func (c *InvokeContext) Log(format string, args ...any) {
	c.exec.logs = append(c.exec.logs, fmt.Sprintf("program %s: %s", c.program, fmt.Sprintf(format, args...)))
}

// Emit records an event, delivered only if the transaction commits.
func (c *InvokeContext) Emit(evt events.Event) {
	if flat := events.Flatten(evt); flat != nil {
		c.exec.events = append(c.exec.events, flat)
	}
}

// Invoke calls another program with a subset of this instruction's privileges.
func (c *InvokeContext) Invoke(ix types.Instruction) error {
	return c.InvokeSigned(ix)
}

// InvokeSigned calls another program. Each seed set must derive, together
// with the calling program's ID, an address the callee sees as a signer.
// All writes made by the callee are reverted if it fails.
func (c *InvokeContext) InvokeSigned(ix types.Instruction, signerSeeds ...[][]byte) error {
	if c.depth+1 > MaxInvokeDepth {
		return ErrInvokeDepthExceeded
	}
	derived := make(map[crypto.Address]struct{}, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := crypto.CreateProgramAddress(c.program, seeds...)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignerSeeds, err)
		}
		derived[addr] = struct{}{}
	}
	granted := make(map[crypto.Address]types.AccountMeta, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		parent, ok := c.accounts[meta.Address]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotListed, meta.Address)
		}
		if meta.Writable && !parent.Writable {
			return fmt.Errorf("%w: %s not writable", ErrPrivilegeEscalation, meta.Address)
		}
		if meta.Signer && !parent.Signer {
			if _, ok := derived[meta.Address]; !ok {
				return fmt.Errorf("%w: %s", ErrMissingSignature, meta.Address)
			}
		}
		merged := granted[meta.Address]
		merged.Address = meta.Address
		merged.Signer = merged.Signer || meta.Signer
		merged.Writable = merged.Writable || meta.Writable
		granted[meta.Address] = merged
	}
	program, ok := c.exec.rt.program(ix.ProgramID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramID)
	}
	child := &InvokeContext{
		ctx:      c.ctx,
		exec:     c.exec,
		program:  ix.ProgramID,
		accounts: granted,
		depth:    c.depth + 1,
	}
	snapshot := c.exec.overlay.Snapshot()
	eventCount := len(c.exec.events)
	if err := c.exec.run(child, program, ix); err != nil {
		c.exec.overlay.RevertToSnapshot(snapshot)
		c.exec.events = c.exec.events[:eventCount]
		return err
	}
	return nil
}
