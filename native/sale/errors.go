package sale

import (
	"errors"
	"fmt"
)

// Error is a sale program failure with a stable numeric code. The set of
// values is closed; compare with errors.Is against the exported sentinels.
type Error struct {
	Code uint32
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

var (
	ErrUnauthorized        = &Error{Code: 6000, Name: "Unauthorized", Msg: "You are not authorized to update the price."}
	ErrOverflow            = &Error{Code: 6001, Name: "Overflow", Msg: "Overflow occurred while calculating SOL cost."}
	ErrInvalidATA          = &Error{Code: 6002, Name: "InvalidATA", Msg: "Associated Token Account does not match expected address."}
	ErrInvalidMint         = &Error{Code: 6003, Name: "InvalidMint", Msg: "SPL Token mint does not match expected mint."}
	ErrInvalidAuthority    = &Error{Code: 6004, Name: "InvalidAuthority", Msg: "Seller SPL token account is not owned by PDA authority."}
	ErrInvalidAmount       = &Error{Code: 6005, Name: "InvalidAmount", Msg: "Invalid token amount specified."}
	ErrInvalidSolRecipient = &Error{Code: 6006, Name: "InvalidSolRecipient", Msg: "SOL recipient does not match configuration."}
	ErrSalePaused          = &Error{Code: 6007, Name: "SalePaused", Msg: "Token sale is currently paused."}
)

var programErrors = []*Error{
	ErrUnauthorized,
	ErrOverflow,
	ErrInvalidATA,
	ErrInvalidMint,
	ErrInvalidAuthority,
	ErrInvalidAmount,
	ErrInvalidSolRecipient,
	ErrSalePaused,
}

// Errors lists every program error in code order.
func Errors() []*Error {
	out := make([]*Error, len(programErrors))
	copy(out, programErrors)
	return out
}

// ErrorByCode looks up a program error by its numeric code.
func ErrorByCode(code uint32) (*Error, bool) {
	for _, e := range programErrors {
		if e.Code == code {
			return e, true
		}
	}
	return nil, false
}

// AsError extracts the program error from a wrapped chain, if any.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Structural failures: the accounts presented do not describe a sale at all.
var (
	ErrInvalidInstruction     = errors.New("sale: invalid instruction")
	ErrNotEnoughAccounts      = errors.New("sale: not enough accounts")
	ErrInvalidConfigData      = errors.New("sale: invalid config data")
	ErrConfigAddress          = errors.New("sale: config account is not at the derived address")
	ErrConfigNotOwned         = errors.New("sale: config account not owned by the sale program")
	ErrAuthorityMismatch      = errors.New("sale: authority account is not the derived authority")
	ErrCustodyNotTokenAccount = errors.New("sale: custody account is not a token account")
)
