package earn

import (
	"errors"
	"fmt"
)

// Error is a domain failure with the stable code the on-chain program reports.
type Error struct {
	Code int
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Msg)
}

// Program error codes, in declaration order starting at 6000.
var (
	ErrAlreadyClaimed         = &Error{Code: 6000, Name: "AlreadyClaimed", Msg: "Already claimed for user."}
	ErrExceedsMaxYield        = &Error{Code: 6001, Name: "ExceedsMaxYield", Msg: "Rewards exceed max yield."}
	ErrNotAuthorized          = &Error{Code: 6002, Name: "NotAuthorized", Msg: "Invalid signer."}
	ErrInvalidParam           = &Error{Code: 6003, Name: "InvalidParam", Msg: "Invalid parameter."}
	ErrAlreadyEarns           = &Error{Code: 6004, Name: "AlreadyEarns", Msg: "User is already an earner."}
	ErrNoActiveClaim          = &Error{Code: 6005, Name: "NoActiveClaim", Msg: "There is no active claim to complete."}
	ErrNotEarning             = &Error{Code: 6006, Name: "NotEarning", Msg: "User is not earning."}
	ErrRequiredAccountMissing = &Error{Code: 6007, Name: "RequiredAccountMissing", Msg: "An optional account is required in this case, but not provided."}
	ErrInvalidAccount         = &Error{Code: 6008, Name: "InvalidAccount", Msg: "Account does not match the expected key."}
	ErrNotActive              = &Error{Code: 6009, Name: "NotActive", Msg: "Account is not currently active."}
	ErrInvalidProof           = &Error{Code: 6010, Name: "InvalidProof", Msg: "Merkle proof verification failed."}
	ErrMutableOwner           = &Error{Code: 6011, Name: "MutableOwner", Msg: "Token account owner cannot be mutable."}
	ErrActive                 = &Error{Code: 6012, Name: "Active", Msg: "Account is currently active."}
	ErrMathOverflow           = &Error{Code: 6013, Name: "MathOverflow", Msg: "Math calculation overflow."}
	ErrNotInitialized         = &Error{Code: 6014, Name: "NotInitialized", Msg: "Global account is not initialized."}
)

var errorsByCode = func() map[int]*Error {
	all := []*Error{
		ErrAlreadyClaimed, ErrExceedsMaxYield, ErrNotAuthorized, ErrInvalidParam,
		ErrAlreadyEarns, ErrNoActiveClaim, ErrNotEarning, ErrRequiredAccountMissing,
		ErrInvalidAccount, ErrNotActive, ErrInvalidProof, ErrMutableOwner,
		ErrActive, ErrMathOverflow, ErrNotInitialized,
	}
	m := make(map[int]*Error, len(all))
	for _, e := range all {
		m[e.Code] = e
	}
	return m
}()

// ErrorByCode maps a program error code back to its domain error.
func ErrorByCode(code int) (*Error, bool) {
	e, ok := errorsByCode[code]
	return e, ok
}

// CodeOf returns the program error code carried by err, if any.
func CodeOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsDomainError reports whether err is a validation failure of the ledger
// rather than an infrastructure failure.
func IsDomainError(err error) bool {
	_, ok := CodeOf(err)
	return ok
}
