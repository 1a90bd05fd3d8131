package lang

import "github.com/pkg/errors"

// Sentinel errors for the compile-error taxonomy (spec §7, classes 1-2) and
// the internal-invariant class (class 5). Callers match these with
// errors.Is even after a call site wraps them with errors.Wrap/Wrapf for
// context.
var (
	ErrUnknownWord       = errors.New("unknown word")
	ErrQuoteTooLarge     = errors.New("quotation too large")
	ErrAddressOutOfRange = errors.New("call address out of range")
	ErrEncoding          = errors.New("encoding error")
	ErrSyntax            = errors.New("syntax error")
)
