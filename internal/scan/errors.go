package scan

import "errors"

var (
	ErrInvalidMode  = errors.New("invalid scan mode")
	ErrInvalidRange = errors.New("invalid nonce range")
	ErrRangeTooWide = errors.New("nonce range too wide")
	ErrInvalidOp    = errors.New("invalid target operation")
)
