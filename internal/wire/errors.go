package wire

import "errors"

var (
	ErrShortPayload     = errors.New("wire: payload shorter than declared")
	ErrCountMismatch    = errors.New("wire: invalid record count")
	ErrTooManyRecords   = errors.New("wire: too many records for one batch")
	ErrMalformedTrailer = errors.New("wire: malformed trailer")
)
