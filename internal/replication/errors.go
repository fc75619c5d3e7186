package replication

import "errors"

var (
	ErrUnknownObject = errors.New("replication: unknown object")
	ErrZeroID        = errors.New("replication: object id must be non-zero")
)
