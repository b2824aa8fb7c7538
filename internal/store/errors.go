package store

import "errors"

var (
	ErrUnknownDriver       = errors.New("unknown database driver")
	ErrInvalidRange        = errors.New("range end must not precede start")
	ErrSnapshotUnsupported = errors.New("snapshots not supported for this database")
)
