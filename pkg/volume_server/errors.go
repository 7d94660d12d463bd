package volume_server

import (
	"errors"
	"fmt"
)

var (
	ErrNoWritableVolume = errors.New("no writable volume")
	ErrUnknownVolume    = errors.New("unknown volume")
	ErrNotFound         = errors.New("file not found")
	ErrReadOnlyVolume   = errors.New("volume is read-only")
	ErrCorrupt          = errors.New("file content does not match its id")
)

// IOError is a filesystem failure on a specific path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
