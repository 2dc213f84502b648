package transfer

import (
	"errors"
	"fmt"
)

// Validation errors, returned synchronously before any copying starts.
var (
	ErrEmptySource      = errors.New("no source image given")
	ErrEmptyTarget      = errors.New("no target drive selected")
	ErrSourceUnreadable = errors.New("source image is not readable")
	ErrTargetTooSmall   = errors.New("target drive is smaller than the image")
	ErrSourceIsTarget   = errors.New("source image is the file that would be overwritten")
)

// ErrBusy is returned by Start while another transfer is running.
var ErrBusy = errors.New("a transfer is already running")

// Kinds of TransferError.
var (
	ErrOpen      = errors.New("open failed")
	ErrRead      = errors.New("read failed")
	ErrWrite     = errors.New("write failed")
	ErrCancelled = errors.New("cancelled")
)

// TransferError is how a running transfer fails. Kind is one of ErrOpen,
// ErrRead, ErrWrite or ErrCancelled and can be matched with errors.Is.
type TransferError struct {
	Kind error
	Err  error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func (e *TransferError) Is(target error) bool {
	return target == e.Kind
}
