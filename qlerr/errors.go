// Package qlerr defines the errors shared by the label printing packages.
package qlerr

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceOpenFailed     = errors.New("device open failed")
	ErrInterfaceClaimFailed = errors.New("interface claim failed")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrStatusUnavailable    = errors.New("status unavailable")
	ErrUnsupportedMedia     = errors.New("unsupported media")
	ErrRenderingFailed      = errors.New("rendering failed")
	ErrSettingsInvalid      = errors.New("settings invalid")

	// ErrSessionBusy is returned when a second job is started while one is in flight.
	ErrSessionBusy = errors.New("session busy")
	// ErrSessionFailed is returned for any operation but disconnect in the Error state.
	ErrSessionFailed = errors.New("session in error state, disconnect required")
)

// TransferError reports the first chunk of a stream that the device did not accept.
type TransferError struct {
	Chunk  int
	Status string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed at chunk %d: %s", e.Chunk, e.Status)
}

func (e *TransferError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransferFailed}
	}
	return []error{ErrTransferFailed, e.Err}
}
