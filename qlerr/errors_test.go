package qlerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferError(t *testing.T) {
	err := fmt.Errorf("send: %w", &TransferError{Chunk: 3, Status: "short write", Err: io.ErrShortWrite})

	assert.True(t, errors.Is(err, ErrTransferFailed))
	assert.True(t, errors.Is(err, io.ErrShortWrite))
	assert.Contains(t, err.Error(), "chunk 3")

	var te *TransferError
	if assert.True(t, errors.As(err, &te)) {
		assert.Equal(t, 3, te.Chunk)
	}
}

func TestTransferErrorWithoutCause(t *testing.T) {
	err := &TransferError{Chunk: 0, Status: "stall"}
	assert.True(t, errors.Is(err, ErrTransferFailed))
	assert.False(t, errors.Is(err, ErrRenderingFailed))
}
