package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/baremetal-go/satafs/errors"
	"github.com/stretchr/testify/assert"
)

func TestStorageErrorWithMessage(t *testing.T) {
	newErr := errors.ErrDeviceFault.WithMessage("TFD=0x51")
	assert.Equal(
		t, "Device reported an error: TFD=0x51", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, errors.ErrDeviceFault)
}

func TestStorageErrorWrap(t *testing.T) {
	originalErr := stderrors.New("original error")
	newErr := errors.ErrExists.WrapError(originalErr)
	expectedMessage := "File exists: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, errors.ErrExists, "sentinel not set as parent")
}

func TestWithMessageChaining(t *testing.T) {
	err := errors.ErrCommandTimeout.WithMessage("port 0").WithMessage("slot 0")
	assert.ErrorIs(t, err, errors.ErrCommandTimeout)
	assert.Equal(t, "Command timed out: port 0: slot 0", err.Error())
}
