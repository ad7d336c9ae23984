package main

import (
	"errors"
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
)

func TestExitStatus(t *testing.T) {
	assert.Equal(t, 1, exitStatus(errors.New("plain")))
	assert.Equal(t, 3, exitStatus(flatdisk.ErrNotFound.WithMessage("/x")))
	assert.Equal(t, 5, exitStatus(flatdisk.ErrBusy))
	assert.Equal(t, 6, exitStatus(flatdisk.ErrNoSpaceOnDevice.WithMessage("full")))

	// Errors collected while unmounting keep their kind.
	combined := multierror.Append(nil, flatdisk.ErrFileSystemCorrupted.WithMessage("bad"))
	assert.Equal(t, 7, exitStatus(combined))
}
