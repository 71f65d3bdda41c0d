package fleet

import "errors"

// Domain errors for the fleet package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, fleet.ErrCommandNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no status exists for a device.
	ErrDeviceNotFound = errors.New("fleet: device not found")

	// ErrCommandNotFound is returned when a command ID does not exist.
	ErrCommandNotFound = errors.New("fleet: command not found")

	// ErrCommandExists is returned when creating a command whose ID is taken.
	ErrCommandExists = errors.New("fleet: command already exists")

	// ErrInvalidCommand is returned when command validation fails.
	ErrInvalidCommand = errors.New("fleet: invalid command")

	// ErrInvalidReport is returned when a status report is malformed or
	// lacks a required field.
	ErrInvalidReport = errors.New("fleet: invalid status report")

	// ErrInvalidTransition is returned when a command is not pending and
	// therefore cannot be marked sent or failed.
	ErrInvalidTransition = errors.New("fleet: invalid status transition")
)
