package deocean

import "errors"

// Domain errors for the Deocean bridge package.
var (
	// ErrInvalidAddress is returned when a device address cannot be normalised.
	ErrInvalidAddress = errors.New("deocean: invalid device address")

	// ErrInvalidDeviceType is returned when a device type is neither light nor cover.
	ErrInvalidDeviceType = errors.New("deocean: invalid device type")

	// ErrInvalidFrame is returned when a frame carries a nonsensical
	// combination of fields and cannot be encoded.
	ErrInvalidFrame = errors.New("deocean: invalid frame")

	// ErrUnknownControlCode is returned when a received frame carries a
	// control code outside the known set.
	ErrUnknownControlCode = errors.New("deocean: unknown control code")

	// ErrUnsupportedOperation is returned when a command does not apply to
	// the device type (e.g. setting the position of a light).
	ErrUnsupportedOperation = errors.New("deocean: unsupported operation")

	// ErrMissingPosition is returned when a position command has no position.
	ErrMissingPosition = errors.New("deocean: position required")

	// ErrNotRegistered is returned when a command is issued on a device that
	// does not belong to a registry.
	ErrNotRegistered = errors.New("deocean: device not registered")

	// ErrInvalidChannel is returned when a scene channel is outside 1-255.
	ErrInvalidChannel = errors.New("deocean: invalid scene channel")

	// ErrActionNotCallable is returned when a scene is registered without an action.
	ErrActionNotCallable = errors.New("deocean: scene action not callable")

	// ErrDuplicateScene is returned when a scene id is already registered
	// and the caller did not force the overwrite.
	ErrDuplicateScene = errors.New("deocean: duplicate scene")

	// ErrNotConnected is returned when an operation requires an open gateway session.
	ErrNotConnected = errors.New("deocean: not connected to gateway")

	// ErrConnectionFailed is returned when the gateway socket cannot be opened.
	ErrConnectionFailed = errors.New("deocean: connection to gateway failed")

	// ErrSceneQueueFull is logged when a triggered scene is dropped.
	ErrSceneQueueFull = errors.New("deocean: scene queue full")

	// ErrSendFailed is returned when a frame could not be written after all retries.
	ErrSendFailed = errors.New("deocean: send failed")
)
