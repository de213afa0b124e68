package modbus

import "errors"

// Domain errors for the Modbus bridge package.
var (
	// ErrNotConnected is returned when a read or write is attempted
	// without an open connection.
	ErrNotConnected = errors.New("modbus: not connected")

	// ErrConnectionFailed is returned when the TCP connection to the PLC
	// cannot be established.
	ErrConnectionFailed = errors.New("modbus: connection failed")

	// ErrReadFailed is returned when a holding register read fails.
	ErrReadFailed = errors.New("modbus: read failed")

	// ErrWriteFailed is returned when a single register write fails.
	ErrWriteFailed = errors.New("modbus: write failed")

	// ErrUnknownDevice is returned for a bay id not in the register map.
	ErrUnknownDevice = errors.New("modbus: unknown device")

	// ErrShortRead is returned when the PLC answers with fewer registers
	// than requested.
	ErrShortRead = errors.New("modbus: short read")
)
