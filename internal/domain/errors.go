package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDevice is returned when discovery finished without a confirmed device
	ErrNoDevice = errors.New("no device confirmed on the network")
	// ErrPortBusy is returned when a serial port is already held by another operation
	ErrPortBusy = errors.New("serial port is in use by another operation")
	// ErrSessionTerminal is returned when a finished upload session is transitioned again
	ErrSessionTerminal = errors.New("upload session already finished")
)

// ConnectivityError means a transport or HTTP probe failed
type ConnectivityError struct {
	Address string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity to %s: %v", e.Address, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IdentityMismatchError means a host answered but is not the expected firmware
type IdentityMismatchError struct {
	Address string
	Reason  string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("%s is not an ESP8266 device: %s", e.Address, e.Reason)
}

// ProtocolError means a serial read or write failed during provisioning
type ProtocolError struct {
	Port string
	Step string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("serial %s: %s: %v", e.Port, e.Step, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ToolchainError means the external compiler or uploader failed
type ToolchainError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolchainError) Error() string {
	msg := fmt.Sprintf("toolchain %q failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// TimeoutError means a stage ran past its budget
type TimeoutError struct {
	Stage  string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded its %s budget", e.Stage, e.Budget)
}

// ConfigurationError means a local input such as an asset file is missing or invalid
type ConfigurationError struct {
	What string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.What
	}
	return fmt.Sprintf("configuration: %s: %v", e.What, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsFatal reports whether an error must abort an orchestration run
func IsFatal(err error) bool {
	var te *ToolchainError
	return errors.As(err, &te)
}
