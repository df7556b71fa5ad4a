// Package errors provides structured error handling for netstick operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeBusy          ErrorCode = "BUSY"

	// Command channel errors.
	CodeProtocol      ErrorCode = "PROTOCOL"
	CodePrecondition  ErrorCode = "PRECONDITION"
	CodeTransportSend ErrorCode = "TRANSPORT_SEND"

	// Network and scanning errors.
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeDiscoveryFailed    ErrorCode = "DISCOVERY_FAILED"
	CodeTargetInvalid      ErrorCode = "TARGET_INVALID"
	CodeEngineFatal        ErrorCode = "ENGINE_FATAL"

	// WiFi errors.
	CodeWiFiScan    ErrorCode = "WIFI_SCAN"
	CodeWiFiConnect ErrorCode = "WIFI_CONNECT"
)

// Peer-facing messages. These strings are part of the wire protocol.
const (
	MsgInvalidJSON       = "Invalid JSON"
	MsgMissingCmd        = "Missing 'cmd' field"
	MsgUnknownCommand    = "Unknown command"
	MsgMissingTarget     = "Missing 'target' IP"
	MsgInvalidTarget     = "Invalid 'target' IP"
	MsgMissingSSID       = "Missing 'ssid'"
	MsgInvalidPortRange  = "Invalid port range"
	MsgCommandTooLarge   = "Command too large"
	MsgWiFiNotConnected  = "WiFi not connected"
	MsgWiFiScanFailed    = "WiFi scan failed"
	MsgWiFiConnectFailed = "WiFi connection failed"
	MsgBusy              = "Busy"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DiscoveryError represents network discovery errors.
type DiscoveryError struct {
	Code    ErrorCode
	Message string
	Network string
	Method  string
	Cause   error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("[%s] %s (network: %s)", e.Code, e.Message, e.Network)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// NewDiscoveryError creates a new discovery error.
func NewDiscoveryError(code ErrorCode, message string) *DiscoveryError {
	return &DiscoveryError{
		Code:    code,
		Message: message,
	}
}

// WrapDiscoveryError wraps an existing error as a discovery error.
func WrapDiscoveryError(code ErrorCode, message string, err error) *DiscoveryError {
	return &DiscoveryError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// ProtocolError is an error surfaced to the connected peer as an
// {"type":"error"} message. Message is sent verbatim.
type ProtocolError struct {
	Code    ErrorCode
	Message string
	Command string
	Field   string
	Cause   error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("[%s] %s (cmd: %s)", e.Code, e.Message, e.Command)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates an error for malformed or oversized input.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{
		Code:    CodeProtocol,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates an error for a known command with a missing or
// invalid field.
func NewValidationError(command, field, message string) *ProtocolError {
	return &ProtocolError{
		Code:    CodeValidation,
		Message: message,
		Command: command,
		Field:   field,
	}
}

// NewPreconditionError creates an error for a command that cannot run in the
// current device state.
func NewPreconditionError(command, message string) *ProtocolError {
	return &ProtocolError{
		Code:    CodePrecondition,
		Message: message,
		Command: command,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	var discErr *DiscoveryError
	var protoErr *ProtocolError
	var cfgErr *ConfigError

	switch {
	case errors.As(err, &protoErr):
		return protoErr.Code
	case errors.As(err, &scanErr):
		return scanErr.Code
	case errors.As(err, &discErr):
		return discErr.Code
	case errors.As(err, &cfgErr):
		return cfgErr.Code
	}
	return CodeUnknown
}

// PeerMessage returns the text that should be sent to the peer for err.
// Errors that are not ProtocolErrors fall back to their Error() text.
func PeerMessage(err error) string {
	if err == nil {
		return ""
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Message
	}
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Message
	}
	var discErr *DiscoveryError
	if errors.As(err, &discErr) {
		return discErr.Message
	}
	return err.Error()
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeNetworkUnreachable, CodeBusy:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrScanCanceled creates an error for a scan stopped by the cancellation flag.
func ErrScanCanceled(target string) *ScanError {
	return NewScanErrorWithTarget(CodeCanceled, "Scan canceled", target)
}

// ErrDiscoveryFailed creates an error for discovery failures.
func ErrDiscoveryFailed(network string, err error) *DiscoveryError {
	e := WrapDiscoveryError(CodeDiscoveryFailed, "Network discovery failed", err)
	e.Network = network
	return e
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
