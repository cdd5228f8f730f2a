// Unified error handling for gcode-import
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// G-code parsing errors
	ErrGCodeUnknownCmd   ErrorCode = "GCODE_UNKNOWN_CMD"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"

	// Input stream errors
	ErrIOOpen ErrorCode = "IO_OPEN"
	ErrIORead ErrorCode = "IO_READ"

	// Model store errors
	ErrStore         ErrorCode = "STORE"
	ErrStoreNotFound ErrorCode = "STORE_NOT_FOUND"

	// Runtime errors
	ErrRuntime ErrorCode = "RUNTIME"
)

// HostError is the unified error type for the importer
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// File is the source file (if available)
	File string

	// Line is the 1-based line number in the source file (0 if unknown)
	Line int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.Code))
	sb.WriteString("] ")
	switch {
	case e.File != "" && e.Line > 0:
		fmt.Fprintf(&sb, "%s:%d: ", e.File, e.Line)
	case e.File != "":
		fmt.Fprintf(&sb, "%s: ", e.File)
	case e.Line > 0:
		fmt.Fprintf(&sb, "line %d: ", e.Line)
	}
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetFile sets the source file
func (e *HostError) SetFile(file string) *HostError {
	e.File = file
	return e
}

// SetLine sets the line number
func (e *HostError) SetLine(line int) *HostError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// G-code errors

// GCodeUnknownCommandError creates an error for unknown G-code command
func GCodeUnknownCommandError(command string) *HostError {
	return New(ErrGCodeUnknownCmd, fmt.Sprintf("unknown command: %s", command)).
		SetContext("mnemonic", command)
}

// GCodeInvalidParameterError creates an error for a parameter token whose
// value could not be used. The token is dropped by the caller.
func GCodeInvalidParameterError(token string, reason string) *HostError {
	return New(ErrGCodeInvalidParam, fmt.Sprintf("invalid parameter '%s' (%s)", token, reason)).
		SetContext("token", token)
}

// Input errors

// OpenError wraps a failure to acquire an input stream
func OpenError(path string, err error) *HostError {
	return Wrap(err, ErrIOOpen, "unable to open input").SetFile(path)
}

// ReadError wraps a failure while reading an input stream
func ReadError(path string, line int, err error) *HostError {
	return Wrap(err, ErrIORead, "read failed").SetFile(path).SetLine(line)
}

// Store errors

// StoreError wraps a model store failure
func StoreError(operation string, err error) *HostError {
	return Wrap(err, ErrStore, fmt.Sprintf("store %s failed", operation))
}

// NotFoundError creates an error for a missing stored model
func NotFoundError(id string) *HostError {
	return New(ErrStoreNotFound, fmt.Sprintf("model %s not found", id)).
		SetContext("id", id)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// FromPanic converts a value returned by recover() into a HostError.
// It returns nil when r is nil.
func FromPanic(r interface{}) *HostError {
	switch x := r.(type) {
	case nil:
		return nil
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	case runtime.Error:
		return RuntimeError(x.Error())
	case error:
		return RuntimeError(x.Error())
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if error matches given error code. Wrapped HostErrors are
// unwrapped with the standard error chain.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if hostErr, ok := err.(*HostError); ok && hostErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsGCode checks if error is a G-code error
func IsGCode(err error) bool {
	return Is(err, ErrGCodeUnknownCmd) ||
		Is(err, ErrGCodeInvalidParam)
}

// IsIO checks if error is an input stream error
func IsIO(err error) bool {
	return Is(err, ErrIOOpen) || Is(err, ErrIORead)
}

// IsNotFound checks if error reports a missing stored model
func IsNotFound(err error) bool {
	return Is(err, ErrStoreNotFound)
}
