// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package locerr defines the client-visible failures of the location service. Every failure
// carries a stable machine-readable code and a human-readable message.
package locerr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable reason code.
type Code string

const (
	CodeUnauthorized           Code = "E_LOCATION_UNAUTHORIZED"
	CodeBackgroundUnauthorized Code = "E_LOCATION_BACKGROUND_UNAUTHORIZED"
	CodeManifestMissing        Code = "ERR_NO_PERMISSIONS"
	CodeModuleUnavailable      Code = "E_MODULE_UNAVAILABLE"
	CodeSubstrate              Code = "E_TASK_SUBSTRATE"
	CodeSettingsUnsatisfied    Code = "E_LOCATION_SETTINGS_UNSATISFIED"
	CodeWatchExists            Code = "E_WATCH_EXISTS"
	CodeInvalidArgument        Code = "E_INVALID_ARGUMENT"
	CodeLocationUnavailable    Code = "E_LOCATION_UNAVAILABLE"
	CodeServicesDisabled       Code = "E_LOCATION_SERVICES_DISABLED"
)

// Error is a location service failure.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

// Sentinels for errors.Is comparisons. Matching is done by code, so errors created with
// additional context still match.
var (
	ErrUnauthorized = &Error{
		Code:    CodeUnauthorized,
		Message: "Not authorized to use location services",
	}
	ErrBackgroundUnauthorized = &Error{
		Code:    CodeBackgroundUnauthorized,
		Message: "Not authorized to use background location services",
	}
	ErrManifestMissing = &Error{
		Code:    CodeManifestMissing,
		Message: "The background location capability is not declared in the application configuration",
	}
	ErrModuleUnavailable = &Error{Code: CodeModuleUnavailable, Message: "A required module is not available"}
	ErrSubstrate         = &Error{Code: CodeSubstrate, Message: "The task substrate failed"}
	ErrSettingsUnsatisfied = &Error{
		Code:    CodeSettingsUnsatisfied,
		Message: "Location request failed due to unsatisfied device settings",
	}
	ErrWatchExists     = &Error{Code: CodeWatchExists, Message: "A watch with this id is already active"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "Invalid argument"}
	ErrLocationUnavailable = &Error{
		Code:    CodeLocationUnavailable,
		Message: "Location provider is unavailable",
	}
	ErrServicesDisabled = &Error{
		Code:    CodeServicesDisabled,
		Message: "Location services are disabled",
	}
)

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s", msg, e.Code, e.Err)
	}
	return fmt.Sprintf("%s [%s]", msg, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithOp returns a copy of the sentinel e annotated with the failing operation.
func (e *Error) WithOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

// Unavailable reports a collaborator that has not been wired. The message names the
// missing capability.
func Unavailable(op, capability string) error {
	return &Error{
		Code:    CodeModuleUnavailable,
		Op:      op,
		Message: fmt.Sprintf("%s module is not available, check that it is configured", capability),
	}
}

// Substrate wraps an error returned by the task or permission substrate. The original error
// stays reachable through errors.Unwrap.
func Substrate(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    CodeSubstrate,
		Op:      op,
		Message: ErrSubstrate.Message,
		Err:     err,
	}
}

// ProviderFailure wraps an error returned by a location provider source.
func ProviderFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    CodeLocationUnavailable,
		Op:      op,
		Message: ErrLocationUnavailable.Message,
		Err:     err,
	}
}

// Invalid reports an invalid client argument.
func Invalid(op, reason string) error {
	return &Error{Code: CodeInvalidArgument, Op: op, Message: reason}
}

// CodeOf returns the code of err, or an empty Code if err is not a location service error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the human-readable message of err without the code suffix.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
