// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package permission normalizes the answers of the platform permission substrate for the
// fine, coarse and background location permissions into one canonical Result.
package permission

import (
	"context"
	"fmt"
)

// Kind is one of the location permissions known to the platform.
type Kind int

const (
	Fine Kind = iota
	Coarse
	Background
)

func (k Kind) String() string {
	switch k {
	case Fine:
		return "ACCESS_FINE_LOCATION"
	case Coarse:
		return "ACCESS_COARSE_LOCATION"
	case Background:
		return "ACCESS_BACKGROUND_LOCATION"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses the short names used in configuration and client commands.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "fine":
		return Fine, nil
	case "coarse":
		return Coarse, nil
	case "background":
		return Background, nil
	default:
		return 0, fmt.Errorf("unknown permission kind: %q", name)
	}
}

// Status is the state of a permission.
type Status string

const (
	StatusGranted      Status = "granted"
	StatusDenied       Status = "denied"
	StatusUndetermined Status = "undetermined"
)

// ParseStatus parses a Status from its string form.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusGranted, StatusDenied, StatusUndetermined:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown permission status: %q", s)
	}
}

// Accuracy is the location accuracy a foreground grant allows.
type Accuracy string

const (
	AccuracyFine   Accuracy = "fine"
	AccuracyCoarse Accuracy = "coarse"
	AccuracyNone   Accuracy = "none"
)

// ExpiresNever is the only expiry policy location permissions have.
const ExpiresNever = "never"

// Response is the substrate's answer for a single permission.
type Response struct {
	Status      Status
	CanAskAgain bool
}

// Responses holds the substrate's answers keyed by permission kind.
type Responses map[Kind]Response

// Get returns the response for kind. A missing answer counts as a denial that still allows
// asking again.
func (r Responses) Get(kind Kind) Response {
	if resp, ok := r[kind]; ok {
		return resp
	}
	return Response{Status: StatusDenied, CanAskAgain: true}
}

// Result is the canonical permission result handed to clients.
type Result struct {
	Status      Status   `json:"status"`
	CanAskAgain bool     `json:"canAskAgain"`
	Expires     string   `json:"expires"`
	Granted     bool     `json:"granted"`
	Accuracy    Accuracy `json:"accuracy,omitempty"`
}

// Legacy is the combined answer of the deprecated single round-trip permission call.
type Legacy struct {
	Foreground Result `json:"foreground"`
	Background Result `json:"background"`
}

// Substrate is the platform permission service.
type Substrate interface {
	// Query returns the current state of the given permissions without prompting.
	Query(ctx context.Context, kinds ...Kind) (Responses, error)
	// Request prompts for the given permissions and returns the user's answers.
	Request(ctx context.Context, kinds ...Kind) (Responses, error)
	// IsDeclared reports whether the permission is declared in the application configuration.
	IsDeclared(kind Kind) bool
	// IsGranted reports whether the permission is currently granted. It must not block.
	IsGranted(kind Kind) bool
}

// foregroundResult resolves the fine and coarse answers into one Result.
func foregroundResult(responses Responses) Result {
	fine := responses.Get(Fine)
	coarse := responses.Get(Coarse)

	result := Result{
		Status:      StatusUndetermined,
		CanAskAgain: fine.CanAskAgain && coarse.CanAskAgain,
		Expires:     ExpiresNever,
		Accuracy:    AccuracyNone,
	}
	switch {
	case fine.Status == StatusGranted:
		result.Status = StatusGranted
		result.Accuracy = AccuracyFine
	case coarse.Status == StatusGranted:
		result.Status = StatusGranted
		result.Accuracy = AccuracyCoarse
	case fine.Status == StatusDenied && coarse.Status == StatusDenied:
		result.Status = StatusDenied
	}
	result.Granted = result.Status == StatusGranted
	return result
}

// backgroundResult turns the background answer into a Result.
func backgroundResult(responses Responses) Result {
	bg := responses.Get(Background)
	return Result{
		Status:      bg.Status,
		CanAskAgain: bg.CanAskAgain,
		Expires:     ExpiresNever,
		Granted:     bg.Status == StatusGranted,
	}
}
