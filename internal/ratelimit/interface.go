// Package ratelimit enforces per-plan usage quotas over fixed windows.
// Admission is check-and-increment in one atomic step per (user, operation
// class): there is no separate commit, so two racing requests can never
// both pass on the last slot of a window.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Remaining is the smallest per-window headroom after this request was
	// counted; 0 when denied.
	Remaining int `json:"remaining"`
	// ResetAt is when the binding window rolls over: the denying window
	// when Allowed is false, the tightest window otherwise.
	ResetAt time.Time `json:"reset_at"`
}

// WindowUsage reports consumption within one active window.
type WindowUsage struct {
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Usage maps operation class and window to current consumption.
type Usage map[OperationClass]map[Window]WindowUsage

// Limiter admits or rejects requests against plan quotas.
type Limiter interface {
	// Admit checks every applicable window and, if all pass, increments
	// them as part of the same call. A denial leaves every counter
	// untouched.
	Admit(ctx context.Context, userID string, plan Plan, op OperationClass) (Decision, error)

	// Usage returns current consumption for every operation class of the
	// plan without counting the call itself.
	Usage(ctx context.Context, userID string, plan Plan) (Usage, error)

	// Health reports whether the limiter's backend is reachable.
	Health(ctx context.Context) error
}
