package ratelimit

import (
	"fmt"
	"time"
)

// Plan is a billing tier. Unknown plans resolve to the most restrictive
// tier rather than to unlimited.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// Valid reports whether the plan is a known tier.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanPro:
		return true
	}
	return false
}

// Normalize maps unknown or empty plans to the free tier. Quota lookups go
// through this so a typo in a plan name can never grant unlimited access.
func (p Plan) Normalize() Plan {
	if p.Valid() {
		return p
	}
	return PlanFree
}

// OperationClass groups operations by cost for quota purposes.
type OperationClass string

const (
	// OpGeneration covers keyword batch generation, the most expensive
	// upstream call.
	OpGeneration OperationClass = "generation"
	// OpEnrichment covers live difficulty verification against search
	// results.
	OpEnrichment OperationClass = "enrichment"
	// OpRead covers cheap user-scoped lookups such as quota usage.
	OpRead OperationClass = "read"
)

// Valid reports whether the operation class is known.
func (o OperationClass) Valid() bool {
	switch o {
	case OpGeneration, OpEnrichment, OpRead:
		return true
	}
	return false
}

// Window is a fixed quota window length.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Windows lists all windows in ascending length. A request must pass every
// window that carries a limit for its plan and operation class.
func Windows() []Window {
	return []Window{WindowMinute, WindowHour, WindowDay}
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

// Quota is the set of per-window limits for one (plan, operation class)
// pair. A window absent from the map is unconstrained.
type Quota map[Window]int

// QuotaTable maps plan and operation class to limits. It is configuration,
// not branching logic, so operators can retune tiers without code changes.
type QuotaTable map[Plan]map[OperationClass]Quota

// For resolves the quota for a plan and operation class, normalizing
// unknown plans down to free.
func (t QuotaTable) For(plan Plan, op OperationClass) Quota {
	byOp, ok := t[plan.Normalize()]
	if !ok {
		byOp = t[PlanFree]
	}
	return byOp[op]
}

// Validate checks that every limit in the table is positive.
func (t QuotaTable) Validate() error {
	if len(t[PlanFree]) == 0 {
		return fmt.Errorf("quota table must define the free tier, it is the fail-closed fallback")
	}
	for plan, byOp := range t {
		for op, quota := range byOp {
			for window, limit := range quota {
				if limit <= 0 {
					return fmt.Errorf("quota %s/%s/%s: limit must be positive, got %d", plan, op, window, limit)
				}
				if window.Duration() == 0 {
					return fmt.Errorf("quota %s/%s: unknown window %q", plan, op, window)
				}
			}
		}
	}
	return nil
}

// DefaultQuotaTable returns the stock tier limits.
func DefaultQuotaTable() QuotaTable {
	return QuotaTable{
		PlanFree: {
			OpGeneration: {WindowMinute: 5, WindowHour: 50, WindowDay: 200},
			OpEnrichment: {WindowMinute: 10, WindowHour: 100, WindowDay: 400},
			OpRead:       {WindowMinute: 60, WindowHour: 1000},
		},
		PlanStarter: {
			OpGeneration: {WindowMinute: 15, WindowHour: 300, WindowDay: 2000},
			OpEnrichment: {WindowMinute: 30, WindowHour: 600, WindowDay: 4000},
			OpRead:       {WindowMinute: 120, WindowHour: 5000},
		},
		PlanPro: {
			OpGeneration: {WindowMinute: 60, WindowHour: 1500, WindowDay: 10000},
			OpEnrichment: {WindowMinute: 120, WindowHour: 3000, WindowDay: 20000},
			OpRead:       {WindowMinute: 300, WindowHour: 20000},
		},
	}
}
