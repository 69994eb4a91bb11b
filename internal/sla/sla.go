// Package sla computes service-level deadlines and classifications for
// signals. All arithmetic uses absolute instants: deadlines never shift
// across daylight-saving transitions. The package is pure and keeps no
// state; overdue-ness is derived at read time, never stored.
package sla

import (
	"sort"
	"time"
)

const (
	// TTAWindow is how long a new signal may stay unacknowledged.
	TTAWindow = 48 * time.Hour
	// ProcessWindow is how long a confirmed signal may stay unresolved.
	ProcessWindow = 5 * 24 * time.Hour
	// WarningWindow is the remaining time under which a deadline is flagged.
	WarningWindow = 12 * time.Hour
)

// Status classifies a deadline against a point in time.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusOverdue Status = "overdue"
)

// TTADeadline is the instant by which a new signal must be acknowledged.
func TTADeadline(createdAt time.Time) time.Time {
	return createdAt.Add(TTAWindow)
}

// ProcessDeadline is the instant by which a confirmed signal must be resolved.
func ProcessDeadline(confirmedAt time.Time) time.Time {
	return confirmedAt.Add(ProcessWindow)
}

// Classify evaluates a deadline against now.
func Classify(deadline, now time.Time) Status {
	remaining := deadline.Sub(now)
	switch {
	case remaining < 0:
		return StatusOverdue
	case remaining <= WarningWindow:
		return StatusWarning
	default:
		return StatusOK
	}
}

// Resolution is one closed signal inside a reporting window.
type Resolution struct {
	CreatedAt   time.Time
	ConfirmedAt time.Time
	ResolvedAt  time.Time
}

// TTRMedianDays is the median time-to-resolution in days over a window.
// Returns 0 for an empty window.
func TTRMedianDays(resolutions []Resolution) float64 {
	if len(resolutions) == 0 {
		return 0
	}
	days := make([]float64, 0, len(resolutions))
	for _, r := range resolutions {
		days = append(days, r.ResolvedAt.Sub(r.CreatedAt).Hours()/24)
	}
	sort.Float64s(days)
	mid := len(days) / 2
	if len(days)%2 == 1 {
		return days[mid]
	}
	return (days[mid-1] + days[mid]) / 2
}

// TTAWithin48hPct is the share of signals acknowledged inside the TTA window.
func TTAWithin48hPct(resolutions []Resolution) float64 {
	if len(resolutions) == 0 {
		return 0
	}
	met := 0
	for _, r := range resolutions {
		if !r.ConfirmedAt.IsZero() && !r.ConfirmedAt.After(TTADeadline(r.CreatedAt)) {
			met++
		}
	}
	return float64(met) / float64(len(resolutions)) * 100
}

// ProcessWithin5dPct is the share of resolved signals that closed inside
// the process window. Signals never confirmed or never resolved are not
// eligible and do not count either way.
func ProcessWithin5dPct(resolutions []Resolution) float64 {
	met, eligible := 0, 0
	for _, r := range resolutions {
		if r.ConfirmedAt.IsZero() || r.ResolvedAt.IsZero() {
			continue
		}
		eligible++
		if !r.ResolvedAt.After(ProcessDeadline(r.ConfirmedAt)) {
			met++
		}
	}
	if eligible == 0 {
		return 0
	}
	return float64(met) / float64(eligible) * 100
}
