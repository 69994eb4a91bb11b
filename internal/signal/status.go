package signal

import (
	"fmt"
	"strings"
)

// Status is a signal's lifecycle state. Values are the Bulgarian wire
// constants used by the portal since launch; they are storage format,
// not display text.
type Status string

const (
	StatusNovo       Status = "novo"       // new, awaiting triage
	StatusPotvurden  Status = "potvurden"  // confirmed by an operator
	StatusVProces    Status = "v_proces"   // work in progress
	StatusPopraven   Status = "popraven"   // resolved
	StatusArhiv      Status = "arhiv"      // archived, terminal
	StatusOtkhvurlen Status = "otkhvurlen" // rejected, terminal
)

// transitions is the complete edge table. Missing key or missing edge
// means the transition is illegal. There is no edge back into novo.
var transitions = map[Status][]Status{
	StatusNovo:      {StatusPotvurden, StatusOtkhvurlen},
	StatusPotvurden: {StatusVProces, StatusOtkhvurlen},
	StatusVProces:   {StatusPopraven, StatusOtkhvurlen},
	StatusPopraven:  {StatusArhiv, StatusVProces}, // reopen allowed
	// arhiv and otkhvurlen are terminal
}

var statusLabels = map[Status]string{
	StatusNovo:       "Нов",
	StatusPotvurden:  "Потвърден",
	StatusVProces:    "В процес на работа",
	StatusPopraven:   "Разрешен",
	StatusArhiv:      "Архивиран",
	StatusOtkhvurlen: "Отхвърлен",
}

// ParseStatus validates a wire-level status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := statusLabels[st]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransition reports whether from→to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Label returns the human-readable display name used in notifications.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}
