package entity

import "fmt"

type EventKind int

const (
	EventModfileChanged EventKind = iota
	EventModAvailable
	EventModUnavailable
	EventModEdited
)

// String tolerates values outside the known range: kinds arrive from the
// server and a newer kind must not break decoding or logging.
func (k EventKind) String() string {
	names := [...]string{"ModfileChanged", "ModAvailable", "ModUnavailable", "ModEdited"}
	if k < 0 || int(k) >= len(names) {
		return fmt.Sprintf("EventKind(%d)", k)
	}

	return names[k]
}

// ModEvent is one server-reported change. Events are never mutated; they are
// held in the manifest's unresolved set until their effect has been committed.
type ModEvent struct {
	ID        int64     `json:"id"`
	ModID     int64     `json:"mod_id"`
	Kind      EventKind `json:"event_type"`
	DateAdded int64     `json:"date_added"`
}
