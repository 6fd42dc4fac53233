package entity

// GameInfo is the catalog-level configuration refreshed on every poll cycle.
type GameInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	UGCName     string `json:"ugc_name"`
	DateUpdated int64  `json:"date_updated"`
}

// Manifest is the process-wide durable checkpoint. Exactly one instance
// exists; it is persisted after every successful mutation.
type Manifest struct {
	LastPoll   int64      `json:"last_poll"`
	Unresolved []ModEvent `json:"unresolved_events"`
	Game       GameInfo   `json:"game"`
}

// Track adds the batch to the unresolved set, skipping events already
// tracked. A redelivered window must not double-track its events.
func (m *Manifest) Track(batch []ModEvent) {
	known := make(map[int64]struct{}, len(m.Unresolved))
	for _, event := range m.Unresolved {
		known[event.ID] = struct{}{}
	}

	for _, event := range batch {
		if _, exists := known[event.ID]; !exists {
			m.Unresolved = append(m.Unresolved, event)
		}
	}
}

func (m *Manifest) Clone() *Manifest {
	next := *m
	next.Unresolved = make([]ModEvent, len(m.Unresolved))
	copy(next.Unresolved, m.Unresolved)

	return &next
}
