package entity

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Session is the current authenticated identity. A nil Session means logged
// out; deleting its record from disk is the logout operation.
type Session struct {
	Token         string  `json:"token"`
	User          User    `json:"user"`
	SubscribedIDs []int64 `json:"subscribed_ids"`
}

func (s *Session) IsSubscribed(modID int64) bool {
	if s == nil {
		return false
	}

	for _, id := range s.SubscribedIDs {
		if id == modID {
			return true
		}
	}

	return false
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	next := *s
	next.SubscribedIDs = make([]int64, len(s.SubscribedIDs))
	copy(next.SubscribedIDs, s.SubscribedIDs)

	return &next
}
