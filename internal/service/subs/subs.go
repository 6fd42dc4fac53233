package subs

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jgivc/modmirror/internal/common"
	"github.com/jgivc/modmirror/internal/entity"
	"github.com/jgivc/modmirror/internal/notify"
)

const (
	serviceName = "subs"
)

type SessionStore interface {
	Session() *entity.Session
	SetSession(session *entity.Session) error
}

// Synchronizer reconciles the server's authoritative subscription list with
// the cached one. The new set is persisted before any notification fires, so
// listeners always observe committed state.
type Synchronizer struct {
	store SessionStore
	hub   *notify.Hub
	log   *slog.Logger
}

func NewSynchronizer(store SessionStore, hub *notify.Hub, log *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store: store,
		hub:   hub,
		log:   log.With(slog.String("service", serviceName)),
	}
}

func (s *Synchronizer) Apply(remoteIDs []int64) error {
	session := s.store.Session()
	if session == nil {
		return common.ErrNotLoggedIn
	}

	previous := make(map[int64]struct{}, len(session.SubscribedIDs))
	for _, id := range session.SubscribedIDs {
		previous[id] = struct{}{}
	}

	var added []int64
	next := make([]int64, 0, len(remoteIDs))
	for _, id := range remoteIDs {
		next = append(next, id)

		if _, exists := previous[id]; exists {
			delete(previous, id)
		} else {
			added = append(added, id)
		}
	}

	removed := make([]int64, 0, len(previous))
	for id := range previous {
		removed = append(removed, id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	updated := session.Clone()
	updated.SubscribedIDs = next
	if err := s.store.SetSession(updated); err != nil {
		return fmt.Errorf("cannot persist subscriptions: %w", err)
	}

	s.log.Info("Subscriptions synchronized",
		slog.Int("added", len(added)), slog.Int("removed", len(removed)))

	for _, id := range added {
		s.hub.SubscriptionAdded.Emit(id)
	}
	for _, id := range removed {
		s.hub.SubscriptionRemoved.Emit(id)
	}

	return nil
}
