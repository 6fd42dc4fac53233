package events

import (
	"context"
	"log/slog"

	"github.com/jgivc/modmirror/internal/entity"
	"github.com/jgivc/modmirror/internal/notify"
)

const (
	serviceName = "events"
)

type ModAPI interface {
	GetMod(ctx context.Context, id int64) (*entity.Mod, error)
}

type ModStore interface {
	GetMod(id int64) *entity.Mod
	PutMod(mod *entity.Mod) error
	RemoveMod(id int64) error
	Session() *entity.Session
	Manifest() *entity.Manifest
	UpdateManifest(mutate func(*entity.Manifest)) error
}

// Reconciler applies change events to the cache store. Each event is
// independent: a failed fetch leaves only that event in the unresolved set,
// to be retried on the next poll cycle. An event leaves the unresolved set
// exactly when its effect has been durably committed.
type Reconciler struct {
	api   ModAPI
	store ModStore
	hub   *notify.Hub
	log   *slog.Logger
}

func NewReconciler(api ModAPI, store ModStore, hub *notify.Hub, log *slog.Logger) *Reconciler {
	return &Reconciler{
		api:   api,
		store: store,
		hub:   hub,
		log:   log.With(slog.String("service", serviceName)),
	}
}

// Process applies each event in the order received. The caller must have
// already tracked the batch in the manifest's unresolved set, in the same
// write that committed receipt of the window.
func (r *Reconciler) Process(ctx context.Context, batch []entity.ModEvent) {
	for _, event := range batch {
		r.apply(ctx, event)
	}
}

// ResolvePending re-applies every event still unresolved, typically after a
// restart that interrupted a previous batch.
func (r *Reconciler) ResolvePending(ctx context.Context) {
	pending := r.store.Manifest().Unresolved
	if len(pending) == 0 {
		return
	}

	r.log.Info("Resolving pending events", slog.Int("count", len(pending)))

	for _, event := range pending {
		r.apply(ctx, event)
	}
}

func (r *Reconciler) apply(ctx context.Context, event entity.ModEvent) {
	log := r.log.With(
		slog.Int64("event_id", event.ID),
		slog.Int64("mod_id", event.ModID),
		slog.String("kind", event.Kind.String()),
	)
	log.Info("Processing mod event")

	switch event.Kind {
	case entity.EventModAvailable:
		r.fetchAndCache(ctx, event, log, true)
	case entity.EventModEdited:
		r.fetchAndCache(ctx, event, log, false)
	case entity.EventModUnavailable:
		r.applyUnavailable(event, log)
	case entity.EventModfileChanged:
		r.applyModfileChange(ctx, event, log)
	default:
		log.Error("Unhandled event kind")
		r.resolve(event)
	}
}

func (r *Reconciler) fetchAndCache(ctx context.Context, event entity.ModEvent, log *slog.Logger, added bool) {
	mod, err := r.api.GetMod(ctx, event.ModID)
	if err != nil {
		log.Error("Cannot fetch mod, event stays unresolved", slog.Any("error", err))

		return
	}

	if err := r.store.PutMod(mod); err != nil {
		log.Error("Cannot cache mod, event stays unresolved", slog.Any("error", err))

		return
	}

	r.resolve(event)

	if added {
		r.hub.ModAdded.Emit(mod)
	} else {
		r.hub.ModUpdated.Emit(mod.ID)
	}
}

// applyUnavailable removes the mod unless the user is subscribed to it:
// locally installed content must not vanish out from under the user. The
// event is resolved either way.
func (r *Reconciler) applyUnavailable(event entity.ModEvent, log *slog.Logger) {
	subscribed := r.store.Session().IsSubscribed(event.ModID)

	if !subscribed && r.store.GetMod(event.ModID) != nil {
		if err := r.store.RemoveMod(event.ModID); err != nil {
			log.Error("Cannot remove mod, event stays unresolved", slog.Any("error", err))

			return
		}

		r.resolve(event)
		r.hub.ModRemoved.Emit(event.ModID)

		return
	}

	r.resolve(event)
}

// applyModfileChange refetches the mod only when it is already cached; a
// file change for an unknown mod carries nothing to update. It emits the
// change notification but never starts a download itself.
func (r *Reconciler) applyModfileChange(ctx context.Context, event entity.ModEvent, log *slog.Logger) {
	if r.store.GetMod(event.ModID) == nil {
		log.Info("Modfile change for uncached mod, ignoring")
		r.resolve(event)

		return
	}

	mod, err := r.api.GetMod(ctx, event.ModID)
	if err != nil {
		log.Error("Cannot fetch mod, event stays unresolved", slog.Any("error", err))

		return
	}

	if err := r.store.PutMod(mod); err != nil {
		log.Error("Cannot cache mod, event stays unresolved", slog.Any("error", err))

		return
	}

	r.resolve(event)
	r.hub.ModfileChanged.Emit(notify.ModfileChange{ModID: mod.ID, Modfile: mod.Modfile})
}

func (r *Reconciler) resolve(event entity.ModEvent) {
	if err := r.store.UpdateManifest(func(m *entity.Manifest) {
		next := m.Unresolved[:0]
		for _, pending := range m.Unresolved {
			if pending.ID != event.ID {
				next = append(next, pending)
			}
		}
		m.Unresolved = next
	}); err != nil {
		r.log.Error("Cannot resolve event", slog.Int64("event_id", event.ID), slog.Any("error", err))
	}
}
