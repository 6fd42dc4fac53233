package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jgivc/modmirror/internal/common"
	"github.com/jgivc/modmirror/internal/config"
	"github.com/jgivc/modmirror/internal/entity"
	"github.com/jgivc/modmirror/internal/notify"
	"github.com/jgivc/modmirror/internal/service/download"
	"github.com/jgivc/modmirror/internal/service/events"
	"github.com/jgivc/modmirror/internal/service/poller"
	"github.com/jgivc/modmirror/internal/service/subs"
	"github.com/jgivc/modmirror/internal/storage/cache"
	"github.com/spf13/afero"
)

const (
	serviceName = "engine"
)

// RemoteAPI is the full contract the engine requires from the remote catalog
// collaborator.
type RemoteAPI interface {
	Authenticate(ctx context.Context, token string) (*entity.User, error)
	GetGame(ctx context.Context) (*entity.GameInfo, error)
	GetMod(ctx context.Context, id int64) (*entity.Mod, error)
	GetAllMods(ctx context.Context) ([]*entity.Mod, error)
	GetModEvents(ctx context.Context, from, until int64) ([]entity.ModEvent, error)
	GetUserSubscriptions(ctx context.Context, token string) ([]int64, error)
	GetModfile(ctx context.Context, modID, fileID int64) (*entity.Modfile, error)
	Subscribe(ctx context.Context, token string, modID int64) error
	Unsubscribe(ctx context.Context, token string, modID int64) error
}

// Status is a snapshot of the engine for status surfaces.
type Status struct {
	LastPoll         int64    `json:"last_poll"`
	UnresolvedEvents int      `json:"unresolved_events"`
	Polling          bool     `json:"polling"`
	LoggedIn         bool     `json:"logged_in"`
	Username         string   `json:"username,omitempty"`
	Subscriptions    int      `json:"subscriptions"`
	CachedMods       int      `json:"cached_mods"`
	ActiveDownloads  []string `json:"active_downloads"`
}

// Engine owns the cache store, manifest and session state and orchestrates
// polling, reconciliation, downloads and subscription sync behind a single
// façade for UI/CLI callers.
type Engine struct {
	api       RemoteAPI
	store     *cache.Store
	hub       *notify.Hub
	downloads *download.Manager
	poller    *poller.Poller
	rec       *events.Reconciler
	subs      *subs.Synchronizer
	log       *slog.Logger
	now       func() int64
}

func New(cfg *config.Config, fs afero.Fs, api RemoteAPI, getter download.Getter,
	hub *notify.Hub, log *slog.Logger) (*Engine, error) {
	store, err := cache.NewStore(fs, cfg.Cache.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("cannot open cache store: %w", err)
	}

	e := &Engine{
		api:   api,
		store: store,
		hub:   hub,
		log:   log.With(slog.String("service", serviceName)),
		now:   func() int64 { return time.Now().Unix() },
	}

	e.downloads = download.NewManager(fs, store, api, getter, hub, &cfg.Download, log)
	e.rec = events.NewReconciler(api, store, hub, log)
	e.subs = subs.NewSynchronizer(store, hub, log)
	e.poller = poller.NewPoller(api, store, e.rec, e.subs, hub,
		cfg.Poll.Interval(), e.Logout, log)

	return e, nil
}

// Initialize loads durable state from disk, creating empty records on first
// run, validates any stored session token, and replays unresolved events.
// The engine is usable offline from whatever the cache holds.
func (e *Engine) Initialize(ctx context.Context) error {
	firstRun, err := e.store.OpenManifest(e.now())
	if err != nil {
		return fmt.Errorf("cannot open manifest: %w", err)
	}
	if firstRun {
		e.log.Info("First run, created empty manifest")
	}

	if err := e.store.OpenSession(); err != nil {
		return fmt.Errorf("cannot open session: %w", err)
	}

	if session := e.store.Session(); session != nil {
		if _, err := e.api.Authenticate(ctx, session.Token); err != nil {
			if errors.Is(err, common.ErrAuthRejected) {
				e.log.Warn("Stored token rejected, logging out")
				e.Logout()
			} else {
				// offline start keeps the session, the next poll retries
				e.log.Warn("Cannot validate stored token", slog.Any("error", err))
			}
		}
	}

	e.downloads.Start()
	e.rec.ResolvePending(ctx)

	e.hub.ModfileChanged.Subscribe(e.refreshSubscribedBinary)

	e.log.Info("Engine initialized",
		slog.Int("cached_mods", len(e.store.ListMods(nil))),
		slog.Bool("first_run", firstRun))

	return nil
}

// Shutdown stops polling and waits for in-flight downloads to finish.
func (e *Engine) Shutdown() {
	e.poller.Disable()
	e.poller.Wait()
	e.downloads.Stop()
}

func (e *Engine) EnablePolling()  { e.poller.Enable() }
func (e *Engine) DisablePolling() { e.poller.Disable() }

// SyncNow runs one poll cycle outside the regular schedule.
func (e *Engine) SyncNow(ctx context.Context) error {
	return e.poller.Cycle(ctx)
}

// refreshSubscribedBinary is the auto-update trigger: a modfile change for a
// subscribed mod queues the new revision. Unsubscribed mods are never
// downloaded automatically.
func (e *Engine) refreshSubscribedBinary(change notify.ModfileChange) {
	if !e.store.Session().IsSubscribed(change.ModID) {
		return
	}

	info := &entity.FileInfo{
		URL:  change.Modfile.DownloadURL,
		Size: change.Modfile.Size,
		MD5:  change.Modfile.MD5,
	}
	if info.URL == "" {
		info = nil
	}

	if err := e.downloads.EnqueueBinary(change.ModID, change.Modfile.ID, info); err != nil &&
		!errors.Is(err, common.ErrDownloadActive) {
		e.log.Error("Cannot queue binary refresh",
			slog.Int64("mod_id", change.ModID), slog.Any("error", err))
	}
}

// Login validates the token, persists the session, and pulls the
// authoritative subscription list.
func (e *Engine) Login(ctx context.Context, token string) (*entity.User, error) {
	user, err := e.api.Authenticate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("cannot log in: %w", err)
	}

	session := &entity.Session{
		Token:         token,
		User:          *user,
		SubscribedIDs: []int64{},
	}
	if err := e.store.SetSession(session); err != nil {
		return nil, fmt.Errorf("cannot persist session: %w", err)
	}

	e.log.Info("Logged in", slog.String("username", user.Username))

	if ids, err := e.api.GetUserSubscriptions(ctx, token); err != nil {
		e.log.Error("Cannot fetch subscriptions", slog.Any("error", err))
	} else if err := e.subs.Apply(ids); err != nil {
		e.log.Error("Cannot apply subscriptions", slog.Any("error", err))
	}

	return user, nil
}

// Logout deletes the session record. In-flight downloads are unaffected and
// run to completion or failure.
func (e *Engine) Logout() {
	if e.store.Session() == nil {
		return
	}

	if err := e.store.SetSession(nil); err != nil {
		e.log.Error("Cannot delete session", slog.Any("error", err))

		return
	}

	e.log.Info("Logged out")
	e.hub.UserLoggedOut.Emit(struct{}{})
}

func (e *Engine) User() *entity.User {
	session := e.store.Session()
	if session == nil {
		return nil
	}

	user := session.User

	return &user
}

func (e *Engine) IsSubscribed(modID int64) bool {
	return e.store.Session().IsSubscribed(modID)
}

// Subscribe registers the subscription remotely, then commits it locally.
func (e *Engine) Subscribe(ctx context.Context, modID int64) error {
	session := e.store.Session()
	if session == nil {
		return common.ErrNotLoggedIn
	}
	if session.IsSubscribed(modID) {
		return nil
	}

	if err := e.api.Subscribe(ctx, session.Token, modID); err != nil {
		return fmt.Errorf("cannot subscribe: %w", err)
	}

	updated := session.Clone()
	updated.SubscribedIDs = append(updated.SubscribedIDs, modID)
	if err := e.store.SetSession(updated); err != nil {
		return fmt.Errorf("cannot persist subscription: %w", err)
	}

	e.hub.SubscriptionAdded.Emit(modID)

	return nil
}

func (e *Engine) Unsubscribe(ctx context.Context, modID int64) error {
	session := e.store.Session()
	if session == nil {
		return common.ErrNotLoggedIn
	}
	if !session.IsSubscribed(modID) {
		return nil
	}

	if err := e.api.Unsubscribe(ctx, session.Token, modID); err != nil {
		return fmt.Errorf("cannot unsubscribe: %w", err)
	}

	updated := session.Clone()
	next := updated.SubscribedIDs[:0]
	for _, id := range updated.SubscribedIDs {
		if id != modID {
			next = append(next, id)
		}
	}
	updated.SubscribedIDs = next
	if err := e.store.SetSession(updated); err != nil {
		return fmt.Errorf("cannot persist subscription: %w", err)
	}

	e.hub.SubscriptionRemoved.Emit(modID)

	return nil
}

func (e *Engine) GetMod(id int64) *entity.Mod {
	return e.store.GetMod(id)
}

func (e *Engine) ListMods(filter func(*entity.Mod) bool) []*entity.Mod {
	return e.store.ListMods(filter)
}

func (e *Engine) BinaryStatus(modID int64) (entity.BinaryState, error) {
	mod := e.store.GetMod(modID)
	if mod == nil {
		return entity.BinaryMissing, common.ErrModNotFound
	}

	return e.store.BinaryStatus(mod), nil
}

func (e *Engine) BinaryPath(modID int64) (string, error) {
	mod := e.store.GetMod(modID)
	if mod == nil {
		return "", common.ErrModNotFound
	}

	path, exists := e.store.CurrentBinaryPath(mod)
	if !exists {
		return "", common.ErrNotFound
	}

	return path, nil
}

// RequestBinary queues a download of the given modfile revision.
func (e *Engine) RequestBinary(modID, fileID int64) error {
	return e.downloads.EnqueueBinary(modID, fileID, nil)
}

// RequestLogo serves the logo for the requested tier, fetching the mod
// first when it is not yet cached.
func (e *Engine) RequestLogo(ctx context.Context, modID int64, tier entity.ImageTier) error {
	mod := e.store.GetMod(modID)
	if mod == nil {
		fetched, err := e.api.GetMod(ctx, modID)
		if err != nil {
			return fmt.Errorf("cannot fetch mod %d: %w", modID, err)
		}

		if err := e.store.PutMod(fetched); err != nil {
			return fmt.Errorf("cannot cache mod %d: %w", modID, err)
		}

		e.hub.ModAdded.Emit(fetched)
		mod = fetched
	}

	return e.downloads.RequestLogo(mod, tier)
}

// RefreshAll pulls the full catalog, classifying each mod as added or
// updated against the cache, and advances the checkpoint.
func (e *Engine) RefreshAll(ctx context.Context) error {
	until := e.now()

	mods, err := e.api.GetAllMods(ctx)
	if err != nil {
		return fmt.Errorf("cannot fetch catalog: %w", err)
	}

	if err := e.store.UpdateManifest(func(m *entity.Manifest) {
		m.LastPoll = until
	}); err != nil {
		return fmt.Errorf("cannot advance checkpoint: %w", err)
	}

	var added, updated int
	for _, mod := range mods {
		cached := e.store.GetMod(mod.ID)
		if err := e.store.PutMod(mod); err != nil {
			e.log.Error("Cannot cache mod", slog.Int64("mod_id", mod.ID), slog.Any("error", err))

			continue
		}

		if cached == nil {
			added++
			e.hub.ModAdded.Emit(mod)
		} else {
			updated++
			e.hub.ModUpdated.Emit(mod.ID)
		}
	}

	e.log.Info("Catalog refreshed", slog.Int("added", added), slog.Int("updated", updated))

	return nil
}

func (e *Engine) Status() Status {
	manifest := e.store.Manifest()
	session := e.store.Session()

	status := Status{
		LastPoll:         manifest.LastPoll,
		UnresolvedEvents: len(manifest.Unresolved),
		Polling:          e.poller.Running(),
		CachedMods:       len(e.store.ListMods(nil)),
		ActiveDownloads:  e.downloads.ActiveKeys(),
	}

	if session != nil {
		status.LoggedIn = true
		status.Username = session.User.Username
		status.Subscriptions = len(session.SubscribedIDs)
	}

	return status
}

func (e *Engine) Hub() *notify.Hub {
	return e.hub
}
