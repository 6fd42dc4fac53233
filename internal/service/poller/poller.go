package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jgivc/modmirror/internal/common"
	"github.com/jgivc/modmirror/internal/entity"
	"github.com/jgivc/modmirror/internal/notify"
)

const (
	serviceName = "poller"
)

type EventSource interface {
	GetGame(ctx context.Context) (*entity.GameInfo, error)
	GetModEvents(ctx context.Context, from, until int64) ([]entity.ModEvent, error)
	GetUserSubscriptions(ctx context.Context, token string) ([]int64, error)
}

type Reconciler interface {
	Process(ctx context.Context, batch []entity.ModEvent)
}

type SubscriptionSink interface {
	Apply(remoteIDs []int64) error
}

type ManifestStore interface {
	Manifest() *entity.Manifest
	UpdateManifest(mutate func(*entity.Manifest)) error
	Session() *entity.Session
}

// Poller periodically pulls change events for the window since the last
// checkpoint. The checkpoint only advances after a successful event fetch,
// so a failed cycle redelivers its window on the next tick.
type Poller struct {
	api      EventSource
	store    ManifestStore
	rec      Reconciler
	subs     SubscriptionSink
	hub      *notify.Hub
	interval time.Duration
	log      *slog.Logger

	// called when the server rejects the session token mid-poll
	onAuthRejected func()

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	now     func() int64
}

func NewPoller(api EventSource, store ManifestStore, rec Reconciler, subs SubscriptionSink,
	hub *notify.Hub, interval time.Duration, onAuthRejected func(), log *slog.Logger) *Poller {
	return &Poller{
		api:            api,
		store:          store,
		rec:            rec,
		subs:           subs,
		hub:            hub,
		interval:       interval,
		onAuthRejected: onAuthRejected,
		log:            log.With(slog.String("service", serviceName)),
		now:            func() int64 { return time.Now().Unix() },
	}
}

// Enable starts the poll loop. Enabling an already running poller is a no-op.
func (p *Poller) Enable() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	// a disabled loop may still be inside its final cycle
	p.wg.Wait()

	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.loop(p.stopCh)

	p.log.Info("Polling enabled", slog.Duration("interval", p.interval))
}

// Disable prevents further cycles. A cycle already underway completes
// normally.
func (p *Poller) Disable() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	close(p.stopCh)
	p.log.Info("Polling disabled")
}

// Wait blocks until the loop goroutine has exited.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) Running() bool {
	return p.running.Load()
}

func (p *Poller) loop(stopCh chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Cycle(context.Background()); err != nil {
			p.log.Error("Poll cycle failed", slog.Any("error", err))
		}

		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one poll pass: refresh game info, fetch and reconcile events
// for [lastPoll, now), then refresh subscriptions for the active session.
func (p *Poller) Cycle(ctx context.Context) error {
	from := p.store.Manifest().LastPoll
	until := p.now()

	if game, err := p.api.GetGame(ctx); err != nil {
		p.log.Warn("Cannot refresh game info", slog.Any("error", err))
	} else if err := p.store.UpdateManifest(func(m *entity.Manifest) {
		m.Game = *game
	}); err != nil {
		p.log.Error("Cannot persist game info", slog.Any("error", err))
	}

	batch, err := p.api.GetModEvents(ctx, from, until)
	if err != nil {
		p.hub.PollError.Emit(err)

		return fmt.Errorf("cannot fetch mod events: %w", err)
	}

	// successful receipt: the window will not be redelivered, so the batch
	// must land as unresolved in the same write that advances the checkpoint
	if err := p.store.UpdateManifest(func(m *entity.Manifest) {
		m.LastPoll = until
		m.Track(batch)
	}); err != nil {
		return fmt.Errorf("cannot advance checkpoint: %w", err)
	}

	p.rec.Process(ctx, batch)

	p.syncSubscriptions(ctx)

	return nil
}

func (p *Poller) syncSubscriptions(ctx context.Context) {
	session := p.store.Session()
	if session == nil {
		return
	}

	ids, err := p.api.GetUserSubscriptions(ctx, session.Token)
	if err != nil {
		if errors.Is(err, common.ErrAuthRejected) {
			// a rejected token never self-heals
			p.log.Warn("Session token rejected, logging out")
			p.onAuthRejected()

			return
		}

		p.log.Error("Cannot fetch subscriptions", slog.Any("error", err))
		p.hub.PollError.Emit(err)

		return
	}

	if err := p.subs.Apply(ids); err != nil {
		p.log.Error("Cannot apply subscriptions", slog.Any("error", err))
	}
}
