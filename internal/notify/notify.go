package notify

import (
	"sync"

	"github.com/jgivc/modmirror/internal/entity"
)

// Feed is a single notification kind with any number of subscribers.
// Delivery is fire-and-forget: subscribers run on the emitter's goroutine
// over a snapshot of the subscriber list, with no ordering guarantee
// between independent feeds.
type Feed[T any] struct {
	mu  sync.RWMutex
	fns []func(T)
}

func (f *Feed[T]) Subscribe(fn func(T)) {
	f.mu.Lock()
	f.fns = append(f.fns, fn)
	f.mu.Unlock()
}

func (f *Feed[T]) Emit(v T) {
	f.mu.RLock()
	fns := make([]func(T), len(f.fns))
	copy(fns, f.fns)
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

type ModfileChange struct {
	ModID   int64
	Modfile entity.Modfile
}

type DownloadResult struct {
	Key    string
	ModID  int64
	FileID int64
	Path   string
}

type DownloadFailure struct {
	Key   string
	ModID int64
	Err   error
}

type LogoUpdate struct {
	ModID int64
	Tier  entity.ImageTier
	Path  string
}

// Hub carries every notification kind the engine raises.
type Hub struct {
	ModAdded            Feed[*entity.Mod]
	ModUpdated          Feed[int64]
	ModRemoved          Feed[int64]
	ModfileChanged      Feed[ModfileChange]
	SubscriptionAdded   Feed[int64]
	SubscriptionRemoved Feed[int64]
	DownloadCompleted   Feed[DownloadResult]
	DownloadFailed      Feed[DownloadFailure]
	LogoUpdated         Feed[LogoUpdate]
	UserLoggedOut       Feed[struct{}]
	PollError           Feed[error]
}

func NewHub() *Hub {
	return &Hub{}
}
