package download

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jgivc/modmirror/internal/common"
	"github.com/jgivc/modmirror/internal/config"
	"github.com/jgivc/modmirror/internal/entity"
	"github.com/jgivc/modmirror/internal/notify"
	"github.com/jgivc/modmirror/internal/storage/cache"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type stubGetter struct {
	data  []byte
	calls atomic.Int64
}

func (g *stubGetter) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	g.calls.Add(1)

	return io.NopCloser(bytes.NewReader(g.data)), nil
}

type stubResolver struct {
	modfile *entity.Modfile
}

func (r *stubResolver) GetModfile(_ context.Context, _, _ int64) (*entity.Modfile, error) {
	return r.modfile, nil
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)

	return hex.EncodeToString(sum[:])
}

func newTestManager(t *testing.T, fs afero.Fs, getter Getter, resolver FileResolver,
	hub *notify.Hub) (*Manager, *cache.Store) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	store, err := cache.NewStore(fs, "/cache", log)
	require.NoError(t, err)

	cfg := &config.DownloadConfig{ImageWorkers: 2, BinaryQueueSize: 8}

	return NewManager(fs, store, resolver, getter, hub, cfg, log), store
}

func waitCompleted(t *testing.T, ch <-chan notify.DownloadResult) notify.DownloadResult {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for download completion")
	}

	return notify.DownloadResult{}
}

func waitFailed(t *testing.T, ch <-chan notify.DownloadFailure) notify.DownloadFailure {
	t.Helper()

	select {
	case failure := <-ch:
		return failure
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for download failure")
	}

	return notify.DownloadFailure{}
}

func waitLogo(t *testing.T, ch <-chan notify.LogoUpdate) notify.LogoUpdate {
	t.Helper()

	select {
	case update := <-ch:
		return update
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for logo update")
	}

	return notify.LogoUpdate{}
}

func TestBinaryDownloadVerifiesAndCommits(t *testing.T) {
	fs := afero.NewMemMapFs()
	payload := []byte("binary payload")
	getter := &stubGetter{data: payload}
	hub := notify.NewHub()

	completed := make(chan notify.DownloadResult, 1)
	hub.DownloadCompleted.Subscribe(func(r notify.DownloadResult) { completed <- r })

	m, store := newTestManager(t, fs, getter, &stubResolver{}, hub)
	m.Start()
	defer m.Stop()

	// a superseded revision is already on disk
	stale := store.BinaryPath(7, 1)
	require.NoError(t, afero.WriteFile(fs, stale, []byte("old revision"), 0o644))

	info := &entity.FileInfo{URL: "http://dl/mod7", Size: int64(len(payload)), MD5: md5hex(payload)}
	require.NoError(t, m.EnqueueBinary(7, 2, info))

	res := waitCompleted(t, completed)
	require.Equal(t, "7:2", res.Key)
	require.Equal(t, store.BinaryPath(7, 2), res.Path)

	data, err := afero.ReadFile(fs, res.Path)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	// only one binary revision is retained
	exists, err := afero.Exists(fs, stale)
	require.NoError(t, err)
	require.False(t, exists)

	require.Eventually(t, func() bool { return len(m.ActiveKeys()) == 0 },
		waitTimeout, 10*time.Millisecond)
}

func TestBinaryDownloadResolvesMetadata(t *testing.T) {
	fs := afero.NewMemMapFs()
	payload := []byte("resolved payload")
	getter := &stubGetter{data: payload}
	resolver := &stubResolver{modfile: &entity.Modfile{
		ID:          3,
		ModID:       9,
		Size:        int64(len(payload)),
		MD5:         md5hex(payload),
		DownloadURL: "http://dl/mod9",
	}}
	hub := notify.NewHub()

	completed := make(chan notify.DownloadResult, 1)
	hub.DownloadCompleted.Subscribe(func(r notify.DownloadResult) { completed <- r })

	m, store := newTestManager(t, fs, getter, resolver, hub)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.EnqueueBinary(9, 3, nil))

	res := waitCompleted(t, completed)
	require.Equal(t, store.BinaryPath(9, 3), res.Path)
}

func TestHashMismatchNeverReplacesCanonicalFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	getter := &stubGetter{data: []byte("corrupted download")}
	hub := notify.NewHub()

	failed := make(chan notify.DownloadFailure, 1)
	hub.DownloadFailed.Subscribe(func(f notify.DownloadFailure) { failed <- f })

	m, store := newTestManager(t, fs, getter, &stubResolver{}, hub)
	m.Start()
	defer m.Stop()

	canonical := store.BinaryPath(7, 2)
	require.NoError(t, afero.WriteFile(fs, canonical, []byte("verified original"), 0o644))

	info := &entity.FileInfo{URL: "http://dl/mod7", MD5: md5hex([]byte("expected payload"))}
	require.NoError(t, m.EnqueueBinary(7, 2, info))

	failure := waitFailed(t, failed)

	var integrity *common.IntegrityError
	require.ErrorAs(t, failure.Err, &integrity)
	require.Equal(t, "md5", integrity.Check)

	data, err := afero.ReadFile(fs, canonical)
	require.NoError(t, err)
	require.Equal(t, []byte("verified original"), data)

	exists, err := afero.Exists(fs, canonical+partialSuffix)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSizeMismatchFailsJob(t *testing.T) {
	fs := afero.NewMemMapFs()
	getter := &stubGetter{data: []byte("short")}
	hub := notify.NewHub()

	failed := make(chan notify.DownloadFailure, 1)
	hub.DownloadFailed.Subscribe(func(f notify.DownloadFailure) { failed <- f })

	m, _ := newTestManager(t, fs, getter, &stubResolver{}, hub)
	m.Start()
	defer m.Stop()

	info := &entity.FileInfo{URL: "http://dl/mod8", Size: 1000}
	require.NoError(t, m.EnqueueBinary(8, 1, info))

	failure := waitFailed(t, failed)

	var integrity *common.IntegrityError
	require.ErrorAs(t, failure.Err, &integrity)
	require.Equal(t, "size", integrity.Check)
}

func TestDuplicateEnqueueIsRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	hub := notify.NewHub()

	// worker not started: the first job stays queued and holds the key
	m, _ := newTestManager(t, fs, &stubGetter{}, &stubResolver{}, hub)

	info := &entity.FileInfo{URL: "http://dl/mod7"}
	require.NoError(t, m.EnqueueBinary(7, 2, info))
	require.ErrorIs(t, m.EnqueueBinary(7, 2, info), common.ErrDownloadActive)

	// a different key is unaffected
	require.NoError(t, m.EnqueueBinary(7, 3, info))
}

func TestLogoServedFromDiskWithoutNetwork(t *testing.T) {
	fs := afero.NewMemMapFs()
	getter := &stubGetter{data: []byte("png bytes")}
	hub := notify.NewHub()

	updates := make(chan notify.LogoUpdate, 1)
	hub.LogoUpdated.Subscribe(func(u notify.LogoUpdate) { updates <- u })

	m, store := newTestManager(t, fs, getter, &stubResolver{}, hub)

	mod := &entity.Mod{ID: 4, Logo: entity.LogoLocator{Thumb320: "http://img/4"}}
	path := store.LogoPath(4, entity.TierThumb320)
	require.NoError(t, afero.WriteFile(fs, path, []byte("cached png"), 0o644))

	require.NoError(t, m.RequestLogo(mod, entity.TierThumb320))

	update := waitLogo(t, updates)
	require.Equal(t, path, update.Path)
	require.EqualValues(t, 0, getter.calls.Load())
}

func TestLogoTierSwitchInvalidatesMemoryCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	getter := &stubGetter{data: []byte("png bytes")}
	hub := notify.NewHub()

	updates := make(chan notify.LogoUpdate, 4)
	hub.LogoUpdated.Subscribe(func(u notify.LogoUpdate) { updates <- u })

	m, _ := newTestManager(t, fs, getter, &stubResolver{}, hub)
	defer m.Stop()

	mod := &entity.Mod{ID: 4, Logo: entity.LogoLocator{
		Thumb320: "http://img/4/320",
		Thumb640: "http://img/4/640",
	}}

	require.NoError(t, m.RequestLogo(mod, entity.TierThumb320))
	waitLogo(t, updates)
	require.EqualValues(t, 1, getter.calls.Load())

	// second request is a memory hit
	require.NoError(t, m.RequestLogo(mod, entity.TierThumb320))
	waitLogo(t, updates)
	require.EqualValues(t, 1, getter.calls.Load())

	// a new tier goes back to the network
	require.NoError(t, m.RequestLogo(mod, entity.TierThumb640))
	waitLogo(t, updates)
	require.EqualValues(t, 2, getter.calls.Load())

	// the old tier's file is still on disk, no network needed
	require.NoError(t, m.RequestLogo(mod, entity.TierThumb320))
	waitLogo(t, updates)
	require.EqualValues(t, 2, getter.calls.Load())
}

func TestMissingLogoURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, _ := newTestManager(t, fs, &stubGetter{}, &stubResolver{}, notify.NewHub())

	mod := &entity.Mod{ID: 4}
	require.ErrorIs(t, m.RequestLogo(mod, entity.TierThumb320), common.ErrNoLogoURL)
}
