package download

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/jgivc/modmirror/internal/common"
	"github.com/jgivc/modmirror/internal/config"
	"github.com/jgivc/modmirror/internal/entity"
	"github.com/jgivc/modmirror/internal/notify"
	"github.com/spf13/afero"
)

const (
	serviceName = "download"

	partialSuffix = ".partial"
	binaryGlob    = "modfile_*.zip"
	logoKeyPrefix = "logo:"

	filePerm = 0o644
	dirPerm  = 0o755
)

// FileResolver supplies authoritative download metadata when the caller did
// not provide it.
type FileResolver interface {
	GetModfile(ctx context.Context, modID, fileID int64) (*entity.Modfile, error)
}

// Getter streams the body of a URL. Non-2xx responses and transport failures
// surface as classified errors.
type Getter interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// PathStore resolves canonical cache locations for binaries and images.
type PathStore interface {
	ModDir(id int64) string
	BinaryPath(modID, fileID int64) string
	LogoPath(modID int64, tier entity.ImageTier) string
}

type job struct {
	id     string
	key    string
	modID  int64
	fileID int64
	info   *entity.FileInfo
}

// Manager runs two independent queues: binaries download one at a time
// through a single worker, images run concurrently up to a configured cap.
// A key (modID:fileID for binaries, URL for images) is active at most once;
// a second request for an active key is rejected without network work.
type Manager struct {
	fs     afero.Fs
	paths  PathStore
	api    FileResolver
	getter Getter
	hub    *notify.Hub
	log    *slog.Logger

	mu     sync.Mutex
	active map[string]*job

	binQueue chan *job
	imgSem   chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup

	logoMu    sync.Mutex
	logoTier  entity.ImageTier
	logoCache map[int64]string
}

func NewManager(fs afero.Fs, paths PathStore, api FileResolver, getter Getter,
	hub *notify.Hub, cfg *config.DownloadConfig, log *slog.Logger) *Manager {
	return &Manager{
		fs:        fs,
		paths:     paths,
		api:       api,
		getter:    getter,
		hub:       hub,
		log:       log.With(slog.String("service", serviceName)),
		active:    make(map[string]*job),
		binQueue:  make(chan *job, cfg.BinaryQueueSize),
		imgSem:    make(chan struct{}, cfg.ImageWorkers),
		stopCh:    make(chan struct{}),
		logoCache: make(map[int64]string),
	}
}

// Start launches the serial binary worker.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.binaryWorker()
}

// Stop prevents new work and waits for in-flight jobs. Jobs are never
// cancelled mid-transfer, they run to completion or failure.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func binaryKey(modID, fileID int64) string {
	return strconv.FormatInt(modID, 10) + ":" + strconv.FormatInt(fileID, 10)
}

// EnqueueBinary queues a binary download. info may be nil, in which case the
// worker resolves URL, size and hash through the API first.
func (m *Manager) EnqueueBinary(modID, fileID int64, info *entity.FileInfo) error {
	j := &job{
		id:     uuid.NewString(),
		key:    binaryKey(modID, fileID),
		modID:  modID,
		fileID: fileID,
		info:   info,
	}

	if err := m.claim(j); err != nil {
		return err
	}

	select {
	case m.binQueue <- j:
	default:
		m.release(j.key)

		return common.ErrDownloadQueueFull
	}

	m.log.Info("Queued binary download", slog.String("job_id", j.id), slog.String("key", j.key))

	return nil
}

func (m *Manager) claim(j *job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[j.key]; exists {
		m.log.Warn("Download with matching key already active", slog.String("key", j.key))

		return common.ErrDownloadActive
	}

	m.active[j.key] = j

	return nil
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
}

// ActiveKeys returns a snapshot of the keys currently downloading or queued.
func (m *Manager) ActiveKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.active))
	for key := range m.active {
		keys = append(keys, key)
	}

	return keys
}

func (m *Manager) binaryWorker() {
	defer m.wg.Done()

	m.log.Info("Binary worker started")

	for {
		select {
		case <-m.stopCh:
			m.log.Info("Binary worker done")

			return
		case j := <-m.binQueue:
			m.runBinary(j)
		}
	}
}

func (m *Manager) runBinary(j *job) {
	defer m.release(j.key)

	ctx := context.Background()
	log := m.log.With(slog.String("job_id", j.id), slog.String("key", j.key))

	info := j.info
	if info == nil {
		modfile, err := m.api.GetModfile(ctx, j.modID, j.fileID)
		if err != nil {
			log.Error("Cannot resolve download metadata", slog.Any("error", err))
			m.hub.DownloadFailed.Emit(notify.DownloadFailure{Key: j.key, ModID: j.modID, Err: err})

			return
		}

		info = &entity.FileInfo{URL: modfile.DownloadURL, Size: modfile.Size, MD5: modfile.MD5}
	}

	target := m.paths.BinaryPath(j.modID, j.fileID)
	if err := m.fetchToFile(ctx, info, target); err != nil {
		log.Error("Binary download failed", slog.Any("error", err))
		m.hub.DownloadFailed.Emit(notify.DownloadFailure{Key: j.key, ModID: j.modID, Err: err})

		return
	}

	m.removeStaleBinaries(j.modID, target)

	log.Info("Binary download completed", slog.String("path", target))
	m.hub.DownloadCompleted.Emit(notify.DownloadResult{
		Key:    j.key,
		ModID:  j.modID,
		FileID: j.fileID,
		Path:   target,
	})
}

// fetchToFile streams the URL into <target>.partial, verifies size and MD5
// against info, and only then moves the file into place. The canonical path
// is never touched by an unverified or partial write.
func (m *Manager) fetchToFile(ctx context.Context, info *entity.FileInfo, target string) error {
	if err := m.fs.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("%w: %s", common.ErrLocalIO, err)
	}

	tmp := target + partialSuffix

	body, err := m.getter.Get(ctx, info.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := m.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrLocalIO, err)
	}

	hasher := md5.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		m.discardPartial(tmp)

		return fmt.Errorf("%w: %s", common.ErrLocalIO, err)
	}

	if info.Size > 0 && written != info.Size {
		m.discardPartial(tmp)

		return &common.IntegrityError{
			Check:    "size",
			Expected: strconv.FormatInt(info.Size, 10),
			Actual:   strconv.FormatInt(written, 10),
		}
	}

	if info.MD5 != "" {
		sum := hex.EncodeToString(hasher.Sum(nil))
		if sum != info.MD5 {
			m.discardPartial(tmp)

			return &common.IntegrityError{Check: "md5", Expected: info.MD5, Actual: sum}
		}
	}

	if err := m.fs.Remove(target); err != nil && !os.IsNotExist(err) {
		m.discardPartial(tmp)

		return fmt.Errorf("%w: %s", common.ErrLocalIO, err)
	}

	if err := m.fs.Rename(tmp, target); err != nil {
		m.discardPartial(tmp)

		return fmt.Errorf("%w: %s", common.ErrLocalIO, err)
	}

	return nil
}

func (m *Manager) discardPartial(tmp string) {
	if err := m.fs.Remove(tmp); err != nil && !os.IsNotExist(err) {
		m.log.Error("Cannot remove partial file", slog.String("path", tmp), slog.Any("error", err))
	}
}

// removeStaleBinaries keeps only the freshly landed revision in the mod's
// directory.
func (m *Manager) removeStaleBinaries(modID int64, keep string) {
	matches, err := afero.Glob(m.fs, filepath.Join(m.paths.ModDir(modID), binaryGlob))
	if err != nil {
		m.log.Error("Cannot scan mod directory", slog.Int64("mod_id", modID), slog.Any("error", err))

		return
	}

	for _, path := range matches {
		if path == keep {
			continue
		}

		if err := m.fs.Remove(path); err != nil {
			m.log.Error("Cannot remove stale binary", slog.String("path", path), slog.Any("error", err))
		}
	}
}

// RequestLogo serves a tier-matching image from cache when possible and
// downloads it otherwise. Switching tiers discards the in-memory cache
// wholesale, mixed-tier entries are never kept.
func (m *Manager) RequestLogo(mod *entity.Mod, tier entity.ImageTier) error {
	m.logoMu.Lock()
	if m.logoTier != tier {
		m.logoCache = make(map[int64]string)
		m.logoTier = tier
	}
	if path, exists := m.logoCache[mod.ID]; exists {
		m.logoMu.Unlock()
		m.hub.LogoUpdated.Emit(notify.LogoUpdate{ModID: mod.ID, Tier: tier, Path: path})

		return nil
	}
	m.logoMu.Unlock()

	target := m.paths.LogoPath(mod.ID, tier)
	if exists, _ := afero.Exists(m.fs, target); exists {
		m.rememberLogo(mod.ID, tier, target)
		m.hub.LogoUpdated.Emit(notify.LogoUpdate{ModID: mod.ID, Tier: tier, Path: target})

		return nil
	}

	sourceURL := mod.Logo.SizeURL(tier)
	if sourceURL == "" {
		return common.ErrNoLogoURL
	}

	j := &job{
		id:    uuid.NewString(),
		key:   logoKeyPrefix + sourceURL,
		modID: mod.ID,
		info:  &entity.FileInfo{URL: sourceURL},
	}
	if err := m.claim(j); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.runImage(j, tier, target)

	return nil
}

func (m *Manager) runImage(j *job, tier entity.ImageTier, target string) {
	defer m.wg.Done()
	defer m.release(j.key)

	m.imgSem <- struct{}{}
	defer func() { <-m.imgSem }()

	log := m.log.With(slog.String("job_id", j.id), slog.String("key", j.key))

	if err := m.fetchToFile(context.Background(), j.info, target); err != nil {
		log.Error("Image download failed", slog.Any("error", err))
		m.hub.DownloadFailed.Emit(notify.DownloadFailure{Key: j.key, ModID: j.modID, Err: err})

		return
	}

	m.rememberLogo(j.modID, tier, target)

	log.Info("Image download completed", slog.String("path", target))
	m.hub.LogoUpdated.Emit(notify.LogoUpdate{ModID: j.modID, Tier: tier, Path: target})
}

func (m *Manager) rememberLogo(modID int64, tier entity.ImageTier, path string) {
	m.logoMu.Lock()
	if m.logoTier == tier {
		m.logoCache[modID] = path
	}
	m.logoMu.Unlock()
}

// HTTPGetter is the production Getter over net/http.
type HTTPGetter struct {
	Client *http.Client
}

func (g *HTTPGetter) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot build request: %w", err)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrNetworkUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()

		return nil, fmt.Errorf("%w: status %d", common.ErrNetworkUnreachable, resp.StatusCode)
	}

	return resp.Body, nil
}
