package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jgivc/modmirror/internal/adapter/apiclient"
	"github.com/jgivc/modmirror/internal/config"
	httphandler "github.com/jgivc/modmirror/internal/handler/http"
	"github.com/jgivc/modmirror/internal/notify"
	"github.com/jgivc/modmirror/internal/service/download"
	"github.com/jgivc/modmirror/internal/service/engine"
	"github.com/spf13/afero"
)

const (
	initTimeout    = 30 * time.Second
	refreshTimeout = 60 * time.Second
	stopTimeout    = 5 * time.Second
)

type App struct {
	cfgPath string
	cfg     *config.Config
	srv     *http.Server
	eng     *engine.Engine
	log     *slog.Logger
}

func New(cfgPath string) *App {
	return &App{
		cfgPath: cfgPath,
	}
}

func (a *App) Start() {
	a.cfg = config.MustLoad(a.cfgPath)

	lo := &slog.HandlerOptions{}
	switch a.cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, lo))
	a.log = log

	api := apiclient.New(&a.cfg.API, log)
	getter := &download.HTTPGetter{Client: &http.Client{Timeout: a.cfg.API.Timeout()}}
	hub := notify.NewHub()

	eng, err := engine.New(a.cfg, afero.NewOsFs(), api, getter, hub, log)
	if err != nil {
		panic(err)
	}
	a.eng = eng

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	if err := eng.Initialize(ctx); err != nil {
		panic(err)
	}

	eng.EnablePolling()

	http.Handle("GET /mods/{$}", httphandler.NewModListHandler(eng, log))
	http.Handle("GET /mods/{id}/{$}", httphandler.NewModHandler(eng, log))
	http.Handle("GET /status/{$}", httphandler.NewStatusHandler(eng, log))
	http.Handle("POST /mods/{id}/download/{$}", httphandler.NewDownloadRequestHandler(eng, log))

	a.srv = &http.Server{
		Addr: a.cfg.Listen,
	}

	go func() {
		log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil {
			log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			os.Exit(2)
		}
	}()
}

// Refresh pulls the full catalog outside the regular poll schedule.
func (a *App) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := a.eng.RefreshAll(ctx); err != nil {
		a.log.Error("Cannot refresh catalog", slog.Any("error", err))
	}
}

// Sync runs one poll cycle immediately.
func (a *App) Sync() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := a.eng.SyncNow(ctx); err != nil {
		a.log.Error("Cannot run poll cycle", slog.Any("error", err))
	}
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	a.srv.Shutdown(ctx)
	a.eng.Shutdown()
}
