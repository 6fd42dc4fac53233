package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jgivc/modmirror/internal/common"
	"github.com/jgivc/modmirror/internal/entity"
	"github.com/jgivc/modmirror/internal/service/engine"
)

type CatalogService interface {
	GetMod(id int64) *entity.Mod
	ListMods(filter func(*entity.Mod) bool) []*entity.Mod
}

type StatusService interface {
	Status() engine.Status
}

type DownloadService interface {
	GetMod(id int64) *entity.Mod
	RequestBinary(modID, fileID int64) error
}

func NewModListHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "ModListHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		mods := srv.ListMods(nil)

		writeJSON(w, mods, log)
	}
}

func NewModHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "ModHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := modID(w, r)
		if !ok {
			return
		}

		mod := srv.GetMod(id)
		if mod == nil {
			http.Error(w, "Mod not found", http.StatusNotFound)

			return
		}

		writeJSON(w, mod, log)
	}
}

func NewStatusHandler(srv StatusService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "StatusHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, srv.Status(), log)
	}
}

// NewDownloadRequestHandler queues a download of the mod's current binary.
func NewDownloadRequestHandler(srv DownloadService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "DownloadRequestHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := modID(w, r)
		if !ok {
			return
		}

		mod := srv.GetMod(id)
		if mod == nil {
			http.Error(w, "Mod not found", http.StatusNotFound)

			return
		}

		if err := srv.RequestBinary(mod.ID, mod.Modfile.ID); err != nil {
			switch {
			case errors.Is(err, common.ErrDownloadActive):
				http.Error(w, "Download already active", http.StatusConflict)
			case errors.Is(err, common.ErrDownloadQueueFull):
				http.Error(w, "Download queue is full", http.StatusServiceUnavailable)
			default:
				log.Error("Cannot queue download", slog.Int64("mod_id", id), slog.Any("error", err))
				http.Error(w, "Cannot queue download", http.StatusInternalServerError)
			}

			return
		}

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("queued"))
	}
}

func modID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Bad request", http.StatusBadRequest)

		return 0, false
	}

	return id, true
}

func writeJSON(w http.ResponseWriter, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Cannot encode response", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
