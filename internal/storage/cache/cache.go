package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jgivc/modmirror/internal/entity"
	"github.com/spf13/afero"
)

const (
	manifestFileName = "manifest.json"
	sessionFileName  = "user.json"
	modsDirName      = "mods"
	modRecordName    = "mod.json"
	binaryGlob       = "modfile_*.zip"
	tmpSuffix        = ".tmp"

	recordPerm = 0o644
	dirPerm    = 0o755
)

// Store is the durable cache of catalog entries, manifest and session state.
// Every write lands on disk before the in-memory structure is swapped, so a
// crash never leaves memory ahead of disk. Mods are stored copy-on-write:
// readers always see a fully committed record.
type Store struct {
	fs   afero.Fs
	root string
	log  *slog.Logger

	mu       sync.RWMutex
	mods     map[int64]*entity.Mod
	manifest *entity.Manifest
	session  *entity.Session
}

func NewStore(fs afero.Fs, root string, log *slog.Logger) (*Store, error) {
	s := &Store{
		fs:   fs,
		root: root,
		mods: make(map[int64]*entity.Mod),
		log:  log.With(slog.String("item", "CacheStore")),
	}

	if err := fs.MkdirAll(filepath.Join(root, modsDirName), dirPerm); err != nil {
		return nil, fmt.Errorf("cannot create cache root: %w", err)
	}

	if err := s.loadMods(); err != nil {
		return nil, fmt.Errorf("cannot load mod records: %w", err)
	}

	return s, nil
}

func (s *Store) loadMods() error {
	entries, err := afero.ReadDir(s.fs, filepath.Join(s.root, modsDirName))
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		recordPath := filepath.Join(s.root, modsDirName, entry.Name(), modRecordName)
		data, err := afero.ReadFile(s.fs, recordPath)
		if err != nil {
			s.log.Error("Cannot read mod record", slog.String("path", recordPath), slog.Any("error", err))

			continue
		}

		var mod entity.Mod
		if err := json.Unmarshal(data, &mod); err != nil {
			s.log.Error("Cannot decode mod record", slog.String("path", recordPath), slog.Any("error", err))

			continue
		}

		s.mods[mod.ID] = &mod
	}

	return nil
}

// OpenManifest loads the manifest record, creating and persisting a fresh one
// with the checkpoint set to now when none exists yet. It reports whether
// this is a first run.
func (s *Store) OpenManifest(now int64) (bool, error) {
	path := filepath.Join(s.root, manifestFileName)

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("cannot read manifest: %w", err)
		}

		manifest := &entity.Manifest{
			LastPoll:   now,
			Unresolved: []entity.ModEvent{},
		}
		if err := s.writeRecord(path, manifest); err != nil {
			return false, fmt.Errorf("cannot persist initial manifest: %w", err)
		}

		s.mu.Lock()
		s.manifest = manifest
		s.mu.Unlock()

		return true, nil
	}

	manifest := &entity.Manifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return false, fmt.Errorf("cannot decode manifest: %w", err)
	}
	if manifest.Unresolved == nil {
		manifest.Unresolved = []entity.ModEvent{}
	}

	s.mu.Lock()
	s.manifest = manifest
	s.mu.Unlock()

	return false, nil
}

// Manifest returns the committed manifest snapshot. The returned value is
// immutable, all mutation goes through UpdateManifest.
func (s *Store) Manifest() *entity.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.manifest
}

// UpdateManifest applies mutate to a clone of the manifest, persists the
// clone, and only then makes it the committed snapshot.
func (s *Store) UpdateManifest(mutate func(*entity.Manifest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.manifest.Clone()
	mutate(next)

	if err := s.writeRecord(filepath.Join(s.root, manifestFileName), next); err != nil {
		return fmt.Errorf("cannot persist manifest: %w", err)
	}

	s.manifest = next

	return nil
}

// OpenSession loads the session record if one exists. A missing record is
// not an error, it means logged out.
func (s *Store) OpenSession() error {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.root, sessionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("cannot read session: %w", err)
	}

	session := &entity.Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return fmt.Errorf("cannot decode session: %w", err)
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	return nil
}

func (s *Store) Session() *entity.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.session
}

// SetSession persists and commits the new session. A nil session deletes the
// record from disk, which is the durable logout.
func (s *Store) SetSession(session *entity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.root, sessionFileName)

	if session == nil {
		if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot delete session record: %w", err)
		}

		s.session = nil

		return nil
	}

	if err := s.writeRecord(path, session); err != nil {
		return fmt.Errorf("cannot persist session: %w", err)
	}

	s.session = session

	return nil
}

func (s *Store) GetMod(id int64) *entity.Mod {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.mods[id]
}

// PutMod writes the mod record to its directory and then swaps the in-memory
// entry. The previous entry stays visible to readers until the write succeeds.
func (s *Store) PutMod(mod *entity.Mod) error {
	dir := s.ModDir(mod.ID)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("cannot create mod directory: %w", err)
	}

	if err := s.writeRecord(filepath.Join(dir, modRecordName), mod); err != nil {
		return fmt.Errorf("cannot persist mod %d: %w", mod.ID, err)
	}

	s.mu.Lock()
	s.mods[mod.ID] = mod
	s.mu.Unlock()

	return nil
}

// RemoveMod deletes the mod's entire directory, metadata, binaries and
// images included. Not recoverable.
func (s *Store) RemoveMod(id int64) error {
	if err := s.fs.RemoveAll(s.ModDir(id)); err != nil {
		return fmt.Errorf("cannot remove mod directory: %w", err)
	}

	s.mu.Lock()
	delete(s.mods, id)
	s.mu.Unlock()

	return nil
}

func (s *Store) ListMods(filter func(*entity.Mod) bool) []*entity.Mod {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mods := make([]*entity.Mod, 0, len(s.mods))
	for _, mod := range s.mods {
		if filter == nil || filter(mod) {
			mods = append(mods, mod)
		}
	}

	return mods
}

func (s *Store) ModDir(id int64) string {
	return filepath.Join(s.root, modsDirName, strconv.FormatInt(id, 10))
}

func (s *Store) BinaryPath(modID, fileID int64) string {
	return filepath.Join(s.ModDir(modID), fmt.Sprintf("modfile_%d.zip", fileID))
}

func (s *Store) LogoPath(modID int64, tier entity.ImageTier) string {
	return filepath.Join(s.ModDir(modID), tier.FileName())
}

// BinaryStatus reports the local binary cache state relative to the mod's
// current modfile.
func (s *Store) BinaryStatus(mod *entity.Mod) entity.BinaryState {
	if exists, _ := afero.Exists(s.fs, s.BinaryPath(mod.ID, mod.Modfile.ID)); exists {
		return entity.BinaryCurrent
	}

	matches, err := afero.Glob(s.fs, filepath.Join(s.ModDir(mod.ID), binaryGlob))
	if err == nil && len(matches) > 0 {
		return entity.BinaryStale
	}

	return entity.BinaryMissing
}

// CurrentBinaryPath returns the best on-disk binary for the mod: the current
// revision if present, otherwise any stale one.
func (s *Store) CurrentBinaryPath(mod *entity.Mod) (string, bool) {
	current := s.BinaryPath(mod.ID, mod.Modfile.ID)
	if exists, _ := afero.Exists(s.fs, current); exists {
		return current, true
	}

	matches, err := afero.Glob(s.fs, filepath.Join(s.ModDir(mod.ID), binaryGlob))
	if err != nil || len(matches) == 0 {
		return "", false
	}

	return matches[0], true
}

func (s *Store) writeRecord(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cannot encode record: %w", err)
	}

	tmp := path + tmpSuffix
	if err := afero.WriteFile(s.fs, tmp, data, recordPerm); err != nil {
		return fmt.Errorf("cannot write record: %w", err)
	}

	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot replace record: %w", err)
	}

	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("cannot commit record: %w", err)
	}

	return nil
}
