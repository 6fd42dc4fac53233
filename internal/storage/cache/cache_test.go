package cache

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jgivc/modmirror/internal/entity"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, fs afero.Fs) *Store {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	store, err := NewStore(fs, "/cache", log)
	require.NoError(t, err)

	return store
}

func TestFirstRunCreatesManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	firstRun, err := store.OpenManifest(1234)
	require.NoError(t, err)
	require.True(t, firstRun)

	manifest := store.Manifest()
	require.EqualValues(t, 1234, manifest.LastPoll)
	require.Empty(t, manifest.Unresolved)

	// persisted before OpenManifest returned
	exists, err := afero.Exists(fs, filepath.Join("/cache", manifestFileName))
	require.NoError(t, err)
	require.True(t, exists)

	reopened := newTestStore(t, fs)
	firstRun, err = reopened.OpenManifest(9999)
	require.NoError(t, err)
	require.False(t, firstRun)
	require.EqualValues(t, 1234, reopened.Manifest().LastPoll)
}

func TestUpdateManifestCommitsCopy(t *testing.T) {
	store := newTestStore(t, afero.NewMemMapFs())

	_, err := store.OpenManifest(100)
	require.NoError(t, err)

	before := store.Manifest()

	err = store.UpdateManifest(func(m *entity.Manifest) {
		m.LastPoll = 200
		m.Unresolved = append(m.Unresolved, entity.ModEvent{ID: 1, ModID: 7})
	})
	require.NoError(t, err)

	// the previously observed snapshot is untouched
	require.EqualValues(t, 100, before.LastPoll)
	require.Empty(t, before.Unresolved)

	after := store.Manifest()
	require.EqualValues(t, 200, after.LastPoll)
	require.Len(t, after.Unresolved, 1)
}

func TestPutGetRemoveMod(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	mod := &entity.Mod{
		ID:      7,
		Name:    "Test Mod",
		Modfile: entity.Modfile{ID: 42, ModID: 7, Size: 100, MD5: "abc"},
		Tags:    []string{"weapon"},
	}

	require.NoError(t, store.PutMod(mod))
	require.Equal(t, mod, store.GetMod(7))

	exists, err := afero.Exists(fs, filepath.Join("/cache", modsDirName, "7", modRecordName))
	require.NoError(t, err)
	require.True(t, exists)

	// removal takes the whole directory, cached binaries included
	binary := store.BinaryPath(7, 42)
	require.NoError(t, afero.WriteFile(fs, binary, []byte("zip"), 0o644))

	require.NoError(t, store.RemoveMod(7))
	require.Nil(t, store.GetMod(7))

	exists, err = afero.Exists(fs, store.ModDir(7))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestReloadModsFromDisk(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	require.NoError(t, store.PutMod(&entity.Mod{ID: 1, Name: "one"}))
	require.NoError(t, store.PutMod(&entity.Mod{ID: 2, Name: "two"}))

	reopened := newTestStore(t, fs)
	require.Len(t, reopened.ListMods(nil), 2)
	require.Equal(t, "two", reopened.GetMod(2).Name)

	filtered := reopened.ListMods(func(m *entity.Mod) bool { return m.ID == 1 })
	require.Len(t, filtered, 1)
	require.Equal(t, "one", filtered[0].Name)
}

func TestSessionLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	require.NoError(t, store.OpenSession())
	require.Nil(t, store.Session())

	session := &entity.Session{
		Token:         "secret",
		User:          entity.User{ID: 3, Username: "tester"},
		SubscribedIDs: []int64{1, 2},
	}
	require.NoError(t, store.SetSession(session))

	reopened := newTestStore(t, fs)
	require.NoError(t, reopened.OpenSession())
	require.Equal(t, session, reopened.Session())

	// logout is the deletion of the record
	require.NoError(t, store.SetSession(nil))
	require.Nil(t, store.Session())

	exists, err := afero.Exists(fs, filepath.Join("/cache", sessionFileName))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestBinaryStatus(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	mod := &entity.Mod{ID: 5, Modfile: entity.Modfile{ID: 20, ModID: 5}}
	require.NoError(t, store.PutMod(mod))

	require.Equal(t, entity.BinaryMissing, store.BinaryStatus(mod))

	_, found := store.CurrentBinaryPath(mod)
	require.False(t, found)

	stale := store.BinaryPath(5, 19)
	require.NoError(t, afero.WriteFile(fs, stale, []byte("old"), 0o644))
	require.Equal(t, entity.BinaryStale, store.BinaryStatus(mod))

	path, found := store.CurrentBinaryPath(mod)
	require.True(t, found)
	require.Equal(t, stale, path)

	current := store.BinaryPath(5, 20)
	require.NoError(t, afero.WriteFile(fs, current, []byte("new"), 0o644))
	require.Equal(t, entity.BinaryCurrent, store.BinaryStatus(mod))

	path, found = store.CurrentBinaryPath(mod)
	require.True(t, found)
	require.Equal(t, current, path)
}
