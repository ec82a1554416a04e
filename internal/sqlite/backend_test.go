package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/hanfu/internal/migrate"
	"github.com/mesh-intelligence/hanfu/internal/userstates"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

func attach(t *testing.T, dir string) *Backend {
	t.Helper()
	b := NewBackend(nil)
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: dir}))
	t.Cleanup(func() { b.Detach() })
	return b
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()
	b := attach(t, tmpDir)

	if _, err := os.Stat(filepath.Join(tmpDir, DatabaseFile)); os.IsNotExist(err) {
		t.Errorf("%s not created", DatabaseFile)
	}

	err := b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: tmpDir})
	if err != types.ErrAlreadyAttached {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestBackend_AttachRejectsInvalidConfig(t *testing.T) {
	b := NewBackend(nil)
	err := b.Attach(types.Config{DataDir: t.TempDir()})
	assert.ErrorIs(t, err, types.ErrBackendEmpty)
}

func TestBackend_Detach(t *testing.T) {
	b := NewBackend(nil)
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "second Detach should not error")

	_, _, err := b.Load()
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	assert.ErrorIs(t, b.SaveAll(userstates.NewSnapshot()), types.ErrStoreDetached)
	st := types.DefaultUserState()
	assert.ErrorIs(t, b.SaveOne(1, &st), types.ErrStoreDetached)
	_, err = b.MigrationLog()
	assert.ErrorIs(t, err, types.ErrStoreDetached)
}

func TestBackend_LoadNewDatabase(t *testing.T) {
	b := attach(t, t.TempDir())

	snap, res, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, migrate.NoUpdateNeeded, res)
	assert.Equal(t, userstates.LatestVersion, snap.Version)
	assert.Empty(t, snap.States)

	var version string
	require.NoError(t, b.db.QueryRow(`SELECT value FROM meta WHERE name = 'version'`).Scan(&version))
	assert.Equal(t, userstates.LatestVersion, version)
}

func TestBackend_SaveAllAndReload(t *testing.T) {
	dir := t.TempDir()
	b := attach(t, dir)

	snap := userstates.NewSnapshot()
	st := types.DefaultUserState()
	st.Settings.UseKiriageMangan = true
	st.Settings.LanguageKey = "ru"
	st.Hand = &types.HandScore{Han: 3, Fu: 30}
	st.Unsaved = true
	snap.Put(42, st)
	snap.Put(-1001, types.DefaultUserState())
	require.NoError(t, b.SaveAll(snap))
	require.NoError(t, b.Detach())

	b2 := attach(t, dir)
	got, res, err := b2.Load()
	require.NoError(t, err)
	assert.Equal(t, migrate.NoUpdateNeeded, res)
	require.Len(t, got.States, 2)
	assert.True(t, got.States[42].Settings.UseKiriageMangan)
	assert.Equal(t, "ru", got.States[42].Settings.LanguageKey)
	assert.Nil(t, got.States[42].Hand, "transient hand is not persisted")
	assert.False(t, got.States[42].Unsaved)
	assert.Equal(t, types.DefaultSettings(), got.States[-1001].Settings)
}

func TestBackend_SaveAllReplacesRecords(t *testing.T) {
	b := attach(t, t.TempDir())

	first := userstates.NewSnapshot()
	first.Put(1, types.DefaultUserState())
	first.Put(2, types.DefaultUserState())
	require.NoError(t, b.SaveAll(first))

	second := userstates.NewSnapshot()
	second.Put(3, types.DefaultUserState())
	require.NoError(t, b.SaveAll(second))

	got, _, err := b.Load()
	require.NoError(t, err)
	assert.Len(t, got.States, 1)
	assert.Contains(t, got.States, types.ChatID(3))
}

func TestBackend_LoadUpgradesOldRecords(t *testing.T) {
	b := attach(t, t.TempDir())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	_, err := b.db.Exec(`INSERT INTO meta (name, value) VALUES ('version', '0.1.0')`)
	require.NoError(t, err)
	_, err = b.db.Exec(`INSERT INTO states (chat_id, settings, updated_at) VALUES
		(7, '{"scoring_settings":{"use_4_30_mangan":true,"use_honba":false,"use_kazoe_yakuman":true},"language_key":"en"}', 'x')`)
	require.NoError(t, err)

	snap, res, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, migrate.Updated, res)
	assert.True(t, snap.States[7].Settings.UseKiriageMangan)

	var settings string
	require.NoError(t, b.db.QueryRow(`SELECT settings FROM states WHERE chat_id = 7`).Scan(&settings))
	assert.Contains(t, settings, `"use_kiriage_mangan":true`)
	assert.NotContains(t, settings, "use_4_30_mangan")

	log, err := b.MigrationLog()
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "0.1.0", log[0].FromVersion)
	assert.Equal(t, userstates.LatestVersion, log[0].ToVersion)
	assert.Equal(t, 1, log[0].Records)
	assert.True(t, fixed.Equal(log[0].AppliedAt))
	assert.NotEmpty(t, log[0].ID)

	_, res, err = b.Load()
	require.NoError(t, err)
	assert.Equal(t, migrate.NoUpdateNeeded, res, "second load finds the upgraded version")
	log, err = b.MigrationLog()
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestBackend_LoadUntaggedRows(t *testing.T) {
	b := attach(t, t.TempDir())

	_, err := b.db.Exec(`INSERT INTO states (chat_id, settings, updated_at) VALUES
		(5, '{"scoring_settings":{"use_4_30_mangan":false,"use_honba":true,"use_kazoe_yakuman":true},"language_key":"en"}', 'x')`)
	require.NoError(t, err)

	snap, res, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, migrate.Updated, res)
	assert.True(t, snap.States[5].Settings.UseHonba)

	log, err := b.MigrationLog()
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "untagged", log[0].FromVersion)
}

func TestBackend_LoadErrorsLeaveDatabaseUntouched(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		settings string
		wantErr  error
	}{
		{
			name:     "unknown version",
			version:  "9.9.9",
			settings: `{"scoring_settings":{"use_kiriage_mangan":true,"use_honba":false,"use_kazoe_yakuman":true},"language_key":"en"}`,
			wantErr:  migrate.ErrUnknownVersion,
		},
		{
			name:     "corrupt record",
			version:  userstates.LatestVersion,
			settings: `{not json`,
			wantErr:  ErrCorruptRecord,
		},
		{
			name:     "shape mismatch",
			version:  userstates.LatestVersion,
			settings: `{"scoring_settings":{"use_4_30_mangan":true},"language_key":"en"}`,
			wantErr:  userstates.ErrShapeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := attach(t, t.TempDir())
			_, err := b.db.Exec(`INSERT INTO meta (name, value) VALUES ('version', ?)`, tt.version)
			require.NoError(t, err)
			_, err = b.db.Exec(`INSERT INTO states (chat_id, settings, updated_at) VALUES (1, ?, 'x')`, tt.settings)
			require.NoError(t, err)

			_, _, err = b.Load()
			require.ErrorIs(t, err, tt.wantErr)

			var version, settings string
			require.NoError(t, b.db.QueryRow(`SELECT value FROM meta WHERE name = 'version'`).Scan(&version))
			require.NoError(t, b.db.QueryRow(`SELECT settings FROM states WHERE chat_id = 1`).Scan(&settings))
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.settings, settings)
		})
	}
}

func TestBackend_SaveOneUpserts(t *testing.T) {
	b := attach(t, t.TempDir())
	_, _, err := b.Load()
	require.NoError(t, err)

	st := types.DefaultUserState()
	require.NoError(t, b.SaveOne(9, &st))
	st.Settings.LanguageKey = "ru"
	require.NoError(t, b.SaveOne(9, &st))

	snap, _, err := b.Load()
	require.NoError(t, err)
	require.Len(t, snap.States, 1)
	assert.Equal(t, "ru", snap.States[9].Settings.LanguageKey)
}

func TestBackend_ConcurrentSaveOneKeepsEveryRecord(t *testing.T) {
	b := attach(t, t.TempDir())
	_, _, err := b.Load()
	require.NoError(t, err)

	const chats = 50
	var g errgroup.Group
	for i := range chats {
		g.Go(func() error {
			st := types.DefaultUserState()
			st.Settings.LanguageKey = fmt.Sprintf("l%d", i)
			return b.SaveOne(types.ChatID(i), &st)
		})
	}
	require.NoError(t, g.Wait())

	snap, _, err := b.Load()
	require.NoError(t, err)
	require.Len(t, snap.States, chats)
	for i := range chats {
		assert.Equal(t, fmt.Sprintf("l%d", i), snap.States[types.ChatID(i)].Settings.LanguageKey)
	}
}
