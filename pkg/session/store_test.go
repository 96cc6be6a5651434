package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"docharvest/pkg/logger"
)

func sampleState() *State {
	return &State{
		Cookies: []Cookie{
			{Name: "age_verified", Value: "1", Domain: "www.justice.gov", Path: "/", Expires: -1, Secure: true},
			{Name: "SSESS", Value: "abc", Domain: ".justice.gov", Path: "/", Expires: 4102444800, HTTPOnly: true, SameSite: "Lax"},
		},
		Origins: []Origin{
			{Origin: "https://www.justice.gov", LocalStorage: []StorageItem{{Name: "ageGate", Value: "ok"}}},
		},
		GateCleared: true,
		ClearedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "storage_state.json")
	store := NewStore(path, nil, nil)

	assert.Nil(t, store.Load(), "missing file is absent")
	assert.False(t, store.Exists())

	require.NoError(t, store.Save(sampleState()))
	assert.True(t, store.Exists())

	loaded := store.Load()
	require.NotNil(t, loaded)
	assert.Equal(t, sampleState().Cookies, loaded.Cookies)
	assert.Equal(t, sampleState().Origins, loaded.Origins)
	assert.True(t, loaded.GateCleared)
	assert.False(t, loaded.SavedAt.IsZero())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a save")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStoreCorruptFileIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cookies": [`), 0600))

	log := logger.NewTestLogger()
	store := NewStore(path, nil, log)

	assert.Nil(t, store.Load())
	assert.True(t, log.HasMessage("session state corrupt, starting fresh"))
}

func TestStoreSaveReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage_state.json")
	store := NewStore(path, nil, nil)

	require.NoError(t, store.Save(&State{}))
	require.NoError(t, store.Save(sampleState()))

	loaded := store.Load()
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Cookies, 2)
}

func TestStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage_state.json")
	store := NewStore(path, nil, nil)

	require.NoError(t, store.Clear(), "clearing a missing file is fine")
	require.NoError(t, store.Save(sampleState()))
	require.NoError(t, store.Clear())
	assert.False(t, store.Exists())
}

func TestEncryptedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage_state.json")
	sealer, err := NewPassphraseSealer("correct horse")
	require.NoError(t, err)

	store := NewStore(path, sealer, nil)
	require.NoError(t, store.Save(sampleState()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "age_verified", "cookies must not be stored in clear text")

	loaded := store.Load()
	require.NotNil(t, loaded)
	assert.Equal(t, "age_verified", loaded.Cookies[0].Name)

	wrong, err := NewPassphraseSealer("battery staple")
	require.NoError(t, err)
	assert.Nil(t, NewStore(path, wrong, nil).Load(), "wrong passphrase is treated as no session")

	assert.Nil(t, NewStore(path, nil, nil).Load(), "encrypted file read as plain state is absent")
}

func TestPassphraseFromEnv(t *testing.T) {
	t.Setenv(PassphraseEnv, "from-env")
	pass, err := Passphrase()
	require.NoError(t, err)
	assert.Equal(t, "from-env", pass)
}

func TestPassphraseFromKeyring(t *testing.T) {
	keyring.MockInit()
	t.Setenv(PassphraseEnv, "")

	first, err := Passphrase()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := Passphrase()
	require.NoError(t, err)
	assert.Equal(t, first, second, "generated passphrase is reused")

	require.NoError(t, ForgetPassphrase())
	third, err := Passphrase()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestStateHelpers(t *testing.T) {
	st := sampleState()
	st.Cookies = append(st.Cookies, Cookie{Name: "old", Expires: 1})

	live := st.LiveCookies(time.Now())
	assert.Len(t, live, 2)

	clone := st.Clone()
	clone.Cookies[0].Value = "changed"
	clone.Origins[0].LocalStorage[0].Value = "changed"
	assert.Equal(t, "1", st.Cookies[0].Value)
	assert.Equal(t, "ok", st.Origins[0].LocalStorage[0].Value)

	var fresh State
	at := time.Now()
	fresh.MarkCleared(at)
	assert.True(t, fresh.GateCleared)
	assert.Equal(t, at, fresh.ClearedAt)

	assert.Nil(t, (*State)(nil).Clone())
}
