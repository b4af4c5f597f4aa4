package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates an encrypted store in a temp directory for testing.
func newTestStore(t *testing.T) (*EncryptedStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := NewEncryptedStore(dataDir, key)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })
	return store, dataDir
}

func TestEncryptedStore_SetGetDelete(t *testing.T) {
	tests := []struct {
		name   string
		writes [][2]string
		key    string
		want   string
		wantOK bool
	}{
		{name: "absent key", key: "missing"},
		{
			name:   "single write",
			writes: [][2]string{{"is_foreground", "true"}},
			key:    "is_foreground", want: "true", wantOK: true,
		},
		{
			name:   "overwrite keeps last value",
			writes: [][2]string{{"background_handle", "1"}, {"background_handle", "42"}},
			key:    "background_handle", want: "42", wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t)
			for _, w := range tt.writes {
				require.NoError(t, store.Set(w[0], w[1]))
			}

			got, ok, err := store.Get(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)

			require.NoError(t, store.Delete(tt.key))
			_, ok, err = store.Get(tt.key)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEncryptedStore_All(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Set("a", "1"))
	require.NoError(t, store.Set("b", "2"))

	all, err := store.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)
}

func TestEncryptedStore_PersistsAcrossReopen(t *testing.T) {
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := NewEncryptedStore(dataDir, key)
	require.NoError(t, err)
	require.NoError(t, store.Set("is_manually_stopped", "true"))
	require.NoError(t, store.Close())

	reopened, err := NewEncryptedStore(dataDir, key)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get("is_manually_stopped")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestEncryptedStore_WrongKeyFails(t *testing.T) {
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := NewEncryptedStore(dataDir, key)
	require.NoError(t, err)
	require.NoError(t, store.Set("x", "y"))
	require.NoError(t, store.Close())

	other, err := GenerateKey()
	require.NoError(t, err)
	_, err = NewEncryptedStore(dataDir, other)
	assert.Error(t, err)
}

func TestOpenSettingsStore_CreatesKey(t *testing.T) {
	dataDir := t.TempDir()

	store, err := OpenSettingsStore(dataDir)
	require.NoError(t, err)
	require.NoError(t, store.Set("k", "v"))
	require.NoError(t, store.Close())

	assert.True(t, NewFileKeyProvider(dataDir).KeyExists())

	again, err := OpenSettingsStore(dataDir)
	require.NoError(t, err)
	defer again.Close()
	v, ok, err := again.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
