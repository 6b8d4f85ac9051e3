package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEntityDirIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())

	dir, created, err := store.CreateEntityDir("owner1/repo1", "123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.DirExists(t, dir)

	dir2, created, err := store.CreateEntityDir("owner1/repo1", "123")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, dir, dir2)
}

func TestActiveMarker(t *testing.T) {
	store := NewStore(t.TempDir())

	assert.False(t, store.Active("owner1/repo1", "1"))

	changed, err := store.SetActive("owner1/repo1", "1", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, store.Active("owner1/repo1", "1"))

	// Setting an already-present marker is a no-op.
	changed, err = store.SetActive("owner1/repo1", "1", true)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = store.SetActive("owner1/repo1", "1", false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, store.Active("owner1/repo1", "1"))

	// Removing an absent marker is a no-op, not an error.
	changed, err = store.SetActive("owner1/repo1", "1", false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestEntityKind(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)

	assert.Equal(t, KindUnknown, store.EntityKind("owner1/repo1", "1"))

	require.NoError(t, store.SetEntityKind("owner1/repo1", "1", KindPR))
	assert.Equal(t, KindPR, store.EntityKind("owner1/repo1", "1"))

	require.NoError(t, store.SetEntityKind("owner1/repo1", "2", KindIssue))
	assert.Equal(t, KindIssue, store.EntityKind("owner1/repo1", "2"))

	// Corrupt marker content reads as unknown, never an error.
	marker := filepath.Join(base, "owner1", "repo1", "3", ".type")
	require.NoError(t, os.MkdirAll(filepath.Dir(marker), 0o755))
	require.NoError(t, os.WriteFile(marker, []byte("garbage"), 0o644))
	assert.Equal(t, KindUnknown, store.EntityKind("owner1/repo1", "3"))
}

func TestWatermarks(t *testing.T) {
	store := NewStore(t.TempDir())

	assert.Nil(t, store.LastChecked("owner1/repo1", "1"))
	assert.Nil(t, store.LastCommentCheck("owner1/repo1", "1"))

	t1 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetLastChecked("owner1/repo1", "1", t1))
	got := store.LastChecked("owner1/repo1", "1")
	require.NotNil(t, got)
	assert.True(t, got.Equal(t1))

	t2 := t1.Add(time.Hour)
	require.NoError(t, store.SetLastCommentCheck("owner1/repo1", "1", t2))
	got = store.LastCommentCheck("owner1/repo1", "1")
	require.NotNil(t, got)
	assert.True(t, got.Equal(t2))

	// The two watermark kinds are independent.
	got = store.LastChecked("owner1/repo1", "1")
	require.NotNil(t, got)
	assert.True(t, got.Equal(t1))
}

func TestCorruptWatermarkReadsAsNil(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)

	marker := filepath.Join(base, "owner1", "repo1", "1", ".last_checked")
	require.NoError(t, os.MkdirAll(filepath.Dir(marker), 0o755))
	require.NoError(t, os.WriteFile(marker, []byte("not a timestamp"), 0o644))

	assert.Nil(t, store.LastChecked("owner1/repo1", "1"))
}
