package voice

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	p, err := store.Create("Narrator", "warm baritone")
	require.NoError(t, err)
	assert.Len(t, p.VoiceID, 12)

	got, err := store.Get(p.VoiceID)
	require.NoError(t, err)
	assert.Equal(t, "Narrator", got.Name)
}

func TestGet_NotFound(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoundTripThroughFreshStore(t *testing.T) {
	root := t.TempDir()
	store1, err := NewStore(root, nil)
	require.NoError(t, err)
	p, err := store1.Create("Narrator", "")
	require.NoError(t, err)

	store2, err := NewStore(root, nil)
	require.NoError(t, err)
	got, err := store2.Get(p.VoiceID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
}

func TestUpdate_PersistsMutation(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	p, err := store.Create("Narrator", "")
	require.NoError(t, err)

	updated, err := store.Update(p.VoiceID, func(pr *Profile) {
		pr.AudioFilename = "ref.wav"
		pr.SampleRate = 24000
	})
	require.NoError(t, err)
	assert.Equal(t, "ref.wav", updated.AudioFilename)
}

func TestList_SortedNewestFirst(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	first, err := store.Create("A", "")
	require.NoError(t, err)
	second, err := store.Update(first.VoiceID, func(p *Profile) {})
	require.NoError(t, err)
	_ = second

	third, err := store.Create("B", "")
	require.NoError(t, err)
	third.CreatedAt = first.CreatedAt.Add(1)
	_, err = store.Update(third.VoiceID, func(p *Profile) { p.CreatedAt = third.CreatedAt })
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, third.VoiceID, list[0].VoiceID)
}

func TestDelete_RemovesFromDisk(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, nil)
	require.NoError(t, err)
	p, err := store.Create("A", "")
	require.NoError(t, err)

	require.NoError(t, store.Delete(p.VoiceID))
	_, err = store.Get(p.VoiceID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoDirExists(t, filepath.Join(root, p.VoiceID))
}

func TestAudioPath_EmptyWithoutFile(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	p, err := store.Create("A", "")
	require.NoError(t, err)
	assert.Empty(t, store.AudioPath(p.VoiceID))
}
