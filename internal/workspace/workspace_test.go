package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_AllocatesSubdirs(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Create("job1"))
	for _, d := range Subdirs {
		assert.DirExists(t, filepath.Join(root, "job1", d))
	}
}

func TestDestroy_RemovesTree(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Create("job1"))
	require.NoError(t, m.Destroy("job1"))
	assert.NoDirExists(t, filepath.Join(root, "job1"))
}

func TestResolveMusic_PrefersAccompanimentMarker(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Create("job1"))

	musicDir := m.Dir("job1", "music")
	require.NoError(t, os.WriteFile(filepath.Join(musicDir, "vocals.wav"), []byte("x"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(musicDir, "accompaniment.wav"), []byte("x"), 0o640))

	path, err := m.ResolveMusic("job1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(musicDir, "accompaniment.wav"), path)
}

func TestResolveMusic_FallsBackToAnyWavUnderMusic(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Create("job1"))

	musicDir := m.Dir("job1", "music")
	require.NoError(t, os.WriteFile(filepath.Join(musicDir, "track07.wav"), []byte("x"), 0o640))

	path, err := m.ResolveMusic("job1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(musicDir, "track07.wav"), path)
}

func TestResolveMusic_NotFound(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Create("job1"))

	_, err := m.ResolveMusic("job1")
	assert.ErrorIs(t, err, ErrMusicTrackNotFound)
}

func TestResolveOriginal_SkipsCanonicalAudio(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Create("job1"))

	inputDir := m.Dir("job1", "input")
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, CanonicalAudioName), []byte("x"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "upload.mp4"), []byte("x"), 0o640))

	assert.Equal(t, filepath.Join(inputDir, "upload.mp4"), m.ResolveOriginal("job1"))
}

func TestResolveOriginal_NoneForTextOrigin(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Create("job1"))
	assert.Empty(t, m.ResolveOriginal("job1"))
}
