// Package workspace implements the Workspace Manager (C2): allocation,
// teardown, and well-known-path resolution for a job's on-disk directory
// tree.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Subdirs are the per-job subdirectories allocated under jobs/<job_id>/.
var Subdirs = []string{"input", "vocals", "music", "segments", "references", "output"}

// CanonicalAudioName is the extracted/transcoded mono WAV written under
// input/ by the Demux worker during the analysis workflow.
const CanonicalAudioName = "audio.wav"

// ErrMusicTrackNotFound is returned by ResolveMusic when no accompaniment
// file can be located anywhere in the workspace.
var ErrMusicTrackNotFound = errors.New("workspace: no music/accompaniment track found")

// Manager owns the directory layout of every job under root.
type Manager struct {
	root string
}

// New returns a Manager rooted at root (typically "<storage>/jobs").
func New(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the job at jobID's workspace root: <root>/<jobID>.
func (m *Manager) Root(jobID string) string {
	return filepath.Join(m.root, jobID)
}

// Create allocates every subdirectory listed in Subdirs. Idempotent.
func (m *Manager) Create(jobID string) error {
	base := m.Root(jobID)
	for _, d := range Subdirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0o750); err != nil {
			return fmt.Errorf("workspace: create %s: %w", d, err)
		}
	}
	return nil
}

// Destroy removes the job's entire directory tree.
func (m *Manager) Destroy(jobID string) error {
	if err := os.RemoveAll(m.Root(jobID)); err != nil {
		return fmt.Errorf("workspace: destroy %s: %w", jobID, err)
	}
	return nil
}

// Dir returns the path to one of the job's named subdirectories (e.g. "vocals").
func (m *Manager) Dir(jobID, name string) string {
	return filepath.Join(m.Root(jobID), name)
}

// ResolveMusic locates the isolated background track for jobID.
//
// Policy: prefer a file whose name contains "accompaniment",
// "no_vocals", or "music"; scan in order music/, vocals/, workspace root;
// fall back to any .wav under music/. Fails with ErrMusicTrackNotFound if
// none is found.
func (m *Manager) ResolveMusic(jobID string) (string, error) {
	candidates := []string{"music", "vocals", ""}
	markers := []string{"accompaniment", "no_vocals", "music"}

	for _, sub := range candidates {
		dir := m.Root(jobID)
		if sub != "" {
			dir = filepath.Join(dir, sub)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			lower := strings.ToLower(e.Name())
			for _, marker := range markers {
				if strings.Contains(lower, marker) {
					return filepath.Join(dir, e.Name()), nil
				}
			}
		}
	}

	// Fallback: any .wav under music/.
	musicDir := m.Dir(jobID, "music")
	entries, err := os.ReadDir(musicDir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".wav") {
				return filepath.Join(musicDir, e.Name()), nil
			}
		}
	}

	return "", fmt.Errorf("%w: job %s", ErrMusicTrackNotFound, jobID)
}

// ResolveOriginal returns the first file under input/ whose name is not
// the canonical audio.wav — i.e. the original upload prior to extraction.
// Returns "" when no such file exists, which is the
// expected case for a text-origin job.
func (m *Manager) ResolveOriginal(jobID string) string {
	dir := m.Dir(jobID, "input")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && e.Name() != CanonicalAudioName {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0])
}
