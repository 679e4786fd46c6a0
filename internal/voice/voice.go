// Package voice implements the voice-profile catalog: short reference
// recordings a speaker can be bound to, used by the TTS engine to
// condition generated speech toward a target voice. It mirrors
// internal/job's write-through JSON cache and cold-start recovery
// discipline, since both are the same persistence shape over a
// different entity.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const profileFileName = "profile.json"

// NewID returns a fresh 12-character hex voice_id: the first 12 hex
// digits of a freshly generated UUID, giving voice profiles the same
// fixed width as a job_id without sharing internal/job/id's generator.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ErrNotFound is returned when a voice_id has no known profile.
var ErrNotFound = errors.New("voice: profile not found")

// Profile is a saved reference voice.
type Profile struct {
	VoiceID         string    `json:"voice_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	AudioFilename   string    `json:"audio_filename,omitempty"`
	SampleRate      int       `json:"sample_rate,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store is the voice-profile catalog: an in-memory cache backed by
// write-through per-profile JSON documents under voicesRoot.
type Store struct {
	mu         sync.RWMutex
	voices     map[string]*Profile
	voicesRoot string
	logger     *slog.Logger
}

// NewStore constructs a Store rooted at voicesRoot, recovering any
// previously persisted profiles.
func NewStore(voicesRoot string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(voicesRoot, 0o750); err != nil {
		return nil, fmt.Errorf("voice store: create voices root: %w", err)
	}
	s := &Store{
		voices:     make(map[string]*Profile),
		voicesRoot: voicesRoot,
		logger:     logger,
	}
	s.loadAll()
	return s, nil
}

func (s *Store) loadAll() {
	entries, err := os.ReadDir(s.voicesRoot)
	if err != nil {
		s.logger.Warn("voice store: cannot scan voices root", slog.String("error", err.Error()))
		return
	}
	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := s.readFromDisk(entry.Name())
		if err != nil {
			s.logger.Warn("voice store: skipping unreadable profile",
				slog.String("voice_id", entry.Name()), slog.String("error", err.Error()))
			continue
		}
		s.voices[p.VoiceID] = p
		loaded++
	}
	if loaded > 0 {
		s.logger.Info("voice store: recovered profiles from disk", slog.Int("count", loaded))
	}
}

// Dir returns the on-disk directory for voiceID.
func (s *Store) Dir(voiceID string) string {
	return filepath.Join(s.voicesRoot, voiceID)
}

func (s *Store) readFromDisk(voiceID string) (*Profile, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir(voiceID), profileFileName))
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse profile.json: %w", err)
	}
	return &p, nil
}

func (s *Store) writeToDisk(p *Profile) error {
	dir := s.Dir(p.VoiceID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create voice dir: %w", err)
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	tmp := filepath.Join(dir, profileFileName+".tmp")
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return fmt.Errorf("write profile.json: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, profileFileName))
}

// Create registers a new voice profile with a freshly generated ID.
func (s *Store) Create(name, description string) (*Profile, error) {
	p := &Profile{
		VoiceID:     NewID(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := os.MkdirAll(s.Dir(p.VoiceID), 0o750); err != nil {
		return nil, fmt.Errorf("voice store: create profile dir: %w", err)
	}

	s.mu.Lock()
	s.voices[p.VoiceID] = p
	s.mu.Unlock()

	if err := s.writeToDisk(p); err != nil {
		s.logger.Error("voice store: persistence failure",
			slog.String("voice_id", p.VoiceID), slog.String("error", err.Error()))
	}
	return p, nil
}

// Get returns voiceID's profile, falling back to disk before ErrNotFound.
func (s *Store) Get(voiceID string) (*Profile, error) {
	s.mu.RLock()
	p, ok := s.voices[voiceID]
	s.mu.RUnlock()
	if ok {
		clone := *p
		return &clone, nil
	}

	p, err := s.readFromDisk(voiceID)
	if err != nil {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	s.voices[voiceID] = p
	s.mu.Unlock()
	clone := *p
	return &clone, nil
}

// Update applies mutator to voiceID's profile and persists the result.
func (s *Store) Update(voiceID string, mutator func(*Profile)) (*Profile, error) {
	p, err := s.Get(voiceID)
	if err != nil {
		return nil, err
	}
	mutator(p)

	s.mu.Lock()
	s.voices[voiceID] = p
	s.mu.Unlock()

	if err := s.writeToDisk(p); err != nil {
		s.logger.Error("voice store: persistence failure",
			slog.String("voice_id", voiceID), slog.String("error", err.Error()))
	}
	clone := *p
	return &clone, nil
}

// List returns all known profiles ordered by CreatedAt descending (newest first).
func (s *Store) List() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, 0, len(s.voices))
	for _, p := range s.voices {
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// Delete removes voiceID from both the cache and disk.
func (s *Store) Delete(voiceID string) error {
	s.mu.Lock()
	_, ok := s.voices[voiceID]
	delete(s.voices, voiceID)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := os.RemoveAll(s.Dir(voiceID)); err != nil {
		return fmt.Errorf("voice store: remove directory: %w", err)
	}
	return nil
}

// AudioPath returns the full path to voiceID's reference audio, or ""
// if the profile has none or the file is missing on disk.
func (s *Store) AudioPath(voiceID string) string {
	p, err := s.Get(voiceID)
	if err != nil || p.AudioFilename == "" {
		return ""
	}
	path := filepath.Join(s.Dir(voiceID), p.AudioFilename)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
