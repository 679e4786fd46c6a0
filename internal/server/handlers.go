package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/voiceclone/pipeline/internal/job"
	"github.com/voiceclone/pipeline/internal/orchestrator"
	"github.com/voiceclone/pipeline/internal/voice"
	"github.com/voiceclone/pipeline/internal/workspace"
)

// detachedContext strips the request's cancellation from a context carried
// into a fire-and-forget background workflow, so a client disconnect
// doesn't abort work already in flight.
func detachedContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// allowedUploadExts is the upload extension whitelist.
var allowedUploadExts = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".webm": true, ".flv": true, ".wav": true, ".mp3": true,
}

// Handlers contains the HTTP handlers for the voice pipeline API.
type Handlers struct {
	orch           *orchestrator.Orchestrator
	jobs           job.Repository
	voices         *voice.Store
	workspace      *workspace.Manager
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes overrides the upload size ceiling (default 500 MB).
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) { h.maxUploadBytes = n }
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	orch *orchestrator.Orchestrator,
	jobs job.Repository,
	voices *voice.Store,
	ws *workspace.Manager,
	logger *slog.Logger,
	opts ...HandlerOption,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		orch:           orch,
		jobs:           jobs,
		voices:         voices,
		workspace:      ws,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: 500 * 1024 * 1024,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Upload handles POST /api/upload.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", "MISSING_FILE")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		writeError(w, http.StatusBadRequest, "file exceeds maximum upload size", "FILE_TOO_LARGE")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file extension %q", ext), "UNSUPPORTED_EXTENSION")
		return
	}

	inputKind := job.InputVideo
	switch strings.ToLower(r.FormValue("input_type")) {
	case "audio":
		inputKind = job.InputAudio
	case "video":
		inputKind = job.InputVideo
	case "":
		if ext == ".wav" || ext == ".mp3" {
			inputKind = job.InputAudio
		}
	default:
		writeError(w, http.StatusBadRequest, "input_type must be audio or video", "INVALID_INPUT_TYPE")
		return
	}

	j, err := h.orch.CreateFromUpload(r.Context(), inputKind, header.Filename)
	if err != nil {
		h.logger.Error("upload: failed to create job", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	sourcePath := filepath.Join(h.workspace.Dir(j.ID, "input"), header.Filename)
	if err := saveMultipartFile(file, sourcePath); err != nil {
		h.logger.Error("upload: failed to save file", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to save upload", "UPLOAD_SAVE_FAILED")
		return
	}

	go h.orch.RunAnalysis(detachedContext(r), j.ID, sourcePath)

	h.logger.Info("upload accepted", slog.String("job_id", j.ID), slog.String("filename", header.Filename))
	writeJSON(w, http.StatusAccepted, UploadResponse{
		JobID:   j.ID,
		Status:  string(j.Status),
		Message: "upload accepted, analysis started",
	})
}

// ListJobs handles GET /api/jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}
	out := make([]JobSummary, len(jobs))
	for i, j := range jobs {
		out[i] = toJobSummary(j)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetJob handles GET /api/jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	j, err := h.jobs.FindByID(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, toJobSummary(j))
}

// DeleteJob handles DELETE /api/jobs/{id}.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.jobs.Delete(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, ConfirmationResponse{Message: "job deleted"})
}

// ReferenceVoice handles POST /api/jobs/{id}/reference-voice. An
// optional "name" field additionally registers the upload as a reusable
// VoiceProfile.
func (h *Handlers) ReferenceVoice(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	j, err := h.jobs.FindByID(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	speakerID := r.FormValue("speaker_id")
	if speakerID == "" {
		writeError(w, http.StatusBadRequest, "speaker_id is required", "MISSING_SPEAKER_ID")
		return
	}
	if !j.HasSpeaker(speakerID) {
		writeError(w, http.StatusBadRequest, "unknown speaker_id", "UNKNOWN_SPEAKER")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", "MISSING_FILE")
		return
	}
	defer file.Close()

	destPath := filepath.Join(h.workspace.Dir(jobID, "references"), header.Filename)
	if err := saveMultipartFile(file, destPath); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save reference audio", "SAVE_FAILED")
		return
	}

	message := fmt.Sprintf("reference audio %q saved for speaker %q", header.Filename, speakerID)

	if name := r.FormValue("name"); name != "" {
		profile, err := h.voices.Create(name, r.FormValue("description"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create voice profile", "VOICE_CREATE_FAILED")
			return
		}
		voiceAudioPath := filepath.Join(h.voices.Dir(profile.VoiceID), header.Filename)
		if err := copyFile(destPath, voiceAudioPath); err != nil {
			h.logger.Warn("reference-voice: failed to copy into voice profile",
				slog.String("voice_id", profile.VoiceID), slog.String("error", err.Error()))
		} else if _, err := h.voices.Update(profile.VoiceID, func(p *voice.Profile) {
			p.AudioFilename = header.Filename
		}); err != nil {
			h.logger.Warn("reference-voice: failed to persist voice profile audio filename",
				slog.String("voice_id", profile.VoiceID), slog.String("error", err.Error()))
		}
		message = fmt.Sprintf("%s; registered as voice profile %s", message, profile.VoiceID)
	}

	writeJSON(w, http.StatusOK, ConfirmationResponse{Message: message})
}

// AssignVoices handles POST /api/jobs/{id}/assign-voices.
func (h *Handlers) AssignVoices(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req AssignVoicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	assignments := make([]orchestrator.Assignment, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		refFilename := a.ReferenceAudioFilename
		if refFilename == "" && a.VoiceID != "" {
			resolved, err := h.resolveVoiceIntoReferences(jobID, a.VoiceID)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_VOICE")
				return
			}
			refFilename = resolved
		}
		if refFilename == "" {
			writeError(w, http.StatusBadRequest, "assignment requires reference_audio_filename or voice_id", "MISSING_REFERENCE")
			return
		}
		assignments = append(assignments, orchestrator.Assignment{
			SpeakerID:          a.SpeakerID,
			ReferenceAudioFile: refFilename,
		})
	}

	j, err := h.orch.CheckReplacementPreconditions(r.Context(), jobID, assignments)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		if errors.Is(err, orchestrator.ErrBadRequest) {
			writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to validate assignments", "VALIDATION_FAILED")
		return
	}

	go h.orch.RunReplacement(detachedContext(r), j.ID, assignments)

	writeJSON(w, http.StatusAccepted, AssignVoicesResponse{
		JobID:   j.ID,
		Status:  string(j.Status),
		Message: "voice assignments accepted, replacement started",
	})
}

// resolveVoiceIntoReferences copies a saved VoiceProfile's reference
// audio into jobID's references/ directory so CheckReplacementPreconditions'
// "resolvable under references/" contract is satisfied
// for voice_id-based assignments as well as uploaded filenames.
func (h *Handlers) resolveVoiceIntoReferences(jobID, voiceID string) (string, error) {
	audioPath := h.voices.AudioPath(voiceID)
	if audioPath == "" {
		return "", fmt.Errorf("voice profile %s has no audio", voiceID)
	}
	filename := filepath.Base(audioPath)
	dest := filepath.Join(h.workspace.Dir(jobID, "references"), filename)
	if err := copyFile(audioPath, dest); err != nil {
		return "", fmt.Errorf("resolve voice %s: %w", voiceID, err)
	}
	return filename, nil
}

// ListVoices handles GET /api/voices.
func (h *Handlers) ListVoices(w http.ResponseWriter, r *http.Request) {
	profiles := h.voices.List()
	out := make([]VoiceDTO, len(profiles))
	for i, p := range profiles {
		out[i] = toVoiceDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteVoice handles DELETE /api/voices/{id}.
func (h *Handlers) DeleteVoice(w http.ResponseWriter, r *http.Request) {
	voiceID := r.PathValue("id")
	if err := h.voices.Delete(voiceID); err != nil {
		if errors.Is(err, voice.ErrNotFound) {
			writeError(w, http.StatusNotFound, "voice profile not found", "VOICE_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete voice profile", "VOICE_DELETE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, ConfirmationResponse{Message: "voice profile deleted"})
}

func toVoiceDTO(p *voice.Profile) VoiceDTO {
	return VoiceDTO{
		VoiceID:         p.VoiceID,
		Name:            p.Name,
		Description:     p.Description,
		AudioFilename:   p.AudioFilename,
		SampleRate:      p.SampleRate,
		DurationSeconds: p.DurationSeconds,
		CreatedAt:       p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// TTS handles POST /api/tts.
func (h *Handlers) TTS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}

	speed := formFloat(r, "speed", 1.0)
	pitch := formFloat(r, "pitch", 1.0)
	req := TTSRequest{
		Text:     r.FormValue("text"),
		VoiceID:  r.FormValue("voice_id"),
		Speed:    speed,
		Pitch:    pitch,
		Language: r.FormValue("language"),
		Model:    r.FormValue("tts_model"),
		RefText:  r.FormValue("ref_text"),
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	referenceAudio, err := h.resolveTTSReference(r, req.VoiceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REFERENCE")
		return
	}

	j, err := h.orch.RunTTS(r.Context(), orchestrator.TTSParams{
		Text:           req.Text,
		ReferenceAudio: referenceAudio,
		Speed:          req.Speed,
		Pitch:          req.Pitch,
		Language:       req.Language,
		Model:          req.Model,
		RefText:        req.RefText,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start tts job", "TTS_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, TTSResponse{JobID: j.ID, Status: string(j.Status)})
}

// resolveTTSReference prefers an uploaded reference_audio file, falling
// back to a saved voice_id's audio path.
func (h *Handlers) resolveTTSReference(r *http.Request, voiceID string) (string, error) {
	if file, header, err := r.FormFile("reference_audio"); err == nil {
		defer file.Close()
		dest := filepath.Join(os.TempDir(), fmt.Sprintf("tts-ref-%d-%s", time.Now().UnixNano(), header.Filename))
		if err := saveMultipartFile(file, dest); err != nil {
			return "", fmt.Errorf("save reference_audio: %w", err)
		}
		return dest, nil
	}
	if voiceID != "" {
		path := h.voices.AudioPath(voiceID)
		if path == "" {
			return "", fmt.Errorf("voice profile %s has no audio", voiceID)
		}
		return path, nil
	}
	return "", nil
}

// Music handles POST /api/music.
func (h *Handlers) Music(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}

	req := MusicRequest{
		Prompt:   r.FormValue("prompt"),
		Duration: formFloat(r, "duration", 10),
		Style:    r.FormValue("style"),
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	var referenceAudio string
	if file, header, err := r.FormFile("reference_audio"); err == nil {
		defer file.Close()
		dest := filepath.Join(os.TempDir(), fmt.Sprintf("music-ref-%d-%s", time.Now().UnixNano(), header.Filename))
		if err := saveMultipartFile(file, dest); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save reference_audio", "SAVE_FAILED")
			return
		}
		referenceAudio = dest
	}

	j, err := h.orch.RunMusic(r.Context(), orchestrator.MusicParams{
		Prompt:         req.Prompt,
		DurationSec:    req.Duration,
		Style:          req.Style,
		ReferenceAudio: referenceAudio,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start music job", "MUSIC_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, MusicResponse{JobID: j.ID, Status: string(j.Status), Duration: req.Duration})
}

// Mix handles POST /api/mix.
func (h *Handlers) Mix(w http.ResponseWriter, r *http.Request) {
	var req MixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	j, err := h.orch.RunMix(r.Context(), orchestrator.MixParams{
		TTSJobID:    req.TTSJobID,
		MusicJobID:  req.MusicJobID,
		TTSVolume:   req.TTSVolume,
		MusicVolume: req.MusicVolume,
		MusicDelay:  req.MusicDelay,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrBadRequest) {
			writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start mix job", "MIX_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, MixResponse{JobID: j.ID, Status: string(j.Status)})
}

// Download handles GET /api/jobs/{id}/download?format=wav|mp3|mp4.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	j, err := h.jobs.FindByID(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	if j.OutputFile == "" {
		writeError(w, http.StatusNotFound, "job has no output artifact", "NO_OUTPUT")
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	path := j.OutputFile
	if format != "" {
		swapped := swapExt(j.OutputFile, format)
		if _, statErr := os.Stat(swapped); statErr == nil {
			path = swapped
		}
	}

	f, err := os.Open(path) // #nosec G304 - path derived from the job's own recorded output
	if err != nil {
		writeError(w, http.StatusNotFound, "output file not found on disk", "OUTPUT_MISSING")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.Header().Set("Content-Type", contentTypeFor(path))
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("download: stream failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}

func toJobSummary(j *job.Job) JobSummary {
	speakers := make([]SpeakerDTO, len(j.Speakers))
	for i, s := range j.Speakers {
		speakers[i] = SpeakerDTO{
			SpeakerID: s.SpeakerID, Label: s.Label, SegmentCount: s.SegmentCount,
			TotalDuration: s.TotalDuration, AssignedVoiceRef: s.AssignedVoiceRef,
		}
	}
	segments := make([]SegmentDTO, len(j.Segments))
	for i, s := range j.Segments {
		segments[i] = SegmentDTO{SpeakerID: s.SpeakerID, StartTime: s.StartTime, EndTime: s.EndTime, Text: s.Text}
	}
	return JobSummary{
		JobID: j.ID, Status: string(j.Status), InputKind: string(j.InputKind),
		InputFilename: j.InputFilename, Speakers: speakers, Segments: segments,
		Progress: j.Progress, Error: j.Error,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339), UpdatedAt: j.UpdatedAt.UTC().Format(time.RFC3339),
		OutputFile: j.OutputFile,
	}
}

func saveMultipartFile(src multipart.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return err
	}
	dst, err := os.Create(destPath) // #nosec G304 - destPath built from a job-owned workspace path
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src is a server-resolved path, not raw user input
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.Create(dst) // #nosec G304
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func formFloat(r *http.Request, key string, fallback float64) float64 {
	v := r.FormValue(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func swapExt(path, format string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + format
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
