// Package server provides the HTTP control plane for the voice
// pipeline: upload, job inspection, voice assignment,
// standalone TTS/music/mix, download, and delete. Handlers, middleware,
// routes, and DTOs are kept separate from the domain types in
// internal/job and internal/orchestrator.
package server

// JobSummary is the HTTP representation of a Job.
type JobSummary struct {
	JobID         string          `json:"job_id"`
	Status        string          `json:"status"`
	InputKind     string          `json:"input_kind"`
	InputFilename string          `json:"input_filename,omitempty"`
	Speakers      []SpeakerDTO    `json:"speakers"`
	Segments      []SegmentDTO    `json:"segments"`
	Progress      float64         `json:"progress"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	OutputFile    string          `json:"output_file,omitempty"`
}

// SpeakerDTO is the HTTP representation of a Speaker.
type SpeakerDTO struct {
	SpeakerID        string  `json:"speaker_id"`
	Label            string  `json:"label"`
	SegmentCount     int     `json:"segment_count"`
	TotalDuration    float64 `json:"total_duration"`
	AssignedVoiceRef string  `json:"assigned_voice_ref,omitempty"`
}

// SegmentDTO is the HTTP representation of a Segment.
type SegmentDTO struct {
	SpeakerID string  `json:"speaker_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// AssignmentDTO pairs a speaker with the reference audio or voice
// profile backing its synthesized voice.
type AssignmentDTO struct {
	SpeakerID             string `json:"speaker_id" validate:"required"`
	ReferenceAudioFilename string `json:"reference_audio_filename"`
	VoiceID               string `json:"voice_id"`
}

// AssignVoicesRequest is the body of POST /api/jobs/{id}/assign-voices.
type AssignVoicesRequest struct {
	Assignments []AssignmentDTO `json:"assignments" validate:"required,min=1,dive"`
}

// AssignVoicesResponse is returned by POST /api/jobs/{id}/assign-voices.
type AssignVoicesResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TTSRequest is the multipart body of POST /api/tts.
type TTSRequest struct {
	Text     string  `validate:"required"`
	VoiceID  string
	Speed    float64 `validate:"omitempty,min=0.5,max=2.0"`
	Pitch    float64 `validate:"omitempty,min=0.5,max=2.0"`
	Language string
	Model    string
	RefText  string
}

// TTSResponse is returned by POST /api/tts.
type TTSResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	OutputFile string `json:"output_file,omitempty"`
}

// MusicRequest is the multipart body of POST /api/music.
type MusicRequest struct {
	Prompt   string  `validate:"required"`
	Duration float64 `validate:"required,min=5,max=30"`
	Style    string
}

// MusicResponse is returned by POST /api/music.
type MusicResponse struct {
	JobID      string  `json:"job_id"`
	Status     string  `json:"status"`
	OutputFile string  `json:"output_file,omitempty"`
	Duration   float64 `json:"duration"`
}

// MixRequest is the JSON body of POST /api/mix.
type MixRequest struct {
	TTSJobID    string  `json:"tts_job_id" validate:"required"`
	MusicJobID  string  `json:"music_job_id" validate:"required"`
	TTSVolume   float64 `json:"tts_volume" validate:"min=0,max=1"`
	MusicVolume float64 `json:"music_volume" validate:"min=0,max=1"`
	MusicDelay  float64 `json:"music_delay" validate:"min=0"`
}

// MixResponse is returned by POST /api/mix.
type MixResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	OutputFile string `json:"output_file,omitempty"`
}

// VoiceDTO is the HTTP representation of a saved voice profile.
type VoiceDTO struct {
	VoiceID         string  `json:"voice_id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	AudioFilename   string  `json:"audio_filename,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// ConfirmationResponse is a generic acknowledgement for reference-voice
// registration and job deletion.
type ConfirmationResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
