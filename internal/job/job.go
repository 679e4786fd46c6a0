// Package job provides the Job aggregate: the durable record of a single
// unit of work moving through the orchestrator's state machine.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/voiceclone/pipeline/internal/job/id"
)

// InputKind identifies the shape of the material a job was created from.
type InputKind string

const (
	InputAudio InputKind = "audio"
	InputVideo InputKind = "video"
	InputText  InputKind = "text"
)

// Status is one stage in the orchestrator's state machine. Values are the
// exact strings persisted in job.json.
type Status string

const (
	StatusPending                  Status = "PENDING"
	StatusExtractingAudio          Status = "EXTRACTING_AUDIO"
	StatusSeparating               Status = "SEPARATING"
	StatusDiarizing                Status = "DIARIZING"
	StatusTranscribing             Status = "TRANSCRIBING"
	StatusAwaitingVoiceAssignment  Status = "AWAITING_VOICE_ASSIGNMENT"
	StatusGeneratingSpeech         Status = "GENERATING_SPEECH"
	StatusAligning                 Status = "ALIGNING"
	StatusMerging                  Status = "MERGING"
	StatusCompleted                Status = "COMPLETED"
	StatusFailed                   Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("job: invalid state transition")

// validTransitions enumerates the edges of the analysis, replacement, and
// TTS/music/mix workflows, plus the universal "any state can fail" edge.
var validTransitions = map[Status][]Status{
	StatusPending:                 {StatusExtractingAudio, StatusGeneratingSpeech, StatusMerging, StatusFailed},
	StatusExtractingAudio:         {StatusSeparating, StatusFailed},
	StatusSeparating:              {StatusDiarizing, StatusFailed},
	StatusDiarizing:               {StatusTranscribing, StatusFailed},
	StatusTranscribing:            {StatusAwaitingVoiceAssignment, StatusFailed},
	StatusAwaitingVoiceAssignment: {StatusGeneratingSpeech, StatusFailed},
	StatusGeneratingSpeech:        {StatusAligning, StatusCompleted, StatusMerging, StatusFailed},
	StatusAligning:                {StatusMerging, StatusFailed},
	StatusMerging:                 {StatusCompleted, StatusFailed},
	StatusCompleted:               {},
	StatusFailed:                  {},
}

func canTransition(from, to Status) bool {
	if to == StatusFailed {
		_, known := validTransitions[from]
		return known
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status is COMPLETED or FAILED. Neither has
// outgoing edges in validTransitions; canTransition still admits the
// universal move to FAILED from them.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Speaker summarizes one diarized voice within a job.
type Speaker struct {
	SpeakerID        string  `json:"speaker_id"`
	Label            string  `json:"label"`
	SegmentCount     int     `json:"segment_count"`
	TotalDuration    float64 `json:"total_duration"`
	AssignedVoiceRef string  `json:"assigned_voice_ref,omitempty"`
}

// Segment is a contiguous, single-speaker region of the source audio.
// AlignedPath is populated by the Aligner (C3) during the replacement
// workflow once its synthesized clip has been pinned to the segment's
// duration.
type Segment struct {
	SpeakerID   string  `json:"speaker_id"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Text        string  `json:"text"`
	AlignedPath string  `json:"aligned_path,omitempty"`
}

// Duration returns EndTime - StartTime.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Job is the central durable entity: every field below is part of the
// persisted job.json document.
type Job struct {
	mu sync.RWMutex

	ID             string    `json:"job_id"`
	Status         Status    `json:"status"`
	InputKind      InputKind `json:"input_kind"`
	InputFilename  string    `json:"input_filename"`
	Speakers       []Speaker `json:"speakers"`
	Segments       []Segment `json:"segments"`
	Progress       float64   `json:"progress"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	OutputFile     string    `json:"output_file,omitempty"`
}

// New creates a Job with a freshly generated ID in PENDING status.
func New(inputKind InputKind, inputFilename string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:            id.Generate(),
		Status:        StatusPending,
		InputKind:     inputKind,
		InputFilename: inputFilename,
		Speakers:      make([]Speaker, 0),
		Segments:      make([]Segment, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TransitionTo moves the job to status, enforcing the valid-edge table.
// Invariant I4 (status=FAILED iff error is non-empty) is the caller's
// responsibility via Fail.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}
	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail marks the job FAILED and records the error message (I4).
func (j *Job) Fail(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusFailed
	j.Error = message
	j.UpdatedAt = time.Now().UTC()
}

// SetProgress publishes a new progress value. Per I3, callers are
// expected to call this with non-decreasing values within one workflow
// run; SetProgress does not itself enforce monotonicity since a new
// workflow on the same job legitimately resets it.
func (j *Job) SetProgress(p float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	j.Progress = p
	j.UpdatedAt = time.Now().UTC()
}

// SetSpeakers replaces the job's speaker list.
func (j *Job) SetSpeakers(speakers []Speaker) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Speakers = speakers
	j.UpdatedAt = time.Now().UTC()
}

// SetSegments replaces the job's segment list.
func (j *Job) SetSegments(segments []Segment) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Segments = segments
	j.UpdatedAt = time.Now().UTC()
}

// AssignVoice sets assigned_voice_ref on the Speaker with the given speakerID.
// Returns false if no such speaker exists on the job.
func (j *Job) AssignVoice(speakerID, referenceFilename string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.Speakers {
		if j.Speakers[i].SpeakerID == speakerID {
			j.Speakers[i].AssignedVoiceRef = referenceFilename
			j.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// SetOutput records the final artifact path and marks the job complete (I5).
func (j *Job) SetOutput(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputFile = path
	j.Status = StatusCompleted
	j.Progress = 1.0
	j.UpdatedAt = time.Now().UTC()
}

// GetStatus returns the current status (thread-safe read).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// HasSpeaker reports whether speakerID exists among the job's speakers (I1/I6).
func (j *Job) HasSpeaker(speakerID string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, sp := range j.Speakers {
		if sp.SpeakerID == speakerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, safe for concurrent readers and for JSON
// serialization without racing the live job's mutations.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	speakers := make([]Speaker, len(j.Speakers))
	copy(speakers, j.Speakers)
	segments := make([]Segment, len(j.Segments))
	copy(segments, j.Segments)

	return &Job{
		ID:            j.ID,
		Status:        j.Status,
		InputKind:     j.InputKind,
		InputFilename: j.InputFilename,
		Speakers:      speakers,
		Segments:      segments,
		Progress:      j.Progress,
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		OutputFile:    j.OutputFile,
	}
}
