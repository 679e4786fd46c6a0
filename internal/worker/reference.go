package worker

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/voiceclone/pipeline/internal/audiodsp"
	"github.com/voiceclone/pipeline/internal/job/id"
)

// DiarizedTurn is one speaker turn returned by a Diarizer.
type DiarizedTurn struct {
	SpeakerID string
	StartTime float64
	EndTime   float64
}

// Separator splits a vocals-mixed recording into an isolated vocal track
// and a single accompaniment track. Implementations may internally emit
// more than two stems but must reduce them to this canonical pair
//.
type Separator interface {
	Separate(ctx context.Context, inputWav, outputDir string) (vocalsPath, accompanimentPath string, err error)
}

// Diarizer segments a vocals track into speaker turns within the given
// bounds. Speaker IDs are opaque and stable only within one call.
type Diarizer interface {
	Diarize(ctx context.Context, vocalsWav string, minSpeakers, maxSpeakers int) ([]DiarizedTurn, error)
}

// Transcriber converts one segment's audio into text. Must tolerate
// silence and empty input without erroring.
type Transcriber interface {
	Transcribe(ctx context.Context, segmentAudioPath string) (string, error)
}

// TTSRequest bundles one synthesis request.
type TTSRequest struct {
	Text           string
	ReferenceAudio string
	Language       string
	RefText        string
	TargetDuration float64 // 0 means "no target"
	Speed          float64
	Pitch          float64
	Model          string
}

// TTS synthesizes speech from text, optionally conditioned on a
// reference voice, and obeys TargetDuration (±100ms) via its own
// internal time-stretch when one is supplied.
type TTS interface {
	Synthesize(ctx context.Context, req TTSRequest, outDir string) (wavPath string, err error)
}

// MusicRequest bundles one music-generation request.
type MusicRequest struct {
	Prompt         string
	DurationSec    float64
	Style          string
	ReferenceAudio string
}

// MusicGenerator produces a background track from a text prompt.
type MusicGenerator interface {
	Generate(ctx context.Context, req MusicRequest, outDir string) (wavPath string, err error)
}

// The Reference* implementations below are deterministic, GPU-free stand-ins
// for the neural engines treated as opaque external workers elsewhere in
// this package. They exist so the orchestrator and its workflows are
// exercisable in tests without any model weights.

const referenceSampleRate = 24000

// ReferenceSeparator treats its input as already-isolated vocals: it
// copies the input to vocals.wav and writes silence of the same length as
// the input to accompaniment.wav. Useful for exercising the analysis workflow end-to-end
// without a real source-separation model.
type ReferenceSeparator struct {
	SampleRate int
}

func NewReferenceSeparator(sampleRate int) *ReferenceSeparator {
	if sampleRate <= 0 {
		sampleRate = referenceSampleRate
	}
	return &ReferenceSeparator{SampleRate: sampleRate}
}

func (s *ReferenceSeparator) Separate(_ context.Context, inputWav, outputDir string) (string, string, error) {
	in, err := audiodsp.Load(inputWav)
	if err != nil {
		return "", "", fmt.Errorf("reference separator: %w", err)
	}

	vocalsPath := filepath.Join(outputDir, "vocals.wav")
	if err := in.WriteWAV(vocalsPath); err != nil {
		return "", "", fmt.Errorf("reference separator: write vocals: %w", err)
	}

	accompanimentPath := filepath.Join(outputDir, "accompaniment.wav")
	silence := audiodsp.Silence(len(in.Samples), in.SampleRate)
	if err := silence.WriteWAV(accompanimentPath); err != nil {
		return "", "", fmt.Errorf("reference separator: write accompaniment: %w", err)
	}

	return vocalsPath, accompanimentPath, nil
}

// ReferenceDiarizer returns a single speaker turn spanning the entire
// clip, whatever the speaker bounds. It does not attempt real speaker
// discrimination.
type ReferenceDiarizer struct{}

func (ReferenceDiarizer) Diarize(_ context.Context, vocalsWav string, minSpeakers, _ int) ([]DiarizedTurn, error) {
	b, err := audiodsp.Load(vocalsWav)
	if err != nil {
		return nil, fmt.Errorf("reference diarizer: %w", err)
	}
	if minSpeakers < 1 {
		minSpeakers = 1
	}
	return []DiarizedTurn{{SpeakerID: "S0", StartTime: 0, EndTime: b.Duration()}}, nil
}

// ReferenceTranscriber always returns an empty transcript, a valid
// outcome under the orchestrator's per-segment-failure-means-empty-text
// policy.
type ReferenceTranscriber struct{}

func (ReferenceTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	return "", nil
}

// ReferenceTTS synthesizes a low-amplitude sine tone whose duration
// matches req.TargetDuration (or one second, absent a target). It is a
// deterministic stand-in for a neural TTS engine.
type ReferenceTTS struct {
	SampleRate int
}

func NewReferenceTTS(sampleRate int) *ReferenceTTS {
	if sampleRate <= 0 {
		sampleRate = referenceSampleRate
	}
	return &ReferenceTTS{SampleRate: sampleRate}
}

func (t *ReferenceTTS) Synthesize(_ context.Context, req TTSRequest, outDir string) (string, error) {
	duration := req.TargetDuration
	if duration <= 0 {
		duration = 1.0
	}
	buf := toneBuffer(t.SampleRate, duration, 220, 0.1)
	// Every call gets its own filename: the replacement workflow calls
	// Synthesize once per segment into the same segments/ directory, and
	// a shared name would make every segment overwrite the last one's clip.
	path := filepath.Join(outDir, fmt.Sprintf("tts_output_%s.wav", id.Generate()))
	if err := buf.WriteWAV(path); err != nil {
		return "", fmt.Errorf("reference tts: %w", err)
	}
	return path, nil
}

// ReferenceMusicGenerator synthesizes a low-amplitude sine tone of the
// requested duration. Deterministic stand-in for a neural music model.
type ReferenceMusicGenerator struct {
	SampleRate int
}

func NewReferenceMusicGenerator(sampleRate int) *ReferenceMusicGenerator {
	if sampleRate <= 0 {
		sampleRate = referenceSampleRate
	}
	return &ReferenceMusicGenerator{SampleRate: sampleRate}
}

func (m *ReferenceMusicGenerator) Generate(_ context.Context, req MusicRequest, outDir string) (string, error) {
	duration := req.DurationSec
	if duration <= 0 {
		duration = 10
	}
	buf := toneBuffer(m.SampleRate, duration, 110, 0.08)
	path := filepath.Join(outDir, "music_output.wav")
	if err := buf.WriteWAV(path); err != nil {
		return "", fmt.Errorf("reference music generator: %w", err)
	}
	return path, nil
}

func toneBuffer(sr int, seconds, freq, amplitude float64) *audiodsp.Buffer {
	n := int(seconds * float64(sr))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return &audiodsp.Buffer{Samples: samples, SampleRate: sr}
}
