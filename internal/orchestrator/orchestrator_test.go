package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceclone/pipeline/internal/audiodsp"
	"github.com/voiceclone/pipeline/internal/job"
	"github.com/voiceclone/pipeline/internal/storage"
	"github.com/voiceclone/pipeline/internal/voice"
	"github.com/voiceclone/pipeline/internal/worker"
	"github.com/voiceclone/pipeline/internal/workspace"
)

const testSampleRate = 8000

// fakeDemuxer stands in for an ffmpeg-backed Demuxer in tests: it decodes
// the (already-WAV) input via audiodsp and re-encodes at the requested
// sample rate, rather than shelling out to a real binary.
type fakeDemuxer struct{}

func (fakeDemuxer) Demux(_ context.Context, inputPath, outputWavPath string, sampleRate int) error {
	b, err := audiodsp.Load(inputPath)
	if err != nil {
		return err
	}
	if b.SampleRate != sampleRate {
		b = b.Resample(sampleRate)
	}
	return b.WriteWAV(outputWavPath)
}

// fakeProber reports the duration of a WAV file by decoding it directly.
type fakeProber struct{}

func (fakeProber) Probe(_ context.Context, path string) (worker.ProbeResult, error) {
	b, err := audiodsp.Load(path)
	if err != nil {
		return worker.ProbeResult{}, err
	}
	return worker.ProbeResult{Duration: b.Duration(), SampleRate: b.SampleRate, HasAudio: true}, nil
}

// fakeMuxer stands in for ffmpeg's video remux: it simply copies the new
// audio track's bytes to videoOut, since tests never inspect video content.
type fakeMuxer struct{}

func (fakeMuxer) Mux(_ context.Context, _, audioIn, videoOut string) error {
	data, err := os.ReadFile(audioIn)
	if err != nil {
		return err
	}
	return os.WriteFile(videoOut, data, 0o640)
}

func tone(sr int, seconds, freq, amplitude float64) *audiodsp.Buffer {
	n := int(seconds * float64(sr))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return &audiodsp.Buffer{Samples: samples, SampleRate: sr}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, job.Repository, *workspace.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	jobsRoot := t.TempDir()
	jobsRepo, err := job.NewFileRepository(jobsRoot, logger)
	require.NoError(t, err)

	voicesRoot := t.TempDir()
	voiceStore, err := voice.NewStore(voicesRoot, logger)
	require.NoError(t, err)

	ws := workspace.New(jobsRoot)

	artifacts, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	orch := New(
		jobsRepo,
		voiceStore,
		ws,
		fakeDemuxer{},
		fakeProber{},
		fakeMuxer{},
		worker.NewReferenceSeparator(testSampleRate),
		worker.ReferenceDiarizer{},
		worker.ReferenceTranscriber{},
		worker.NewReferenceTTS(testSampleRate),
		worker.NewReferenceMusicGenerator(testSampleRate),
		artifacts,
		testSampleRate,
		logger,
	)
	return orch, jobsRepo, ws
}

func waitForTerminal(t *testing.T, jobs job.Repository, jobID string) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := jobs.FindByID(context.Background(), jobID)
		require.NoError(t, err)
		if j.GetStatus().IsTerminal() {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", jobID)
	return nil
}

func TestRunAnalysis_ReachesAwaitingVoiceAssignment(t *testing.T) {
	orch, jobsRepo, _ := newTestOrchestrator(t)

	sourceDir := t.TempDir()
	sourcePath := filepath.Join(sourceDir, "clip.wav")
	require.NoError(t, tone(testSampleRate, 2.0, 220, 0.2).WriteWAV(sourcePath))

	j, err := orch.CreateFromUpload(context.Background(), job.InputAudio, "clip.wav")
	require.NoError(t, err)

	orch.RunAnalysis(context.Background(), j.ID, sourcePath)

	got, err := jobsRepo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusAwaitingVoiceAssignment, got.GetStatus())
	assert.InDelta(t, progressAwaitingVoiceAssign, got.Progress, 1e-9)
	require.NotEmpty(t, got.Speakers)
	require.NotEmpty(t, got.Segments)
	assert.Equal(t, "Speaker 1", got.Speakers[0].Label)

	// Invariant I1/I6: every segment's speaker_id exists among the job's speakers.
	for _, seg := range got.Segments {
		assert.True(t, got.HasSpeaker(seg.SpeakerID))
		assert.Less(t, seg.StartTime, seg.EndTime)
	}
}

func TestRunReplacement_CompletesWithOutputArtifact(t *testing.T) {
	orch, jobsRepo, ws := newTestOrchestrator(t)

	sourceDir := t.TempDir()
	sourcePath := filepath.Join(sourceDir, "clip.wav")
	require.NoError(t, tone(testSampleRate, 3.0, 220, 0.2).WriteWAV(sourcePath))

	j, err := orch.CreateFromUpload(context.Background(), job.InputAudio, "clip.wav")
	require.NoError(t, err)
	orch.RunAnalysis(context.Background(), j.ID, sourcePath)

	analyzed, err := jobsRepo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusAwaitingVoiceAssignment, analyzed.GetStatus())
	require.NotEmpty(t, analyzed.Speakers)

	refPath := filepath.Join(ws.Dir(j.ID, "references"), "ref.wav")
	require.NoError(t, tone(testSampleRate, 1.0, 440, 0.3).WriteWAV(refPath))

	assignments := []Assignment{{SpeakerID: analyzed.Speakers[0].SpeakerID, ReferenceAudioFile: "ref.wav"}}
	precheck, err := orch.CheckReplacementPreconditions(context.Background(), j.ID, assignments)
	require.NoError(t, err)

	orch.RunReplacement(context.Background(), precheck.ID, assignments)

	final, err := jobsRepo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, final.GetStatus())
	assert.Equal(t, 1.0, final.Progress)
	require.NotEmpty(t, final.OutputFile)
	_, statErr := os.Stat(final.OutputFile)
	assert.NoError(t, statErr, "completion invariant I5: output_file must exist on disk")
}

func TestCheckReplacementPreconditions_RejectsWrongState(t *testing.T) {
	orch, jobsRepo, _ := newTestOrchestrator(t)

	j := job.New(job.InputAudio, "clip.wav")
	require.NoError(t, jobsRepo.Save(context.Background(), j))

	_, err := orch.CheckReplacementPreconditions(context.Background(), j.ID, nil)
	assert.ErrorIs(t, err, ErrBadRequest)

	// The job itself must be untouched by a rejected precondition check.
	unchanged, err := jobsRepo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, unchanged.GetStatus())
}

func TestCheckReplacementPreconditions_RejectsUnknownSpeaker(t *testing.T) {
	orch, jobsRepo, _ := newTestOrchestrator(t)

	j := job.New(job.InputAudio, "clip.wav")
	j.SetSpeakers([]job.Speaker{{SpeakerID: "S0", Label: "Speaker 1"}})
	require.NoError(t, j.TransitionTo(job.StatusExtractingAudio))
	require.NoError(t, j.TransitionTo(job.StatusSeparating))
	require.NoError(t, j.TransitionTo(job.StatusDiarizing))
	require.NoError(t, j.TransitionTo(job.StatusTranscribing))
	require.NoError(t, j.TransitionTo(job.StatusAwaitingVoiceAssignment))
	require.NoError(t, jobsRepo.Save(context.Background(), j))

	_, err := orch.CheckReplacementPreconditions(context.Background(), j.ID,
		[]Assignment{{SpeakerID: "unknown-speaker", ReferenceAudioFile: "ref.wav"}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestRunTTS_ProducesWAVAndCompletes(t *testing.T) {
	orch, jobsRepo, _ := newTestOrchestrator(t)

	j, err := orch.RunTTS(context.Background(), TTSParams{Text: "hello world"})
	require.NoError(t, err)

	final := waitForTerminal(t, jobsRepo, j.ID)
	assert.Equal(t, job.StatusCompleted, final.GetStatus())
	require.NotEmpty(t, final.OutputFile)
	_, statErr := os.Stat(final.OutputFile)
	assert.NoError(t, statErr)
}

func TestRunMusic_ProducesWAVWithinDurationWindow(t *testing.T) {
	orch, jobsRepo, _ := newTestOrchestrator(t)

	j, err := orch.RunMusic(context.Background(), MusicParams{Prompt: "ambient", DurationSec: 2, Style: "electronic"})
	require.NoError(t, err)

	final := waitForTerminal(t, jobsRepo, j.ID)
	assert.Equal(t, job.StatusCompleted, final.GetStatus())
	require.NotEmpty(t, final.OutputFile)

	buf, err := audiodsp.Load(final.OutputFile)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, buf.Duration(), 0.5)
}

func TestRunMix_CompletesAndRejectsIncompleteJobs(t *testing.T) {
	orch, jobsRepo, _ := newTestOrchestrator(t)

	ttsJob, err := orch.RunTTS(context.Background(), TTSParams{Text: "hello world"})
	require.NoError(t, err)
	waitForTerminal(t, jobsRepo, ttsJob.ID)

	musicJob, err := orch.RunMusic(context.Background(), MusicParams{Prompt: "ambient", DurationSec: 2})
	require.NoError(t, err)
	waitForTerminal(t, jobsRepo, musicJob.ID)

	mixJob, err := orch.RunMix(context.Background(), MixParams{
		TTSJobID: ttsJob.ID, MusicJobID: musicJob.ID,
		TTSVolume: 0.85, MusicVolume: 0.30, MusicDelay: 0.5,
	})
	require.NoError(t, err)

	final := waitForTerminal(t, jobsRepo, mixJob.ID)
	assert.Equal(t, job.StatusCompleted, final.GetStatus())
	require.NotEmpty(t, final.OutputFile)

	// A job referencing an incomplete (still-PENDING) job must be rejected
	// synchronously as a bad request, never scheduled.
	pendingJob := job.New(job.InputText, "")
	require.NoError(t, jobsRepo.Save(context.Background(), pendingJob))
	_, err = orch.RunMix(context.Background(), MixParams{TTSJobID: ttsJob.ID, MusicJobID: pendingJob.ID})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestMergeAndFilterTurns_MergesGapsAndDropsShortSegments(t *testing.T) {
	turns := []worker.DiarizedTurn{
		{SpeakerID: "S0", StartTime: 0.0, EndTime: 1.0},
		{SpeakerID: "S0", StartTime: 1.2, EndTime: 2.0}, // gap 0.2s <= 0.3s threshold: merges
		{SpeakerID: "S1", StartTime: 2.0, EndTime: 2.2}, // 0.2s duration: dropped
		{SpeakerID: "S0", StartTime: 3.0, EndTime: 4.0}, // gap 1.0s from prior S0 run: new segment
	}

	merged := mergeAndFilterTurns(turns)

	require.Len(t, merged, 2)
	assert.Equal(t, "S0", merged[0].SpeakerID)
	assert.InDelta(t, 0.0, merged[0].StartTime, 1e-9)
	assert.InDelta(t, 2.0, merged[0].EndTime, 1e-9)
	assert.Equal(t, "S0", merged[1].SpeakerID)
	assert.InDelta(t, 3.0, merged[1].StartTime, 1e-9)
}

func TestDeriveSpeakers_LabelsByFirstAppearance(t *testing.T) {
	segments := []job.Segment{
		{SpeakerID: "S1", StartTime: 0, EndTime: 1},
		{SpeakerID: "S0", StartTime: 1, EndTime: 2},
		{SpeakerID: "S1", StartTime: 2, EndTime: 3},
	}

	speakers := deriveSpeakers(segments)

	require.Len(t, speakers, 2)
	assert.Equal(t, "S1", speakers[0].SpeakerID)
	assert.Equal(t, "Speaker 1", speakers[0].Label)
	assert.Equal(t, 2, speakers[0].SegmentCount)
	assert.Equal(t, "S0", speakers[1].SpeakerID)
	assert.Equal(t, "Speaker 2", speakers[1].Label)
	assert.Equal(t, 1, speakers[1].SegmentCount)
}
