// Package orchestrator drives a Job through its state machine: the five
// workflows (analysis, replacement, TTS, music, mix) that take it from
// PENDING to a terminal state. Each workflow runs as a fire-and-forget
// background task with a single failure sink, and reports explicit
// result-typed steps rather than relying on a catch-all exception
// boundary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/voiceclone/pipeline/internal/aligner"
	"github.com/voiceclone/pipeline/internal/audiodsp"
	"github.com/voiceclone/pipeline/internal/job"
	"github.com/voiceclone/pipeline/internal/merger"
	"github.com/voiceclone/pipeline/internal/storage"
	"github.com/voiceclone/pipeline/internal/voice"
	"github.com/voiceclone/pipeline/internal/worker"
	"github.com/voiceclone/pipeline/internal/workspace"
)

// Progress values published at each stage.
const (
	progressExtracting           = 0.05
	progressSeparating           = 0.15
	progressDiarizing            = 0.35
	progressTranscribing         = 0.50
	progressAwaitingVoiceAssign  = 0.65
	progressGeneratingSpeech     = 0.70
	progressSegmentRangeStart    = 0.70
	progressSegmentRangeEnd      = 0.85
	progressAligning             = 0.85
	progressMerging              = 0.90
	progressCompleted            = 1.0
)

const (
	mergeGapThreshold = 0.3
	minSegmentSeconds = 0.5
)

// ErrBadRequest wraps precondition failures surfaced synchronously to the
// entry point, never touching the Job.
var ErrBadRequest = errors.New("orchestrator: bad request")

// Assignment pairs a speaker with the reference audio filename or voice
// profile backing its synthesized voice.
type Assignment struct {
	SpeakerID             string
	ReferenceAudioFile    string
	VoiceID               string
}

// TTSParams are the user-supplied options for the standalone TTS workflow.
type TTSParams struct {
	Text           string
	ReferenceAudio string
	VoiceID        string
	Speed          float64
	Pitch          float64
	Language       string
	Model          string
	RefText        string
}

// MusicParams are the user-supplied options for music generation.
type MusicParams struct {
	Prompt         string
	DurationSec    float64
	Style          string
	ReferenceAudio string
}

// MixParams are the user-supplied options for the mix workflow.
type MixParams struct {
	TTSJobID    string
	MusicJobID  string
	TTSVolume   float64
	MusicVolume float64
	MusicDelay  float64
}

// Orchestrator wires the Job Store, Workspace Manager, and pluggable
// external workers together to drive jobs through their workflows.
type Orchestrator struct {
	jobs        job.Repository
	voices      *voice.Store
	workspace   *workspace.Manager
	demux       worker.Demuxer
	prober      worker.Prober
	muxer       worker.Muxer
	separator   worker.Separator
	diarizer    worker.Diarizer
	transcriber worker.Transcriber
	tts         worker.TTS
	musicGen    worker.MusicGenerator
	artifacts   storage.Storage
	ffmpegPath  string
	sampleRate  int
	minSpeakers int
	maxSpeakers int
	logger      *slog.Logger
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithFFmpegPath overrides the ffmpeg binary path used for MP3 export.
func WithFFmpegPath(path string) Option {
	return func(o *Orchestrator) { o.ffmpegPath = path }
}

// WithSpeakerBounds overrides the min/max speaker bounds passed to the
// Diarizer.
func WithSpeakerBounds(min, max int) Option {
	return func(o *Orchestrator) { o.minSpeakers, o.maxSpeakers = min, max }
}

// New constructs an Orchestrator.
func New(
	jobs job.Repository,
	voices *voice.Store,
	ws *workspace.Manager,
	demux worker.Demuxer,
	prober worker.Prober,
	muxer worker.Muxer,
	separator worker.Separator,
	diarizer worker.Diarizer,
	transcriber worker.Transcriber,
	tts worker.TTS,
	musicGen worker.MusicGenerator,
	artifacts storage.Storage,
	sampleRate int,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		jobs: jobs, voices: voices, workspace: ws,
		demux: demux, prober: prober, muxer: muxer,
		separator: separator, diarizer: diarizer, transcriber: transcriber,
		tts: tts, musicGen: musicGen, artifacts: artifacts,
		sampleRate: sampleRate, minSpeakers: 1, maxSpeakers: 8,
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// fail transitions j to FAILED, records err, and persists. This is the
// single sink every workflow routes its errors through.
func (o *Orchestrator) fail(ctx context.Context, j *job.Job, err error) {
	o.logger.Error("orchestrator: workflow failed",
		slog.String("job_id", j.ID), slog.String("error", err.Error()))
	j.Fail(err.Error())
	if saveErr := o.jobs.Save(ctx, j); saveErr != nil {
		o.logger.Error("orchestrator: failed to persist failure", slog.String("job_id", j.ID))
	}
}

// backupOutput uploads a completed job's primary artifact through the
// Storage port. LocalStorage reports ErrS3NotConfigured, so this is a
// silent no-op when no S3 bucket is configured; any other failure is
// logged but never fails the job, since the artifact is already durable
// on the local workspace disk.
func (o *Orchestrator) backupOutput(ctx context.Context, j *job.Job, path string) {
	if o.artifacts == nil || path == "" {
		return
	}
	f, err := os.Open(path) // #nosec G304 - path is a workspace-owned output file
	if err != nil {
		o.logger.Warn("orchestrator: cannot open output for backup",
			slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	key := fmt.Sprintf("jobs/%s/output/%s", j.ID, filepath.Base(path))
	url, err := o.artifacts.UploadToS3(ctx, key, f)
	if err != nil {
		if errors.Is(err, storage.ErrS3NotConfigured) {
			return
		}
		o.logger.Warn("orchestrator: output artifact backup failed",
			slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return
	}
	o.logger.Info("orchestrator: output artifact backed up",
		slog.String("job_id", j.ID), slog.String("url", url))
}

func (o *Orchestrator) progress(ctx context.Context, j *job.Job, p float64) {
	j.SetProgress(p)
	if err := o.jobs.Save(ctx, j); err != nil {
		o.logger.Warn("orchestrator: failed to persist progress", slog.String("job_id", j.ID))
	}
}

// CreateFromUpload starts the analysis workflow.
// Cheap validation and Job creation happen synchronously; RunAnalysis
// must be launched as a fire-and-forget background task by the caller.
func (o *Orchestrator) CreateFromUpload(ctx context.Context, inputKind job.InputKind, inputFilename string) (*job.Job, error) {
	j := job.New(inputKind, inputFilename)
	if err := o.workspace.Create(j.ID); err != nil {
		return nil, fmt.Errorf("orchestrator: allocate workspace: %w", err)
	}
	if err := o.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("orchestrator: save job: %w", err)
	}
	return j, nil
}

// RunAnalysis executes the analysis workflow: extract/transcode, separate,
// diarize, merge/filter, transcribe, derive speakers, then await assignment.
func (o *Orchestrator) RunAnalysis(ctx context.Context, jobID, sourcePath string) {
	j, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		o.logger.Error("orchestrator: analysis workflow could not load job", slog.String("job_id", jobID))
		return
	}

	audioPath, err := o.extractAudio(ctx, j, sourcePath)
	if err != nil {
		o.fail(ctx, j, err)
		return
	}

	vocalsPath, accompanimentPath, err := o.separateTracks(ctx, j, audioPath)
	if err != nil {
		o.fail(ctx, j, err)
		return
	}

	segments, err := o.diarizeAndTranscribe(ctx, j, vocalsPath)
	if err != nil {
		o.fail(ctx, j, err)
		return
	}
	_ = accompanimentPath

	j.SetSegments(segments)
	j.SetSpeakers(deriveSpeakers(segments))

	if err := j.TransitionTo(job.StatusAwaitingVoiceAssignment); err != nil {
		o.fail(ctx, j, err)
		return
	}
	o.progress(ctx, j, progressAwaitingVoiceAssign)
}

func (o *Orchestrator) extractAudio(ctx context.Context, j *job.Job, sourcePath string) (string, error) {
	if err := j.TransitionTo(job.StatusExtractingAudio); err != nil {
		return "", err
	}
	o.progress(ctx, j, progressExtracting)

	audioPath := filepath.Join(o.workspace.Dir(j.ID, "input"), workspace.CanonicalAudioName)
	if isVideoFile(sourcePath) {
		if err := o.demux.Demux(ctx, sourcePath, audioPath, o.sampleRate); err != nil {
			return "", fmt.Errorf("demux: %w", err)
		}
	} else {
		if err := o.demux.Demux(ctx, sourcePath, audioPath, o.sampleRate); err != nil {
			return "", fmt.Errorf("transcode audio: %w", err)
		}
	}
	return audioPath, nil
}

func (o *Orchestrator) separateTracks(ctx context.Context, j *job.Job, audioPath string) (string, string, error) {
	if err := j.TransitionTo(job.StatusSeparating); err != nil {
		return "", "", err
	}
	o.progress(ctx, j, progressSeparating)

	vocalsPath, accompanimentPath, err := o.separator.Separate(ctx, audioPath, o.workspace.Root(j.ID))
	if err != nil {
		return "", "", fmt.Errorf("separate: %w", err)
	}
	return vocalsPath, accompanimentPath, nil
}

func (o *Orchestrator) diarizeAndTranscribe(ctx context.Context, j *job.Job, vocalsPath string) ([]job.Segment, error) {
	if err := j.TransitionTo(job.StatusDiarizing); err != nil {
		return nil, err
	}
	o.progress(ctx, j, progressDiarizing)

	turns, err := o.diarizer.Diarize(ctx, vocalsPath, o.minSpeakers, o.maxSpeakers)
	if err != nil {
		return nil, fmt.Errorf("diarize: %w", err)
	}
	sort.Slice(turns, func(i, k int) bool { return turns[i].StartTime < turns[k].StartTime })

	segments := mergeAndFilterTurns(turns)

	if err := j.TransitionTo(job.StatusTranscribing); err != nil {
		return nil, err
	}
	o.progress(ctx, j, progressTranscribing)

	vocals, err := audiodsp.Load(vocalsPath)
	if err != nil {
		return nil, fmt.Errorf("load vocals for transcription: %w", err)
	}

	for i := range segments {
		segPath, cutErr := o.extractSegmentAudio(vocals, j.ID, i, segments[i])
		if cutErr != nil {
			o.logger.Warn("orchestrator: failed to cut segment audio, leaving text empty",
				slog.String("job_id", j.ID), slog.Int("index", i), slog.String("error", cutErr.Error()))
			continue
		}
		text, transcribeErr := o.transcriber.Transcribe(ctx, segPath)
		if transcribeErr != nil {
			o.logger.Warn("orchestrator: transcription failed for segment, leaving text empty",
				slog.String("job_id", j.ID), slog.Int("index", i), slog.String("error", transcribeErr.Error()))
			continue
		}
		segments[i].Text = text
	}

	return segments, nil
}

// extractSegmentAudio slices [seg.StartTime, seg.EndTime) out of the
// already-decoded vocals buffer and writes it to segments/turn_<index>.wav
// for the Transcriber, which expects one file per segment rather than the
// whole vocals track.
func (o *Orchestrator) extractSegmentAudio(vocals *audiodsp.Buffer, jobID string, index int, seg job.Segment) (string, error) {
	sr := vocals.SampleRate
	start := int(seg.StartTime * float64(sr))
	end := int(seg.EndTime * float64(sr))
	if start < 0 {
		start = 0
	}
	if end > len(vocals.Samples) {
		end = len(vocals.Samples)
	}
	if start >= end {
		return "", fmt.Errorf("orchestrator: empty segment range [%d,%d)", start, end)
	}

	clip := &audiodsp.Buffer{
		Samples:    append([]float64(nil), vocals.Samples[start:end]...),
		SampleRate: sr,
	}
	out := filepath.Join(o.workspace.Dir(jobID, "segments"), fmt.Sprintf("turn_%04d.wav", index))
	if err := clip.WriteWAV(out); err != nil {
		return "", err
	}
	return out, nil
}

// mergeAndFilterTurns merges consecutive same-speaker turns whose gap is
// <= mergeGapThreshold, then discards segments shorter than
// minSegmentSeconds. Diarized turns carry no text (transcription runs
// afterwards on the merged segments), so only the time spans are merged.
func mergeAndFilterTurns(turns []worker.DiarizedTurn) []job.Segment {
	if len(turns) == 0 {
		return nil
	}

	merged := make([]job.Segment, 0, len(turns))
	current := job.Segment{SpeakerID: turns[0].SpeakerID, StartTime: turns[0].StartTime, EndTime: turns[0].EndTime}

	for _, t := range turns[1:] {
		gap := t.StartTime - current.EndTime
		if t.SpeakerID == current.SpeakerID && gap <= mergeGapThreshold {
			current.EndTime = t.EndTime
		} else {
			merged = append(merged, current)
			current = job.Segment{SpeakerID: t.SpeakerID, StartTime: t.StartTime, EndTime: t.EndTime}
		}
	}
	merged = append(merged, current)

	filtered := make([]job.Segment, 0, len(merged))
	for _, s := range merged {
		if s.Duration() >= minSegmentSeconds {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// deriveSpeakers groups segments by speaker_id, labeling them "Speaker N"
// in order of first appearance.
func deriveSpeakers(segments []job.Segment) []job.Speaker {
	order := make([]string, 0)
	counts := make(map[string]int)
	durations := make(map[string]float64)

	for _, s := range segments {
		if _, seen := counts[s.SpeakerID]; !seen {
			order = append(order, s.SpeakerID)
		}
		counts[s.SpeakerID]++
		durations[s.SpeakerID] += s.Duration()
	}

	speakers := make([]job.Speaker, len(order))
	for i, id := range order {
		speakers[i] = job.Speaker{
			SpeakerID:     id,
			Label:         fmt.Sprintf("Speaker %d", i+1),
			SegmentCount:  counts[id],
			TotalDuration: durations[id],
		}
	}
	return speakers
}

func isVideoFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mkv", ".avi", ".mov", ".webm", ".flv":
		return true
	default:
		return false
	}
}

// RunReplacement executes the replacement workflow.
// Preconditions must already have been checked by the caller via
// CheckReplacementPreconditions.
func (o *Orchestrator) RunReplacement(ctx context.Context, jobID string, assignments []Assignment) {
	j, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		o.logger.Error("orchestrator: replacement workflow could not load job", slog.String("job_id", jobID))
		return
	}

	for _, a := range assignments {
		j.AssignVoice(a.SpeakerID, a.ReferenceAudioFile)
	}
	if err := o.jobs.Save(ctx, j); err != nil {
		o.logger.Warn("orchestrator: failed to persist voice assignments", slog.String("job_id", j.ID))
	}

	if err := j.TransitionTo(job.StatusGeneratingSpeech); err != nil {
		o.fail(ctx, j, err)
		return
	}
	o.progress(ctx, j, progressGeneratingSpeech)

	refBySpeaker := make(map[string]string, len(assignments))
	for _, a := range assignments {
		refBySpeaker[a.SpeakerID] = a.ReferenceAudioFile
	}

	tasks := make([]aligner.Task, 0, len(j.Segments))
	segIndexBySpeaker := make(map[string]int)
	for i, seg := range j.Segments {
		o.progress(ctx, j, segmentProgress(i, len(j.Segments)))

		ref, ok := refBySpeaker[seg.SpeakerID]
		if !ok {
			o.logger.Warn("orchestrator: no voice assignment for speaker, skipping segment",
				slog.String("job_id", j.ID), slog.String("speaker_id", seg.SpeakerID))
			continue
		}

		synthDir := o.workspace.Dir(j.ID, "segments")
		wavPath, synthErr := o.tts.Synthesize(ctx, worker.TTSRequest{
			Text:           seg.Text,
			ReferenceAudio: ref,
			TargetDuration: seg.Duration(),
		}, synthDir)
		if synthErr != nil {
			o.logger.Warn("orchestrator: speech synthesis failed for segment, skipping",
				slog.String("job_id", j.ID), slog.Int("index", i), slog.String("error", synthErr.Error()))
			continue
		}

		idx := segIndexBySpeaker[seg.SpeakerID]
		segIndexBySpeaker[seg.SpeakerID]++
		tasks = append(tasks, aligner.Task{
			SpeakerID:      seg.SpeakerID,
			Index:          idx,
			SourcePath:     wavPath,
			TargetDuration: seg.Duration(),
		})
		j.Segments[i].AlignedPath = wavPath // placeholder until aligned below
	}

	if err := j.TransitionTo(job.StatusAligning); err != nil {
		o.fail(ctx, j, err)
		return
	}
	o.progress(ctx, j, progressAligning)

	outDir := o.workspace.Dir(j.ID, "segments")
	results := aligner.AlignAll(ctx, o.logger, tasks, outDir)
	alignedBySource := make(map[string]string, len(results))
	for _, r := range results {
		if r.Err == nil {
			alignedBySource[r.SourcePath] = r.AlignedPath
		}
	}
	for i, seg := range j.Segments {
		if aligned, ok := alignedBySource[seg.AlignedPath]; ok {
			j.Segments[i].AlignedPath = aligned
		}
	}

	musicPath, err := o.workspace.ResolveMusic(j.ID)
	if err != nil {
		o.fail(ctx, j, fmt.Errorf("locate music track: %w", err))
		return
	}

	audioPath := filepath.Join(o.workspace.Dir(j.ID, "input"), workspace.CanonicalAudioName)
	probe, err := o.prober.Probe(ctx, audioPath)
	if err != nil {
		o.fail(ctx, j, fmt.Errorf("measure original duration: %w", err))
		return
	}

	if err := j.TransitionTo(job.StatusMerging); err != nil {
		o.fail(ctx, j, err)
		return
	}
	o.progress(ctx, j, progressMerging)

	mergeSegments := make([]merger.Segment, 0, len(j.Segments))
	for _, seg := range j.Segments {
		if seg.AlignedPath == "" {
			continue
		}
		mergeSegments = append(mergeSegments, merger.Segment{
			AlignedPath: seg.AlignedPath,
			TargetStart: seg.StartTime,
			TargetEnd:   seg.EndTime,
		})
	}

	result, err := merger.Merge(o.logger, mergeSegments, musicPath, probe.Duration, o.sampleRate)
	if err != nil {
		o.fail(ctx, j, fmt.Errorf("merge: %w", err))
		return
	}

	outputDir := o.workspace.Dir(j.ID, "output")
	wavPath := filepath.Join(outputDir, "final.wav")
	if err := result.Mixed.WriteWAV(wavPath); err != nil {
		o.fail(ctx, j, fmt.Errorf("write merged wav: %w", err))
		return
	}

	finalOutput := wavPath
	originalUpload := o.workspace.ResolveOriginal(j.ID)
	if originalUpload != "" && isVideoFile(originalUpload) {
		videoOut := filepath.Join(outputDir, "final.mp4")
		if err := o.muxer.Mux(ctx, originalUpload, wavPath, videoOut); err != nil {
			o.fail(ctx, j, fmt.Errorf("remux video: %w", err))
			return
		}
		finalOutput = videoOut
	}

	mp3Path := filepath.Join(outputDir, "final.mp3")
	if err := merger.ExportMP3(ctx, o.ffmpegPath, wavPath, mp3Path); err != nil {
		o.logger.Warn("orchestrator: mp3 export failed, keeping wav as primary artifact",
			slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}

	j.SetOutput(finalOutput)
	if err := o.jobs.Save(ctx, j); err != nil {
		o.logger.Error("orchestrator: failed to persist completed job", slog.String("job_id", j.ID))
	}
	o.backupOutput(ctx, j, finalOutput)
}

// CheckReplacementPreconditions validates a replacement request before any
// state change.
func (o *Orchestrator) CheckReplacementPreconditions(ctx context.Context, jobID string, assignments []Assignment) (*job.Job, error) {
	j, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.GetStatus() != job.StatusAwaitingVoiceAssignment {
		return nil, fmt.Errorf("%w: job %s is not awaiting voice assignment", ErrBadRequest, jobID)
	}
	for _, a := range assignments {
		if !j.HasSpeaker(a.SpeakerID) {
			return nil, fmt.Errorf("%w: unknown speaker_id %s", ErrBadRequest, a.SpeakerID)
		}
		refPath := filepath.Join(o.workspace.Dir(jobID, "references"), a.ReferenceAudioFile)
		if !fileExists(refPath) {
			return nil, fmt.Errorf("%w: reference file %s not found", ErrBadRequest, a.ReferenceAudioFile)
		}
	}
	return j, nil
}

// RunTTS executes the standalone TTS workflow.
func (o *Orchestrator) RunTTS(ctx context.Context, p TTSParams) (*job.Job, error) {
	j := job.New(job.InputText, "")
	if err := o.workspace.Create(j.ID); err != nil {
		return nil, fmt.Errorf("orchestrator: allocate workspace: %w", err)
	}
	if err := o.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("orchestrator: save job: %w", err)
	}

	go o.runTTSBackground(context.WithoutCancel(ctx), j.ID, p)
	return j, nil
}

func (o *Orchestrator) runTTSBackground(ctx context.Context, jobID string, p TTSParams) {
	j, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		o.logger.Error("orchestrator: tts workflow could not load job", slog.String("job_id", jobID))
		return
	}
	if err := j.TransitionTo(job.StatusGeneratingSpeech); err != nil {
		o.fail(ctx, j, err)
		return
	}
	o.progress(ctx, j, progressGeneratingSpeech)

	outDir := o.workspace.Dir(j.ID, "output")
	wavPath, err := o.tts.Synthesize(ctx, worker.TTSRequest{
		Text: p.Text, ReferenceAudio: p.ReferenceAudio, Language: p.Language,
		RefText: p.RefText, Speed: p.Speed, Pitch: p.Pitch, Model: p.Model,
	}, outDir)
	if err != nil {
		o.fail(ctx, j, fmt.Errorf("synthesize: %w", err))
		return
	}

	mp3Path := filepath.Join(outDir, "tts_output.mp3")
	if err := merger.ExportMP3(ctx, o.ffmpegPath, wavPath, mp3Path); err != nil {
		o.logger.Warn("orchestrator: mp3 export failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}

	j.SetOutput(wavPath)
	if err := o.jobs.Save(ctx, j); err != nil {
		o.logger.Error("orchestrator: failed to persist completed tts job", slog.String("job_id", j.ID))
	}
	o.backupOutput(ctx, j, wavPath)
}

// RunMusic executes the music-generation workflow.
func (o *Orchestrator) RunMusic(ctx context.Context, p MusicParams) (*job.Job, error) {
	j := job.New(job.InputText, "")
	if err := o.workspace.Create(j.ID); err != nil {
		return nil, fmt.Errorf("orchestrator: allocate workspace: %w", err)
	}
	if err := o.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("orchestrator: save job: %w", err)
	}

	go o.runMusicBackground(context.WithoutCancel(ctx), j.ID, p)
	return j, nil
}

func (o *Orchestrator) runMusicBackground(ctx context.Context, jobID string, p MusicParams) {
	j, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		o.logger.Error("orchestrator: music workflow could not load job", slog.String("job_id", jobID))
		return
	}
	if err := j.TransitionTo(job.StatusGeneratingSpeech); err != nil {
		o.fail(ctx, j, err)
		return
	}
	o.progress(ctx, j, progressGeneratingSpeech)

	outDir := o.workspace.Dir(j.ID, "output")
	wavPath, err := o.musicGen.Generate(ctx, worker.MusicRequest{
		Prompt: p.Prompt, DurationSec: p.DurationSec, Style: p.Style, ReferenceAudio: p.ReferenceAudio,
	}, outDir)
	if err != nil {
		o.fail(ctx, j, fmt.Errorf("generate music: %w", err))
		return
	}

	mp3Path := filepath.Join(outDir, "music_output.mp3")
	if err := merger.ExportMP3(ctx, o.ffmpegPath, wavPath, mp3Path); err != nil {
		o.logger.Warn("orchestrator: mp3 export failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}

	j.SetOutput(wavPath)
	if err := o.jobs.Save(ctx, j); err != nil {
		o.logger.Error("orchestrator: failed to persist completed music job", slog.String("job_id", j.ID))
	}
	o.backupOutput(ctx, j, wavPath)
}

// RunMix executes the mix workflow.
func (o *Orchestrator) RunMix(ctx context.Context, p MixParams) (*job.Job, error) {
	ttsJob, err := o.jobs.FindByID(ctx, p.TTSJobID)
	if err != nil {
		return nil, fmt.Errorf("%w: tts_job_id not found", ErrBadRequest)
	}
	musicJob, err := o.jobs.FindByID(ctx, p.MusicJobID)
	if err != nil {
		return nil, fmt.Errorf("%w: music_job_id not found", ErrBadRequest)
	}
	if ttsJob.GetStatus() != job.StatusCompleted || ttsJob.OutputFile == "" {
		return nil, fmt.Errorf("%w: tts_job_id is not a completed job with output", ErrBadRequest)
	}
	if musicJob.GetStatus() != job.StatusCompleted || musicJob.OutputFile == "" {
		return nil, fmt.Errorf("%w: music_job_id is not a completed job with output", ErrBadRequest)
	}

	j := job.New(job.InputText, "")
	if err := o.workspace.Create(j.ID); err != nil {
		return nil, fmt.Errorf("orchestrator: allocate workspace: %w", err)
	}
	if err := o.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("orchestrator: save job: %w", err)
	}

	go o.runMixBackground(context.WithoutCancel(ctx), j.ID, ttsJob.OutputFile, musicJob.OutputFile, p)
	return j, nil
}

func (o *Orchestrator) runMixBackground(ctx context.Context, jobID, speechPath, musicPath string, p MixParams) {
	j, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		o.logger.Error("orchestrator: mix workflow could not load job", slog.String("job_id", jobID))
		return
	}
	if err := j.TransitionTo(job.StatusMerging); err != nil {
		o.fail(ctx, j, err)
		return
	}
	o.progress(ctx, j, progressMerging)

	mixed, err := merger.SimpleMix(speechPath, musicPath, o.sampleRate, p.TTSVolume, p.MusicVolume, p.MusicDelay)
	if err != nil {
		o.fail(ctx, j, fmt.Errorf("mix: %w", err))
		return
	}

	outPath := filepath.Join(o.workspace.Dir(j.ID, "output"), "mix_output.wav")
	if err := mixed.WriteWAV(outPath); err != nil {
		o.fail(ctx, j, fmt.Errorf("write mix output: %w", err))
		return
	}

	j.SetOutput(outPath)
	if err := o.jobs.Save(ctx, j); err != nil {
		o.logger.Error("orchestrator: failed to persist completed mix job", slog.String("job_id", j.ID))
	}
	o.backupOutput(ctx, j, outPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// segmentProgress linearly interpolates the per-segment progress range.
func segmentProgress(index, total int) float64 {
	if total <= 0 {
		return progressSegmentRangeStart
	}
	frac := float64(index) / float64(total)
	return progressSegmentRangeStart + frac*(progressSegmentRangeEnd-progressSegmentRangeStart)
}
