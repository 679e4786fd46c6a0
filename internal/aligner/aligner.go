// Package aligner implements the Aligner (C3): forces a synthesized
// speech clip to occupy an exact target duration with minimal audible
// damage, and batch-aligns many clips for the replacement workflow.
// Built on audiodsp's decoded sample buffers rather than shelling out to
// ffmpeg, since time-stretch and crossfade both need direct sample access.
package aligner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/voiceclone/pipeline/internal/audiodsp"
)

const (
	toleranceSeconds = 0.050
	minStretchRatio  = 0.5
	maxStretchRatio  = 2.5
	fadeOutSeconds   = 0.010
)

// Align forces in to occupy exactly targetDuration seconds at in's own
// sample rate: an exact pad/trim within tolerance, a time-stretch within
// [0.5, 2.5], or otherwise a pad/trim fallback with a logged warning on
// audible mismatch.
func Align(logger *slog.Logger, in *audiodsp.Buffer, targetDuration float64) *audiodsp.Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	sr := in.SampleRate
	targetSamples := int(math.Floor(targetDuration * float64(sr)))

	actualDuration := in.Duration()
	ratio := 1.0
	if targetDuration > 0 {
		ratio = actualDuration / targetDuration
	}

	switch {
	case math.Abs(actualDuration-targetDuration) <= toleranceSeconds:
		return PadOrTrim(in, targetSamples)
	case ratio >= minStretchRatio && ratio <= maxStretchRatio:
		stretched := TimeStretch(in, ratio)
		return PadOrTrim(stretched, targetSamples)
	default:
		logger.Warn("aligner: stretch ratio out of range, falling back to pad/trim",
			slog.Float64("ratio", ratio),
			slog.Float64("actual_duration", actualDuration),
			slog.Float64("target_duration", targetDuration),
		)
		return PadOrTrim(in, targetSamples)
	}
}

// TimeStretch changes in's duration by rate without altering its sample
// rate, by resampling at rate*sr and relabeling the result back at sr.
// This is a linear-interpolation stretch, not a phase vocoder: pitch
// shifts along with tempo. It stands in for the reference TTS engine's
// own internal time-stretch whenever an Align caller needs
// one directly, and is deliberately simple since no phase-vocoder
// library appears anywhere in the example pack.
func TimeStretch(in *audiodsp.Buffer, rate float64) *audiodsp.Buffer {
	if rate <= 0 || len(in.Samples) == 0 {
		return &audiodsp.Buffer{Samples: append([]float64(nil), in.Samples...), SampleRate: in.SampleRate}
	}
	virtualRate := int(math.Round(float64(in.SampleRate) * rate))
	if virtualRate <= 0 {
		virtualRate = in.SampleRate
	}
	relabeled := &audiodsp.Buffer{Samples: in.Samples, SampleRate: virtualRate}
	stretched := relabeled.Resample(in.SampleRate)
	stretched.SampleRate = in.SampleRate
	return stretched
}

// PadOrTrim returns in resized to exactly targetSamples: truncating
// applies a linear fadeOutSeconds fade at the cut point, extending
// appends zero-valued samples.
func PadOrTrim(in *audiodsp.Buffer, targetSamples int) *audiodsp.Buffer {
	if targetSamples < 0 {
		targetSamples = 0
	}
	sr := in.SampleRate
	out := make([]float64, targetSamples)

	if len(in.Samples) >= targetSamples {
		copy(out, in.Samples[:targetSamples])
		fadeLen := int(fadeOutSeconds * float64(sr))
		if fadeLen > targetSamples {
			fadeLen = targetSamples
		}
		start := targetSamples - fadeLen
		for i := 0; i < fadeLen; i++ {
			gain := 1.0 - float64(i)/float64(fadeLen)
			out[start+i] *= gain
		}
	} else {
		copy(out, in.Samples)
	}

	return &audiodsp.Buffer{Samples: out, SampleRate: sr}
}

// Crossfade mixes the tail of a with the head of b under linear
// complementary envelopes: a fades 1→0, b fades 0→1, over
// f = min(fadeDuration*sr, len(a), len(b)) samples. The result is
// len(a) + len(b) - f samples long.
func Crossfade(a, b *audiodsp.Buffer, fadeDuration float64) *audiodsp.Buffer {
	sr := a.SampleRate
	f := int(fadeDuration * float64(sr))
	if f > len(a.Samples) {
		f = len(a.Samples)
	}
	if f > len(b.Samples) {
		f = len(b.Samples)
	}
	if f < 0 {
		f = 0
	}

	outLen := len(a.Samples) + len(b.Samples) - f
	out := make([]float64, outLen)

	copy(out, a.Samples[:len(a.Samples)-f])

	overlapStart := len(a.Samples) - f
	for i := 0; i < f; i++ {
		gainA := 1.0 - float64(i)/float64(f)
		gainB := float64(i) / float64(f)
		out[overlapStart+i] = a.Samples[len(a.Samples)-f+i]*gainA + b.Samples[i]*gainB
	}

	copy(out[overlapStart+f:], b.Samples[f:])

	return &audiodsp.Buffer{Samples: out, SampleRate: sr}
}

// Task describes one synthesized clip awaiting alignment in a batch.
type Task struct {
	SpeakerID      string
	Index          int
	SourcePath     string
	TargetDuration float64
}

// Result is the outcome of aligning one Task.
type Result struct {
	Task
	AlignedPath string
	Err         error
}

// AlignAll batch-aligns tasks, writing one file per task to outDir named
// aligned_<speaker>_<index:04>.wav. Tasks with a non-positive target
// duration are skipped — their AlignedPath is left equal to SourcePath.
// Per-task failures are logged but never abort the batch.
func AlignAll(ctx context.Context, logger *slog.Logger, tasks []Task, outDir string) []Result {
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]Result, len(tasks))

	for i, task := range tasks {
		select {
		case <-ctx.Done():
			results[i] = Result{Task: task, Err: ctx.Err()}
			continue
		default:
		}

		if task.TargetDuration <= 0 {
			results[i] = Result{Task: task, AlignedPath: task.SourcePath}
			continue
		}

		in, err := audiodsp.Load(task.SourcePath)
		if err != nil {
			logger.Warn("aligner: failed to load segment, skipping",
				slog.String("speaker_id", task.SpeakerID),
				slog.Int("index", task.Index),
				slog.String("error", err.Error()),
			)
			results[i] = Result{Task: task, Err: err}
			continue
		}

		aligned := Align(logger, in, task.TargetDuration)
		outPath := filepath.Join(outDir, fmt.Sprintf("aligned_%s_%04d.wav", task.SpeakerID, task.Index))
		if err := aligned.WriteWAV(outPath); err != nil {
			logger.Warn("aligner: failed to write aligned segment, skipping",
				slog.String("speaker_id", task.SpeakerID),
				slog.Int("index", task.Index),
				slog.String("error", err.Error()),
			)
			results[i] = Result{Task: task, Err: err}
			continue
		}

		results[i] = Result{Task: task, AlignedPath: outPath}
	}

	return results
}
