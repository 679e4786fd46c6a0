// Package merger implements the Merger (C4): composes many time-stamped
// speech clips onto a background music track with automatic ducking,
// the simple two-track mix used by the TTS+music workflow, and MP3
// export of the resulting WAV. Video rebuild lives in worker.Muxer,
// which implements the same ffmpeg stream-copy-and-mux contract and the
// same exec.CommandContext-plus-stderr-capture invocation style.
package merger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"

	"github.com/voiceclone/pipeline/internal/audiodsp"
)

const (
	duckThresholdDBFS  = -40.0
	duckSmoothSeconds  = 0.02
	duckRethreshold    = 0.3
	duckGainDucked     = 0.4
	duckGainOpen       = 1.0
	normalizeTargetDB  = -1.0
	normalizePeakFloor = 1e-8
	segmentFadeSeconds = 0.015
	mixFadeSeconds     = 0.5
)

// Segment is one synthesized clip placed at an absolute time in the
// final mix.
type Segment struct {
	AlignedPath string
	TargetStart float64
	TargetEnd   float64
}

// Result is the outcome of a merge: the mixed buffer plus the gain
// envelope actually applied to the music track, exposed for testing the
// ducking law.
type Result struct {
	Mixed *audiodsp.Buffer
	Gain  []float64
}

// Merge lays segments onto musicPath, ducking the music under speech,
// and returns the mixed, peak-normalized buffer.
func Merge(logger *slog.Logger, segments []Segment, musicPath string, totalDuration float64, sampleRate int) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	canvasLen := int(math.Ceil(totalDuration * float64(sampleRate)))
	speech := make([]float64, canvasLen)

	music, err := loadAndFit(musicPath, sampleRate, canvasLen)
	if err != nil {
		return nil, fmt.Errorf("merger: load music: %w", err)
	}

	for _, seg := range segments {
		clip, err := audiodsp.Load(seg.AlignedPath)
		if err != nil {
			logger.Warn("merger: failed to load segment, skipping",
				slog.String("path", seg.AlignedPath), slog.String("error", err.Error()))
			continue
		}
		if clip.SampleRate != sampleRate {
			clip = clip.Resample(sampleRate)
		}
		applyFade(clip.Samples, segmentFadeSeconds, float64(sampleRate))
		accumulate(speech, clip.Samples, int(math.Floor(seg.TargetStart*float64(sampleRate))))
	}

	gain := duckingEnvelope(speech, sampleRate)

	mixed := make([]float64, canvasLen)
	for i := range mixed {
		mixed[i] = speech[i] + music[i]*gain[i]
	}
	normalizePeak(mixed)

	return &Result{
		Mixed: &audiodsp.Buffer{Samples: mixed, SampleRate: sampleRate},
		Gain:  gain,
	}, nil
}

// SimpleMix implements the convenience two-track mix for the TTS+music
// workflow: a single speech clip at
// target_start=0, optional leading silence on the music for a "delay",
// volume scaling on both tracks, and no ducking.
func SimpleMix(speechPath, musicPath string, sampleRate int, ttsVolume, musicVolume, musicDelay float64) (*audiodsp.Buffer, error) {
	speechClip, err := audiodsp.Load(speechPath)
	if err != nil {
		return nil, fmt.Errorf("merger: load speech: %w", err)
	}
	if speechClip.SampleRate != sampleRate {
		speechClip = speechClip.Resample(sampleRate)
	}

	canvasLen := len(speechClip.Samples)
	speech := make([]float64, canvasLen)
	copy(speech, speechClip.Samples)
	audiodsp.Scale(speech, ttsVolume)

	delaySamples := int(math.Round(musicDelay * float64(sampleRate)))

	musicClip, err := audiodsp.Load(musicPath)
	if err != nil {
		return nil, fmt.Errorf("merger: load music: %w", err)
	}
	if musicClip.SampleRate != sampleRate {
		musicClip = musicClip.Resample(sampleRate)
	}

	music := make([]float64, canvasLen)
	accumulate(music, musicClip.Samples, delaySamples)
	audiodsp.Scale(music, musicVolume)

	applyFadeAt(music, mixFadeSeconds, float64(sampleRate), delaySamples)
	applyFadeOutTail(music, mixFadeSeconds, float64(sampleRate))

	mixed := make([]float64, canvasLen)
	for i := range mixed {
		mixed[i] = speech[i] + music[i]
	}
	normalizePeak(mixed)

	return &audiodsp.Buffer{Samples: mixed, SampleRate: sampleRate}, nil
}

// loadAndFit loads path, resamples to sampleRate if needed, and pads
// with zeros or truncates to exactly n samples.
func loadAndFit(path string, sampleRate, n int) ([]float64, error) {
	b, err := audiodsp.Load(path)
	if err != nil {
		return nil, err
	}
	if b.SampleRate != sampleRate {
		b = b.Resample(sampleRate)
	}
	out := make([]float64, n)
	copy(out, b.Samples)
	return out, nil
}

// accumulate additively sums src into dst starting at startSample,
// clamping to dst's bounds.
func accumulate(dst, src []float64, startSample int) {
	srcStart := 0
	if startSample < 0 {
		srcStart = -startSample
		startSample = 0
	}
	for i := srcStart; i < len(src); i++ {
		pos := startSample + (i - srcStart)
		if pos >= len(dst) {
			break
		}
		dst[pos] += src[i]
	}
}

// applyFade applies a symmetric linear fade-in/fade-out to samples,
// each capped at half the clip length.
func applyFade(samples []float64, seconds, sampleRate float64) {
	n := len(samples)
	fadeLen := int(seconds * sampleRate)
	if fadeLen > n/2 {
		fadeLen = n / 2
	}
	for i := 0; i < fadeLen; i++ {
		gain := float64(i) / float64(fadeLen)
		samples[i] *= gain
		samples[n-1-i] *= gain
	}
}

// applyFadeAt applies a linear fade-in of seconds*sampleRate samples
// starting at offset (used by SimpleMix's music-delay fade-in).
func applyFadeAt(samples []float64, seconds, sampleRate float64, offset int) {
	fadeLen := int(seconds * sampleRate)
	for i := 0; i < fadeLen; i++ {
		pos := offset + i
		if pos < 0 || pos >= len(samples) {
			continue
		}
		samples[pos] *= float64(i) / float64(fadeLen)
	}
}

// applyFadeOutTail applies a linear fade-out over the final
// seconds*sampleRate samples.
func applyFadeOutTail(samples []float64, seconds, sampleRate float64) {
	fadeLen := int(seconds * sampleRate)
	n := len(samples)
	if fadeLen > n {
		fadeLen = n
	}
	start := n - fadeLen
	for i := 0; i < fadeLen; i++ {
		samples[start+i] *= 1.0 - float64(i)/float64(fadeLen)
	}
}

// duckingEnvelope computes the per-sample music gain envelope driven by
// speech amplitude: a -40 dBFS binary mask,
// box-filter smoothed over floor(0.02*sr) samples, rethresholded at 0.3.
func duckingEnvelope(speech []float64, sampleRate int) []float64 {
	n := len(speech)
	threshold := math.Pow(10, duckThresholdDBFS/20)
	mask := make([]float64, n)
	for i, s := range speech {
		if math.Abs(s) > threshold {
			mask[i] = 1
		}
	}

	window := int(duckSmoothSeconds * float64(sampleRate))
	if window < 1 {
		window = 1
	}
	smoothed := boxFilter(mask, window)

	gain := make([]float64, n)
	for i, v := range smoothed {
		if v > duckRethreshold {
			gain[i] = duckGainDucked
		} else {
			gain[i] = duckGainOpen
		}
	}
	return gain
}

// boxFilter applies a centered moving-average of the given window size.
func boxFilter(in []float64, window int) []float64 {
	n := len(in)
	out := make([]float64, n)
	half := window / 2

	var sum float64
	// Prime the window for index 0.
	for i := -half; i <= window-half-1; i++ {
		if i >= 0 && i < n {
			sum += in[i]
		}
	}
	out[0] = sum / float64(window)

	for i := 1; i < n; i++ {
		leaving := i - half - 1
		entering := i + window - half - 1
		if leaving >= 0 && leaving < n {
			sum -= in[leaving]
		}
		if entering >= 0 && entering < n {
			sum += in[entering]
		}
		out[i] = sum / float64(window)
	}
	return out
}

// normalizePeak scales samples so the absolute peak sits at
// normalizeTargetDB dBFS, leaving silence (peak below normalizePeakFloor)
// unchanged.
func normalizePeak(samples []float64) {
	peak := audiodsp.Peak(samples)
	if peak < normalizePeakFloor {
		return
	}
	target := math.Pow(10, normalizeTargetDB/20)
	audiodsp.Scale(samples, target/peak)
}

// ExportMP3 encodes wavPath as a VBR quality-2 (~190 kbps) MP3 alongside
// it. Failure is the caller's to treat as non-fatal
func ExportMP3(ctx context.Context, ffmpegPath, wavPath, mp3Path string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	args := []string{
		"-y",
		"-i", wavPath,
		"-codec:a", "libmp3lame",
		"-qscale:a", "2",
		mp3Path,
	}
	return runFFmpeg(ctx, ffmpegPath, args)
}

func runFFmpeg(ctx context.Context, ffmpegPath string, args []string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("merger: %s failed: %w: %s", ffmpegPath, err, stderr.String())
	}
	return nil
}
