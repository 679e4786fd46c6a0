// Package worker defines the pluggable external-worker contracts consumed
// by the Orchestrator (C5): demux/probe/mux (concrete, ffmpeg-backed) and
// separation/diarization/transcription/TTS/music-generation (interfaces,
// since those are neural inference engines treated as opaque externals).
// The ffmpeg-backed implementations shell out via exec.CommandContext
// with stderr capture; ffprobe's key=value output is parsed directly, and
// a small regex reads ffmpeg's "Duration: HH:MM:SS.ms" stderr banner when
// ffprobe reports no duration.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ProbeResult summarizes a media file's container-level properties.
type ProbeResult struct {
	Duration   float64
	Codec      string
	SampleRate int
	Channels   int
	HasVideo   bool
	HasAudio   bool
}

// Demuxer extracts a mono PCM WAV track at a fixed sample rate from an
// arbitrary media container.
type Demuxer interface {
	Demux(ctx context.Context, inputPath, outputWavPath string, sampleRate int) error
}

// Prober inspects a media file without decoding it fully.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// Muxer copies a video stream byte-for-byte and attaches a new audio track.
type Muxer interface {
	Mux(ctx context.Context, videoIn, audioIn, videoOut string) error
}

// FFmpegError captures a failed external-tool invocation, including its
// stderr, so the Workflow error kind can surface it verbatim.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error { return e.Err }

// FFmpegTool implements Demuxer, Prober and Muxer via the ffmpeg/ffprobe CLIs.
type FFmpegTool struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegTool constructs an FFmpegTool, defaulting empty paths to the
// bare binary names resolved via PATH.
func NewFFmpegTool(ffmpegPath, ffprobePath string) *FFmpegTool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegTool{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Demux produces mono 16-bit PCM at sampleRate.
func (t *FFmpegTool) Demux(ctx context.Context, inputPath, outputWavPath string, sampleRate int) error {
	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-sample_fmt", "s16",
		outputWavPath,
	}
	return t.run(ctx, args)
}

// Probe extracts duration, codec, sample rate, channel count and stream
// presence using ffprobe's compact key=value output.
func (t *FFmpegTool) Probe(ctx context.Context, path string) (ProbeResult, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_name,codec_type,sample_rate,channels",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ProbeResult{}, &FFmpegError{Args: cmd.Args, Stderr: stderr.String(), Err: err}
	}

	result := parseProbeOutput(stdout.String())
	if result.Duration == 0 {
		if d, err := t.ProbeDurationFallback(ctx, path); err == nil {
			result.Duration = d
		}
	}
	return result, nil
}

func parseProbeOutput(out string) ProbeResult {
	var r ProbeResult
	for _, line := range strings.Split(out, "\n") {
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], strings.TrimSpace(kv[1])
		switch key {
		case "duration":
			if d, err := strconv.ParseFloat(val, 64); err == nil {
				r.Duration = d
			}
		case "codec_name":
			if r.Codec == "" {
				r.Codec = val
			}
		case "codec_type":
			switch val {
			case "video":
				r.HasVideo = true
			case "audio":
				r.HasAudio = true
			}
		case "sample_rate":
			if sr, err := strconv.Atoi(val); err == nil {
				r.SampleRate = sr
			}
		case "channels":
			if c, err := strconv.Atoi(val); err == nil {
				r.Channels = c
			}
		}
	}
	return r
}

// durationRegexp parses ffmpeg's "Duration: HH:MM:SS.ms" stderr banner,
// used as a fallback when ffprobe runs but reports a zero duration.
var durationRegexp = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// ProbeDurationFallback parses duration from ffmpeg's own stderr banner.
func (t *FFmpegTool) ProbeDurationFallback(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.FFmpegPath, "-i", path, "-hide_banner", "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run() // ffmpeg exits non-zero writing to a null muxer; stderr still carries the banner.

	matches := durationRegexp.FindStringSubmatch(stderr.String())
	if len(matches) < 5 {
		return 0, fmt.Errorf("worker: could not parse duration from ffmpeg output")
	}
	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	ms, _ := strconv.ParseFloat(matches[4], 64)
	divisor := 1.0
	for i := 0; i < len(matches[4]); i++ {
		divisor *= 10
	}
	return hours*3600 + minutes*60 + seconds + ms/divisor, nil
}

// Mux copies videoIn's video stream and attaches audioIn as the new
// audio track, trimming to the shorter of the two.
func (t *FFmpegTool) Mux(ctx context.Context, videoIn, audioIn, videoOut string) error {
	args := []string{
		"-y",
		"-i", videoIn,
		"-i", audioIn,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-shortest",
		videoOut,
	}
	return t.run(ctx, args)
}

func (t *FFmpegTool) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, t.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}
