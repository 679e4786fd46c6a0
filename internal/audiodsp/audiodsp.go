// Package audiodsp holds the sample-level primitives shared by the
// Aligner (C3) and Merger (C4): mono PCM WAV decode/encode, down-mixing,
// resampling, and small numeric helpers. Operates on decoded float64
// sample buffers rather than shelling out, since go-audio/wav gives
// direct sample access that a CLI round-trip would not.
package audiodsp

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Buffer is a mono PCM clip normalized to the [-1, 1] float64 range.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the buffer's length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Load decodes path as a WAV file and down-mixes it to mono via the
// arithmetic mean of its channels.
func Load(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audiodsp: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audiodsp: decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("audiodsp: %s: missing format", path)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	maxVal := float64(int(1) << (uint(bitsFor(buf)) - 1))

	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = (sum / float64(channels)) / maxVal
	}

	return &Buffer{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

func bitsFor(buf *audio.IntBuffer) int {
	if buf.SourceBitDepth > 0 {
		return buf.SourceBitDepth
	}
	return 16
}

// Resample converts b to targetRate using linear interpolation. A no-op
// when the rates already match.
func (b *Buffer) Resample(targetRate int) *Buffer {
	if targetRate <= 0 || targetRate == b.SampleRate || len(b.Samples) == 0 {
		return &Buffer{Samples: append([]float64(nil), b.Samples...), SampleRate: b.SampleRate}
	}

	ratio := float64(targetRate) / float64(b.SampleRate)
	outLen := int(math.Round(float64(len(b.Samples)) * ratio))
	out := make([]float64, outLen)
	last := len(b.Samples) - 1

	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(math.Floor(srcPos))
		if i0 >= last {
			out[i] = b.Samples[last]
			continue
		}
		frac := srcPos - float64(i0)
		out[i] = b.Samples[i0]*(1-frac) + b.Samples[i0+1]*frac
	}

	return &Buffer{Samples: out, SampleRate: targetRate}
}

// WriteWAV encodes b as 16-bit PCM mono WAV at its own sample rate.
func (b *Buffer) WriteWAV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audiodsp: create %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, b.SampleRate, 16, 1, 1)
	ints := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		ints[i] = floatToInt16(s)
	}

	pcm := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: b.SampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(pcm); err != nil {
		return fmt.Errorf("audiodsp: write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audiodsp: finalize %s: %w", path, err)
	}
	return nil
}

func floatToInt16(s float64) int {
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	return int(math.Round(s * 32767))
}

// Peak returns the maximum absolute sample value in samples, or 0 for
// an empty slice.
func Peak(samples []float64) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// Scale multiplies every sample by factor in place.
func Scale(samples []float64, factor float64) {
	for i := range samples {
		samples[i] *= factor
	}
}

// Silence returns n zero-valued samples at sr.
func Silence(n, sr int) *Buffer {
	return &Buffer{Samples: make([]float64, n), SampleRate: sr}
}
