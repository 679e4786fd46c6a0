package aligner

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceclone/pipeline/internal/audiodsp"
)

func tone(sr int, seconds, freq float64) *audiodsp.Buffer {
	n := int(float64(sr) * seconds)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return &audiodsp.Buffer{Samples: samples, SampleRate: sr}
}

func TestAlign_WithinToleranceOnlyPadsOrTrims(t *testing.T) {
	in := tone(16000, 1.0, 440)
	out := Align(nil, in, 1.0)
	assert.Equal(t, int(1.0*16000), len(out.Samples))
}

func TestAlign_StretchWithinRange(t *testing.T) {
	in := tone(16000, 1.0, 440)
	out := Align(nil, in, 1.5)
	assert.Equal(t, int(math.Floor(1.5*16000)), len(out.Samples))
}

func TestAlign_FallsBackOutsideStretchRange(t *testing.T) {
	in := tone(16000, 1.0, 440)
	out := Align(nil, in, 10.0) // ratio 0.1, outside [0.5, 2.5]
	assert.Equal(t, int(math.Floor(10.0*16000)), len(out.Samples))
}

func TestAlign_LengthIdempotent(t *testing.T) {
	in := tone(16000, 1.0, 440)
	first := Align(nil, in, 1.2)
	second := Align(nil, first, 1.2)
	assert.Equal(t, len(first.Samples), len(second.Samples))
}

func TestPadOrTrim_ExtendsWithZeros(t *testing.T) {
	in := &audiodsp.Buffer{Samples: []float64{0.1, 0.2}, SampleRate: 1000}
	out := PadOrTrim(in, 5)
	require.Len(t, out.Samples, 5)
	assert.Equal(t, 0.0, out.Samples[4])
}

func TestPadOrTrim_TruncatesWithFade(t *testing.T) {
	sr := 1000
	in := &audiodsp.Buffer{Samples: make([]float64, sr), SampleRate: sr}
	for i := range in.Samples {
		in.Samples[i] = 1.0
	}
	out := PadOrTrim(in, sr/2)
	require.Len(t, out.Samples, sr/2)
	// Last sample of the fade window should be attenuated toward zero.
	assert.Less(t, out.Samples[len(out.Samples)-1], 1.0)
	assert.Equal(t, 1.0, out.Samples[0])
}

func TestCrossfade_Length(t *testing.T) {
	a := tone(1000, 0.1, 200)
	b := tone(1000, 0.1, 400)
	out := Crossfade(a, b, 0.02)
	f := int(0.02 * 1000)
	assert.Equal(t, len(a.Samples)+len(b.Samples)-f, len(out.Samples))
}

func TestAlignAll_SkipsNonPositiveDuration(t *testing.T) {
	dir := t.TempDir()
	in := tone(16000, 1.0, 440)
	srcPath := filepath.Join(dir, "src.wav")
	require.NoError(t, in.WriteWAV(srcPath))

	tasks := []Task{
		{SpeakerID: "S0", Index: 0, SourcePath: srcPath, TargetDuration: 0},
		{SpeakerID: "S0", Index: 1, SourcePath: srcPath, TargetDuration: 0.5},
	}
	results := AlignAll(context.Background(), nil, tasks, dir)
	require.Len(t, results, 2)
	assert.Equal(t, srcPath, results[0].AlignedPath)
	assert.NoError(t, results[0].Err)

	assert.NoError(t, results[1].Err)
	assert.FileExists(t, results[1].AlignedPath)
}

func TestAlignAll_MissingSourceIsLoggedNotFatal(t *testing.T) {
	dir := t.TempDir()
	tasks := []Task{
		{SpeakerID: "S0", Index: 0, SourcePath: filepath.Join(dir, "missing.wav"), TargetDuration: 1.0},
	}
	results := AlignAll(context.Background(), nil, tasks, dir)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}
