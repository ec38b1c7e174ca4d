package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/leonardotrapani/sttbench/internal/apperr"
)

func pcmValues(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func TestEncodeSameRateIsPassThrough(t *testing.T) {
	samples := []float32{0, 0.25, -0.25, 0.999, -0.999, 0.1}
	for _, rate := range []int{8000, 16000, 44100, 48000} {
		frame := Encode(samples, rate, rate)
		if !bytes.Equal(frame.PCM, FloatToPCM16(samples)) {
			t.Fatalf("rate %d: pass-through differs from direct conversion", rate)
		}
		if frame.SampleRate != rate || frame.Channels != 1 {
			t.Fatalf("unexpected frame format: %+v", frame)
		}
	}
}

func TestFloatToPCM16Scaling(t *testing.T) {
	got := pcmValues(FloatToPCM16([]float32{0, 0.5, -0.5, 1, -1, 1.7, -3}))
	want := []int16{0, 16383, -16384, 32767, -32768, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		src, dst, in, want int
	}{
		{48000, 16000, 9, 3},
		{48000, 16000, 10, 3},
		{44100, 16000, 44100, 16000},
		{8000, 16000, 3, 6},
		{16000, 24000, 160, 240},
	}
	for _, tt := range tests {
		out := Resample(make([]float32, tt.in), tt.src, tt.dst)
		if len(out) != tt.want {
			t.Errorf("Resample(%d samples, %d->%d) len = %d, want %d", tt.in, tt.src, tt.dst, len(out), tt.want)
		}
	}
}

func TestResampleInterpolates(t *testing.T) {
	out := Resample([]float32{0, 1, 0}, 8000, 16000)
	want := []float32{0, 0.5, 1, 0.5, 0, 0}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}

	down := Resample([]float32{1, 9, 9, 2, 9, 9, 3, 9, 9}, 48000, 16000)
	for i, want := range []float32{1, 2, 3} {
		if down[i] != want {
			t.Errorf("down[%d] = %v, want %v", i, down[i], want)
		}
	}
}

func TestEncodeEmpty(t *testing.T) {
	if frame := Encode(nil, 48000, 16000); len(frame.PCM) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(frame.PCM))
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{SampleRate: 16000, Channels: 1, PCM: make([]byte, 3200)}
	if f.Duration() != 100*time.Millisecond {
		t.Fatalf("Duration() = %v, want 100ms", f.Duration())
	}
	if BytesFor(250*time.Millisecond, 16000) != 8000 {
		t.Fatalf("BytesFor(250ms) = %d", BytesFor(250*time.Millisecond, 16000))
	}
	clone := f.Clone()
	clone.PCM[0] = 1
	if f.PCM[0] != 0 {
		t.Fatal("Clone shares memory")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.25, -0.25, 0.75}
	pcm := FloatToPCM16(samples)

	wavData, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error: %v", err)
	}
	if string(wavData[:4]) != "RIFF" || string(wavData[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header")
	}

	clip, err := Decode(bytes.NewReader(wavData))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if clip.SampleRate != 16000 || len(clip.Samples) != len(samples) {
		t.Fatalf("unexpected clip: rate=%d len=%d", clip.SampleRate, len(clip.Samples))
	}
	for i := range samples {
		if math.Abs(float64(clip.Samples[i]-samples[i])) > 1e-3 {
			t.Errorf("sample %d = %v, want ~%v", i, clip.Samples[i], samples[i])
		}
	}
}

func TestEncodeWAVRejectsOddLength(t *testing.T) {
	if _, err := EncodeWAV([]byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not audio")))
	if !apperr.IsCode(err, apperr.CodeFileDecodeError) {
		t.Fatalf("expected FILE_DECODE_ERROR, got %v", err)
	}
	_, err = Decode(bytes.NewReader(nil))
	if !apperr.IsCode(err, apperr.CodeFileDecodeError) {
		t.Fatalf("expected FILE_DECODE_ERROR for empty input, got %v", err)
	}
}

func TestDownmix(t *testing.T) {
	out := Downmix([]float32{1, 0, 0.5, 0.5}, 2)
	if len(out) != 2 || out[0] != 0.5 || out[1] != 0.5 {
		t.Fatalf("Downmix() = %v", out)
	}
}
