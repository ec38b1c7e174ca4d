package audio

import "time"

// CanonicalRate is the sample rate of the canonical stream every source produces.
const CanonicalRate = 16000

// Frame is a buffer of 16-bit signed little-endian mono PCM.
type Frame struct {
	Seq        uint64
	SampleRate int
	Channels   int
	PCM        []byte
	Timestamp  time.Time
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.PCM) / (2 * ch)
}

func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a copy that shares no memory with f.
func (f Frame) Clone() Frame {
	cp := f
	cp.PCM = make([]byte, len(f.PCM))
	copy(cp.PCM, f.PCM)
	return cp
}

// BytesFor returns the PCM byte length of d at the given rate.
func BytesFor(d time.Duration, sampleRate int) int {
	return int(int64(sampleRate)*int64(d)/int64(time.Second)) * 2
}

// Silence returns d worth of zeroed PCM at sampleRate.
func Silence(d time.Duration, sampleRate int) []byte {
	return make([]byte, BytesFor(d, sampleRate))
}
