// Package audio converts captured or decoded samples into the canonical PCM stream.
package audio

import (
	"encoding/binary"
	"math"
)

// Encode resamples floating point samples in [-1, 1] from srcRate to dstRate
// and converts them to a 16-bit little-endian PCM frame.
func Encode(samples []float32, srcRate, dstRate int) Frame {
	return Frame{
		SampleRate: dstRate,
		Channels:   1,
		PCM:        FloatToPCM16(Resample(samples, srcRate, dstRate)),
	}
}

// Resample linearly interpolates samples at ratio srcRate/dstRate. It is not
// band-limited. Equal rates return the input unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if len(samples) == 0 {
		return []float32{}
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(math.Floor(float64(len(samples)) / ratio))
	out := make([]float32, outLen)
	last := len(samples) - 1

	for i := range out {
		srcIndex := float64(i) * ratio
		lo := int(math.Floor(srcIndex))
		if lo > last {
			lo = last
		}
		hi := lo + 1
		if hi > last {
			hi = last
		}
		frac := float32(srcIndex - float64(lo))
		out[i] = samples[lo] + (samples[hi]-samples[lo])*frac
	}
	return out
}

// FloatToPCM16 clamps samples to [-1, 1] and scales them asymmetrically so that
// -1 maps to -32768 and 1 maps to 32767.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat is the inverse of FloatToPCM16. A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}

// ResamplePCM resamples 16-bit mono PCM between rates.
func ResamplePCM(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate {
		return pcm
	}
	return FloatToPCM16(Resample(PCM16ToFloat(pcm), srcRate, dstRate))
}

// Downmix averages interleaved channels into a mono signal.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
