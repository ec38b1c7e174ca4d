package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/leonardotrapani/sttbench/internal/apperr"
)

// Clip is a fully decoded mono signal.
type Clip struct {
	Samples    []float32
	SampleRate int
}

func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// DecodeFile decodes a WAV or MP3 file from disk.
func DecodeFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeFileDecodeError, "audio.decode", "open media file", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode sniffs the container and decodes WAV (any PCM depth) or MP3 data.
// Failures carry FILE_DECODE_ERROR.
func Decode(r io.ReadSeeker) (*Clip, error) {
	head := make([]byte, 4)
	n, err := io.ReadFull(r, head)
	if err != nil && n == 0 {
		return nil, apperr.Wrap(apperr.CodeFileDecodeError, "audio.decode", "empty media file", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, apperr.Wrap(apperr.CodeFileDecodeError, "audio.decode", "rewind media file", err)
	}

	var clip *Clip
	switch {
	case bytes.Equal(head[:n], []byte("RIFF")):
		clip, err = decodeWAV(r)
	case isMP3(head[:n]):
		clip, err = decodeMP3(r)
	default:
		return nil, apperr.New(apperr.CodeFileDecodeError, "audio.decode", "unsupported media format")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeFileDecodeError, "audio.decode", "decode media file", err)
	}
	if len(clip.Samples) == 0 {
		return nil, apperr.New(apperr.CodeFileDecodeError, "audio.decode", "media file contains no samples")
	}
	return clip, nil
}

func isMP3(head []byte) bool {
	if len(head) >= 3 && string(head[:3]) == "ID3" {
		return true
	}
	// MPEG frame sync: 11 set bits
	return len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
}

// decodeMP3 decodes to mono; go-mp3 always yields 16-bit stereo.
func decodeMP3(r io.Reader) (*Clip, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("open mp3 stream: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("read mp3 pcm: %w", err)
	}
	return &Clip{
		Samples:    Downmix(PCM16ToFloat(pcm), 2),
		SampleRate: d.SampleRate(),
	}, nil
}
