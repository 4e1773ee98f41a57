package audio

import (
	"fmt"
	"io"
	"os"
)

// Clip is a fully loaded piece of audio, used where a WAV file stands in
// for a live stage (asr input, tts output).
type Clip struct {
	Info EncodingInfo
	PCM  []byte
}

func (c *Clip) Seconds() float64 {
	if c == nil || c.Info.IsZero() {
		return 0
	}
	return float64(len(c.PCM)) / float64(c.Info.SampleRate*c.Info.Format.ByteSize())
}

// LoadWAV reads a whole WAV stream into a Clip.
func LoadWAV(r io.Reader) (*Clip, error) {
	info, pcm, err := ReadWAV(r)
	if err != nil {
		return nil, err
	}
	return &Clip{Info: info, PCM: pcm}, nil
}

// LoadWAVFile reads a WAV file from disk into a Clip.
func LoadWAVFile(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer file.Close()

	clip, err := LoadWAV(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return clip, nil
}
