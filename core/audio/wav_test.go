package audio

import (
	"bytes"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	info := EncodingInfo{SampleRate: 22050, Format: EncodingLinear16}

	buf := bytes.Buffer{}
	if err := WriteWAV(&buf, info, pcm); err != nil {
		t.Fatalf("expected the WAV to be written, got %v", err)
	}

	gotInfo, gotPCM, err := ReadWAV(&buf)
	if err != nil {
		t.Fatalf("expected the WAV to parse, got %v", err)
	}
	if gotInfo.SampleRate != 22050 || gotInfo.Format != EncodingLinear16 {
		t.Fatalf("expected the encoding to survive, got %+v", gotInfo)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Fatalf("expected the samples to survive, got %v", gotPCM)
	}
}

func TestReadWAVRejectsNonRIFFStreams(t *testing.T) {
	if _, _, err := ReadWAV(bytes.NewReader([]byte("definitely not audio"))); err == nil {
		t.Fatalf("expected an error for a non-WAV stream")
	}
}

func TestWriteWAVRejectsNonLinearEncodings(t *testing.T) {
	info := EncodingInfo{SampleRate: 8000, Format: EncodingMulaw}
	if err := WriteWAV(&bytes.Buffer{}, info, []byte{0x00}); err == nil {
		t.Fatalf("expected an error for a non-linear16 encoding")
	}
}

func TestChunksYieldsPartialFinalChunk(t *testing.T) {
	info := EncodingInfo{SampleRate: 16000, Format: EncodingLinear16}
	pcm := make([]byte, 10)

	chunks := [][]byte{}
	for chunk := range Chunks(pcm, info, 2) {
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 4 || len(chunks[2]) != 2 {
		t.Fatalf("expected 4 byte chunks with a 2 byte tail, got %d and %d", len(chunks[0]), len(chunks[2]))
	}
}

func TestClipSeconds(t *testing.T) {
	clip := &Clip{
		Info: EncodingInfo{SampleRate: 16000, Format: EncodingLinear16},
		PCM:  make([]byte, 32000),
	}
	if got := clip.Seconds(); got != 1.0 {
		t.Fatalf("expected one second of audio, got %f", got)
	}

	var nilClip *Clip
	if got := nilClip.Seconds(); got != 0 {
		t.Fatalf("expected zero seconds for a nil clip, got %f", got)
	}
}
