package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ReadWAV parses a PCM WAV stream and returns its encoding info along with
// the raw sample data. Only uncompressed mono/stereo PCM is supported, which
// is all the pipeline stages ever produce or consume.
func ReadWAV(r io.Reader) (EncodingInfo, []byte, error) {
	var header struct {
		RIFF      [4]byte
		ChunkSize uint32
		WAVE      [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return EncodingInfo{}, nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(header.RIFF[:]) != "RIFF" || string(header.WAVE[:]) != "WAVE" {
		return EncodingInfo{}, nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var (
		info EncodingInfo
		data []byte
	)
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return EncodingInfo{}, nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			var format struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &format); err != nil {
				return EncodingInfo{}, nil, fmt.Errorf("failed to read format chunk: %w", err)
			}
			if format.AudioFormat != 1 {
				return EncodingInfo{}, nil, fmt.Errorf("unsupported audio format %d, only PCM is supported", format.AudioFormat)
			}
			if format.BitsPerSample != 16 {
				return EncodingInfo{}, nil, fmt.Errorf("unsupported bits per sample %d", format.BitsPerSample)
			}
			info = EncodingInfo{SampleRate: int(format.SampleRate), Format: EncodingLinear16}
			if extra := int64(chunk.Size) - 16; extra > 0 {
				if _, err := io.CopyN(io.Discard, r, extra); err != nil {
					return EncodingInfo{}, nil, fmt.Errorf("failed to skip format extension: %w", err)
				}
			}

		case "data":
			data = make([]byte, chunk.Size)
			if _, err := io.ReadFull(r, data); err != nil {
				return EncodingInfo{}, nil, fmt.Errorf("failed to read sample data: %w", err)
			}

		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunk.Size)); err != nil {
				return EncodingInfo{}, nil, fmt.Errorf("failed to skip %q chunk: %w", chunk.ID, err)
			}
		}
	}

	if info.IsZero() {
		return EncodingInfo{}, nil, fmt.Errorf("missing format chunk")
	}
	if data == nil {
		return EncodingInfo{}, nil, fmt.Errorf("missing data chunk")
	}

	return info, data, nil
}

// WriteWAV writes pcm as a PCM WAV stream with the given encoding info.
func WriteWAV(w io.Writer, info EncodingInfo, pcm []byte) error {
	if info.Format != EncodingLinear16 {
		return fmt.Errorf("unsupported encoding %q", info.Format.Name())
	}

	buffer := bytes.Buffer{}
	buffer.WriteString("RIFF")
	binary.Write(&buffer, binary.LittleEndian, uint32(36+len(pcm)))
	buffer.WriteString("WAVE")

	buffer.WriteString("fmt ")
	binary.Write(&buffer, binary.LittleEndian, uint32(16))
	binary.Write(&buffer, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buffer, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buffer, binary.LittleEndian, uint32(info.SampleRate))
	binary.Write(&buffer, binary.LittleEndian, uint32(info.SampleRate*info.Format.ByteSize()))
	binary.Write(&buffer, binary.LittleEndian, uint16(info.Format.ByteSize()))
	binary.Write(&buffer, binary.LittleEndian, uint16(16))

	buffer.WriteString("data")
	binary.Write(&buffer, binary.LittleEndian, uint32(len(pcm)))
	buffer.Write(pcm)

	if _, err := w.Write(buffer.Bytes()); err != nil {
		return fmt.Errorf("failed to write WAV stream: %w", err)
	}
	return nil
}

// Chunks splits pcm into chunks of samplesPerChunk samples, yielding the
// final partial chunk as-is.
func Chunks(pcm []byte, info EncodingInfo, samplesPerChunk int) func(yield func([]byte) bool) {
	chunkSize := info.ChunkSize(samplesPerChunk)
	return func(yield func([]byte) bool) {
		if chunkSize <= 0 {
			return
		}
		for offset := 0; offset < len(pcm); offset += chunkSize {
			end := min(offset+chunkSize, len(pcm))
			if !yield(pcm[offset:end]) {
				return
			}
		}
	}
}
