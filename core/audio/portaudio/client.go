package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/kvasirvoice/kvasir-core/core/audio"
)

// Client is a blocking-IO alternative to the miniaudio client for systems
// where PortAudio is the better-behaved backend.
type Client struct {
	bufferSize    int
	stream        *portaudio.Stream
	leftoverAudio []byte

	in  []int16
	out []int16

	captureCancel context.CancelFunc
	captureDone   chan struct{}
	mu            sync.Mutex
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.captureDone != nil {
		return nil
	}

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.captureCancel = cancel
	c.captureDone = done

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := c.stream.Read(); err != nil {
					continue
				}

				audioBuffer := bytes.Buffer{}
				binary.Write(&audioBuffer, binary.LittleEndian, c.in)
				onAudio(audioBuffer.Bytes())
			}
		}
	}()

	return nil
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.captureDone == nil {
		return nil
	}

	c.captureCancel()
	<-c.captureDone
	c.captureCancel = nil
	c.captureDone = nil

	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop PortAudio stream: %w", err)
	}
	return nil
}

// Play writes pcm to the output stream a buffer at a time, blocking until
// everything has been handed to the device or ctx is cancelled.
func (c *Client) Play(ctx context.Context, pcm []byte) error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	bufferSize := c.bufferSize * 2
	pcm = append(c.leftoverAudio, pcm...)
	c.leftoverAudio = nil
	for offset := 0; offset+bufferSize <= len(pcm); offset += bufferSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		binary.Read(bytes.NewBuffer(pcm[offset:offset+bufferSize]), binary.LittleEndian, c.out)
		c.stream.Write()
	}
	if remainder := len(pcm) % bufferSize; remainder > 0 {
		c.leftoverAudio = make([]byte, remainder)
		copy(c.leftoverAudio, pcm[len(pcm)-remainder:])
	}

	return nil
}

func (c *Client) SendAudio(audio []byte) error {
	return c.Play(context.Background(), audio)
}

func (c *Client) ClearBuffer() {
	c.leftoverAudio = make([]byte, 0)
}

func (c *Client) Close() {
	c.stream.Close()
	portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
