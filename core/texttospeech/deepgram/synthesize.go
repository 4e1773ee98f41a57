// Package deepgram synthesizes speech through Deepgram's websocket speak
// API, one utterance at a time.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/kvasirvoice/kvasir-core/core/audio"
	"github.com/kvasirvoice/kvasir-core/core/texttospeech"
)

type SynthesisClient struct {
	voice deepgramVoice
	mu    sync.Mutex
}

func NewSynthesisClient(voice deepgramVoice) (*SynthesisClient, error) {
	client := &SynthesisClient{voice: defaultVoice}

	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice")
	}

	client.voice = voice

	return client, nil
}

func (c *SynthesisClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}

// Synthesize streams text through the speak API and blocks until all audio
// for it has been delivered through the audio callback, or ctx is
// cancelled.
func (c *SynthesisClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) error {
	options := &texttospeech.SynthesisOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	conn, err := connectWebsocket(c.voice, options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for _, msg := range []any{
		struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{Type: "Speak", Text: text},
		struct {
			Type string `json:"type"`
		}{Type: "Flush"},
		struct {
			Type string `json:"type"`
		}{Type: "Close"},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return fmt.Errorf("failed to write to deepgram speak socket: %w", err)
		}
	}

	if err := c.readAndProcessMessages(ctx, conn, *options); err != nil {
		if options.ErrorCallback != nil {
			options.ErrorCallback(err)
		}
		return err
	}

	return nil
}

func connectWebsocket(voice deepgramVoice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.Dial(
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (c *SynthesisClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, options texttospeech.SynthesisOptions) error {
	defer conn.Close()

	flushed := false
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if flushed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				// All audio was delivered before the socket went away.
				return nil
			}
			return fmt.Errorf("websocket read error: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if options.SpeechAudioCallback != nil && len(msg) > 0 {
				options.SpeechAudioCallback(msg)
			}
		default:
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				log.Printf("Failed to unmarshal deepgram message: %v", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				flushed = true
			case "Warning":
				log.Printf("Deepgram speak warning: %s", msg)
			}
		}
	}
}
