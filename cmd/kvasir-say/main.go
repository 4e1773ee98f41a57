// kvasir-say speaks its arguments, or each line of stdin, through the
// configured speech synthesizer and audio output.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/kvasirvoice/kvasir-core/core/audio"
	"github.com/kvasirvoice/kvasir-core/core/audio/miniaudio"
	"github.com/kvasirvoice/kvasir-core/core/audio/portaudio"
	"github.com/kvasirvoice/kvasir-core/core/config"
	"github.com/kvasirvoice/kvasir-core/core/texttospeech"
	tts "github.com/kvasirvoice/kvasir-core/core/texttospeech/deepgram"
)

func main() {
	configDir := flag.String("config", "config", "configuration directory")
	flag.StringVar(configDir, "c", "config", "configuration directory (shorthand)")
	pipelineName := flag.String("pipeline", "default", "name of the pipeline to use")
	flag.StringVar(pipelineName, "p", "default", "name of the pipeline to use (shorthand)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir, *pipelineName, flag.Args()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Failed to speak", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir, pipelineName string, texts []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	pipelineConfig, err := cfg.Pipeline(pipelineName)
	if err != nil {
		return err
	}

	if pipelineConfig.TTS.Provider != "deepgram" {
		return fmt.Errorf("unknown tts provider %q", pipelineConfig.TTS.Provider)
	}
	voice, err := tts.ParseVoice(pipelineConfig.TTS.Voice)
	if err != nil {
		return err
	}
	synthesizer, err := tts.NewSynthesisClient(voice)
	if err != nil {
		return err
	}

	output, closeOutput, err := openOutput(pipelineConfig.Audio)
	if err != nil {
		return err
	}
	defer closeOutput()

	if len(texts) > 0 {
		return say(ctx, synthesizer, output, strings.Join(texts, " "))
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := say(ctx, synthesizer, output, text); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type audioOutput interface {
	Play(ctx context.Context, pcm []byte) error
	EncodingInfo() audio.EncodingInfo
}

func say(ctx context.Context, synthesizer *tts.SynthesisClient, output audioOutput, text string) error {
	var (
		pcm   []byte
		pcmMu sync.Mutex
	)
	if err := synthesizer.Synthesize(ctx, text,
		texttospeech.WithSpeechAudioCallback(func(audio []byte) {
			pcmMu.Lock()
			pcm = append(pcm, audio...)
			pcmMu.Unlock()
		}),
		texttospeech.WithEncodingInfo(output.EncodingInfo()),
	); err != nil {
		return err
	}

	pcmMu.Lock()
	defer pcmMu.Unlock()
	return output.Play(ctx, pcm)
}

func openOutput(audioConfig config.AudioConfig) (audioOutput, func(), error) {
	switch audioConfig.Backend {
	case "miniaudio":
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case "portaudio":
		client, err := portaudio.NewClient(audioConfig.BufferSize)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown audio backend %q", audioConfig.Backend)
}
