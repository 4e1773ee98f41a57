// kvasir-run executes a voice pipeline, once or as a continuous loop, and
// writes one JSON record per completed turn to stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	pipeline "github.com/kvasirvoice/kvasir-core/core"
	"github.com/kvasirvoice/kvasir-core/core/audio"
	"github.com/kvasirvoice/kvasir-core/core/audio/miniaudio"
	"github.com/kvasirvoice/kvasir-core/core/audio/portaudio"
	"github.com/kvasirvoice/kvasir-core/core/config"
	"github.com/kvasirvoice/kvasir-core/core/handle"
	"github.com/kvasirvoice/kvasir-core/core/handle/rest"
	"github.com/kvasirvoice/kvasir-core/core/intent"
	"github.com/kvasirvoice/kvasir-core/core/intent/llm"
	"github.com/kvasirvoice/kvasir-core/core/speechtotext"
	stt "github.com/kvasirvoice/kvasir-core/core/speechtotext/deepgram"
	tts "github.com/kvasirvoice/kvasir-core/core/texttospeech/deepgram"
	"github.com/kvasirvoice/kvasir-core/core/wake/remote"
)

type args struct {
	configDir string
	pipeline  string

	stopAfter string
	loop      bool
	debug     bool

	samplesPerChunk   int
	asrChunksToBuffer int

	continueOnResponseError bool

	wakeName   string
	asrWAV     string
	asrText    string
	intentJSON string
	handleText string
	ttsWAV     string
}

func parseArgs() args {
	a := args{}
	flag.StringVar(&a.configDir, "config", "config", "configuration directory")
	flag.StringVar(&a.configDir, "c", "config", "configuration directory (shorthand)")
	flag.StringVar(&a.pipeline, "pipeline", "default", "name of the pipeline to run")
	flag.StringVar(&a.pipeline, "p", "default", "name of the pipeline to run (shorthand)")
	flag.StringVar(&a.stopAfter, "stop-after", "", "stop the pipeline after this stage (wake, asr, intent, handle, tts)")
	flag.BoolVar(&a.loop, "loop", false, "run turns continuously until interrupted")
	flag.BoolVar(&a.debug, "debug", false, "log debug messages")
	flag.IntVar(&a.samplesPerChunk, "samples-per-chunk", audio.DefaultSamplesPerChunk, "audio samples per chunk")
	flag.IntVar(&a.asrChunksToBuffer, "asr-chunks-to-buffer", 0, "chunks of audio buffered during wake detection and replayed into asr")
	flag.BoolVar(&a.continueOnResponseError, "continue-on-response-error", false, "keep listening when the response half of a turn fails")
	flag.StringVar(&a.wakeName, "wake-name", "", "only accept this wake word name")
	flag.StringVar(&a.asrWAV, "asr-wav", "", "WAV file to transcribe instead of the microphone")
	flag.StringVar(&a.asrText, "asr-text", "", "transcript to use instead of running asr")
	flag.StringVar(&a.intentJSON, "intent-json", "", "recognition JSON to use instead of running intent recognition")
	flag.StringVar(&a.handleText, "handle-text", "", "response text to use instead of running the intent handler")
	flag.StringVar(&a.ttsWAV, "tts-wav", "", "WAV file to play instead of synthesizing the response")
	flag.Parse()
	return a
}

func main() {
	a := parseArgs()

	level := slog.LevelInfo
	if a.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a args) error {
	cfg, err := config.Load(a.configDir)
	if err != nil {
		return err
	}
	pipelineConfig, err := cfg.Pipeline(a.pipeline)
	if err != nil {
		return err
	}

	runOptions, err := buildRunOptions(a, pipelineConfig)
	if err != nil {
		return err
	}

	runner, closeClients, err := buildRunner(pipelineConfig)
	if err != nil {
		return err
	}
	defer closeClients()

	loop := pipeline.NewLoop(runner, pipeline.NewRecordWriter(os.Stdout), loopOptions(a)...)
	if a.loop {
		return loop.Run(ctx, runOptions...)
	}
	return loop.RunOnce(ctx, runOptions...)
}

func loopOptions(a args) []pipeline.LoopOption {
	if a.continueOnResponseError {
		return []pipeline.LoopOption{pipeline.WithResponseFailurePolicy(pipeline.ResponseFailureContinue)}
	}
	return nil
}

func buildRunOptions(a args, pipelineConfig *config.Pipeline) ([]pipeline.RunOption, error) {
	opts := []pipeline.RunOption{
		pipeline.WithSamplesPerChunk(a.samplesPerChunk),
		pipeline.WithASRChunksToBuffer(a.asrChunksToBuffer),
	}

	if a.stopAfter != "" {
		domain, err := pipeline.ParseDomain(a.stopAfter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithStopAfter(domain))
	}

	wakeNames := pipelineConfig.Wake.Names
	if a.wakeName != "" {
		wakeNames = []string{a.wakeName}
	}
	if len(wakeNames) > 0 {
		opts = append(opts, pipeline.WithWakeNames(wakeNames...))
	}

	if a.asrWAV != "" {
		clip, err := audio.LoadWAVFile(a.asrWAV)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithASRAudio(clip))
	}
	if a.asrText != "" {
		opts = append(opts, pipeline.WithTranscript(&speechtotext.Transcript{Text: a.asrText}))
	}
	if a.intentJSON != "" {
		recognition := intent.Recognition{}
		if err := json.Unmarshal([]byte(a.intentJSON), &recognition); err != nil {
			return nil, fmt.Errorf("invalid intent JSON: %w", err)
		}
		opts = append(opts, pipeline.WithIntentResult(&recognition))
	}
	if a.handleText != "" {
		opts = append(opts, pipeline.WithHandleResult(
			&handle.Result{Handled: &handle.Handled{Text: a.handleText}},
		))
	}
	if a.ttsWAV != "" {
		clip, err := audio.LoadWAVFile(a.ttsWAV)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithTTSAudio(clip))
	}

	return opts, nil
}

func buildRunner(pipelineConfig *config.Pipeline) (*pipeline.Runner, func(), error) {
	opts := []pipeline.RunnerOption{}
	closers := []func(){}
	closeAll := func() {
		for _, closeClient := range closers {
			closeClient()
		}
	}

	audioClient, closeAudio, err := buildAudioClient(pipelineConfig.Audio)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeAudio)
	opts = append(opts, pipeline.WithAudioInput(audioClient), pipeline.WithAudioOutput(audioClient))

	if pipelineConfig.Wake.ServiceURL != "" {
		wakeClient, err := remote.NewDetectionClient(pipelineConfig.Wake.ServiceURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = wakeClient.Close() })
		opts = append(opts, pipeline.WithWakeDetector(wakeClient))
	}

	if pipelineConfig.ASR.Provider != "deepgram" {
		closeAll()
		return nil, nil, fmt.Errorf("unknown asr provider %q", pipelineConfig.ASR.Provider)
	}
	sttClient := stt.NewTranscriptionClient()
	closers = append(closers, func() { _ = sttClient.Close(context.Background()) })
	opts = append(opts, pipeline.WithSpeechToTextClient(sttClient))

	if pipelineConfig.Intent.URL != "" {
		opts = append(opts, pipeline.WithIntentRecognizer(llm.NewRecognizer(
			pipelineConfig.Intent.URL,
			os.Getenv(pipelineConfig.Intent.APIKeyEnv),
			pipelineConfig.Intent.Model,
			llm.WithKnownIntents(pipelineConfig.Intent.KnownIntents...),
		)))
	}

	if pipelineConfig.Handle.URL != "" {
		opts = append(opts, pipeline.WithIntentHandler(rest.NewHandler(pipelineConfig.Handle.URL)))
	}

	if pipelineConfig.TTS.Provider != "deepgram" {
		closeAll()
		return nil, nil, fmt.Errorf("unknown tts provider %q", pipelineConfig.TTS.Provider)
	}
	voice, err := tts.ParseVoice(pipelineConfig.TTS.Voice)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	ttsClient, err := tts.NewSynthesisClient(voice)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	opts = append(opts, pipeline.WithSpeechSynthesizer(ttsClient))

	return pipeline.NewRunner(opts...), closeAll, nil
}

type audioClient interface {
	pipeline.AudioInput
	pipeline.AudioOutput
	Close()
}

func buildAudioClient(audioConfig config.AudioConfig) (audioClient, func(), error) {
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
