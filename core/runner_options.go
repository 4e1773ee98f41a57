package pipeline

import (
	"context"

	"github.com/kvasirvoice/kvasir-core/core/audio"
	"github.com/kvasirvoice/kvasir-core/core/handle"
	"github.com/kvasirvoice/kvasir-core/core/intent"
	"github.com/kvasirvoice/kvasir-core/core/speechtotext"
	"github.com/kvasirvoice/kvasir-core/core/texttospeech"
	"github.com/kvasirvoice/kvasir-core/core/wake"
)

type RunnerOption func(*Runner)

type WakeDetector interface {
	Detect(ctx context.Context, opts ...wake.DetectionOption) error
	SendAudio(audio []byte) error
	Close() error
}

func WithWakeDetector(client WakeDetector) RunnerOption {
	return func(r *Runner) { r.wakeDetector = client }
}

type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	StopStream() error
}

func WithSpeechToTextClient(client SpeechToText) RunnerOption {
	return func(r *Runner) { r.speechToText = client }
}

type IntentRecognizer interface {
	Recognize(ctx context.Context, text string, opts ...intent.RecognitionOption) (*intent.Recognition, error)
}

func WithIntentRecognizer(client IntentRecognizer) RunnerOption {
	return func(r *Runner) { r.recognizer = client }
}

type IntentHandler interface {
	Handle(ctx context.Context, recognition intent.Recognition) (*handle.Result, error)
}

func WithIntentHandler(client IntentHandler) RunnerOption {
	return func(r *Runner) { r.handler = client }
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) error
}

func WithSpeechSynthesizer(client SpeechSynthesizer) RunnerOption {
	return func(r *Runner) { r.synthesizer = client }
}

type AudioInput interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	EncodingInfo() audio.EncodingInfo
}

func WithAudioInput(client AudioInput) RunnerOption {
	return func(r *Runner) { r.audioInput = client }
}

type AudioOutput interface {
	Play(ctx context.Context, pcm []byte) error
	EncodingInfo() audio.EncodingInfo
}

func WithAudioOutput(client AudioOutput) RunnerOption {
	return func(r *Runner) { r.audioOutput = client }
}
