package pipeline

import (
	"fmt"

	"github.com/kvasirvoice/kvasir-core/core/audio"
	"github.com/kvasirvoice/kvasir-core/core/handle"
	"github.com/kvasirvoice/kvasir-core/core/intent"
	"github.com/kvasirvoice/kvasir-core/core/speechtotext"
	"github.com/kvasirvoice/kvasir-core/core/wake"
)

// RunOptions parameterize a single pipeline invocation. Pre-supplied stage
// results make the invocation skip the corresponding stage (and everything
// before it, where that follows).
type RunOptions struct {
	SamplesPerChunk   int
	ASRChunksToBuffer int

	// StopAfter truncates the run after the given domain. Zero means run
	// everything.
	StopAfter Domain

	// WakeNames restricts wake detection to the given wake word names.
	WakeNames []string

	// WakeDetection skips wake word detection.
	WakeDetection *wake.Detection
	// ASRAudio feeds a loaded clip to speech-to-text instead of the
	// microphone (skips wake).
	ASRAudio *audio.Clip
	// ASRTranscript skips speech-to-text (and wake).
	ASRTranscript *speechtotext.Transcript
	// IntentResult skips intent recognition (and wake, asr).
	IntentResult *intent.Recognition
	// HandleResult skips intent handling.
	HandleResult *handle.Result
	// TTSAudio plays a loaded clip instead of synthesizing the response
	// (skips tts).
	TTSAudio *audio.Clip
}

type RunOption func(*RunOptions)

func defaultRunOptions() RunOptions {
	return RunOptions{SamplesPerChunk: audio.DefaultSamplesPerChunk}
}

func newRunOptions(opts ...RunOption) RunOptions {
	options := defaultRunOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithSamplesPerChunk(samples int) RunOption {
	return func(o *RunOptions) {
		if samples > 0 {
			o.SamplesPerChunk = samples
		}
	}
}

func WithASRChunksToBuffer(chunks int) RunOption {
	return func(o *RunOptions) {
		if chunks >= 0 {
			o.ASRChunksToBuffer = chunks
		}
	}
}

func WithStopAfter(domain Domain) RunOption {
	return func(o *RunOptions) { o.StopAfter = domain }
}

func WithWakeNames(names ...string) RunOption {
	return func(o *RunOptions) { o.WakeNames = names }
}

func WithWakeDetection(detection *wake.Detection) RunOption {
	return func(o *RunOptions) { o.WakeDetection = detection }
}

func WithASRAudio(clip *audio.Clip) RunOption {
	return func(o *RunOptions) { o.ASRAudio = clip }
}

func WithTranscript(transcript *speechtotext.Transcript) RunOption {
	return func(o *RunOptions) { o.ASRTranscript = transcript }
}

func WithIntentResult(recognition *intent.Recognition) RunOption {
	return func(o *RunOptions) { o.IntentResult = recognition }
}

func WithHandleResult(result *handle.Result) RunOption {
	return func(o *RunOptions) { o.HandleResult = result }
}

func WithTTSAudio(clip *audio.Clip) RunOption {
	return func(o *RunOptions) { o.TTSAudio = clip }
}

// withRunOptions replaces the whole option struct; the loop uses it to hand
// composed per-slot options to the invoker.
func withRunOptions(options RunOptions) RunOption {
	return func(o *RunOptions) { *o = options }
}

// Validate rejects pre-supplied stage results that are inconsistent with
// the requested stop-after point, for example supplying a transcript but
// stopping after wake. These are configuration errors, caught before any
// invocation starts.
func (o RunOptions) Validate() error {
	if o.StopAfter == "" {
		return nil
	}

	overrides := []struct {
		domain   Domain
		supplied bool
		name     string
	}{
		{DomainWake, o.WakeDetection != nil, "wake detection"},
		{DomainASR, o.ASRAudio != nil, "asr audio"},
		{DomainASR, o.ASRTranscript != nil, "asr transcript"},
		{DomainIntent, o.IntentResult != nil, "intent result"},
		{DomainHandle, o.HandleResult != nil, "handle result"},
		{DomainTTS, o.TTSAudio != nil, "tts audio"},
	}

	for _, override := range overrides {
		if override.supplied && override.domain.position() > o.StopAfter.position() {
			return fmt.Errorf("%s was supplied but the pipeline stops after %s", override.name, o.StopAfter)
		}
	}

	return nil
}
