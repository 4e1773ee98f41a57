package texttospeech

import "github.com/kvasirvoice/kvasir-core/core/audio"

type SynthesisOptions struct {
	// SpeechAudioCallback is called with raw audio chunks as the service
	// produces them, in order.
	SpeechAudioCallback func(audio []byte)
	// ErrorCallback is called when the synthesis fails mid-stream, this
	// usually means the synthesis has been cancelled.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type SynthesisOption func(*SynthesisOptions)

func WithSpeechAudioCallback(callback func([]byte)) SynthesisOption {
	return func(o *SynthesisOptions) {
		o.SpeechAudioCallback = callback
	}
}

func WithErrorCallback(callback func(error)) SynthesisOption {
	return func(o *SynthesisOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}
