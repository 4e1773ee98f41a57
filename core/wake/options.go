package wake

import "github.com/kvasirvoice/kvasir-core/core/audio"

type DetectionOptions struct {
	// DetectionCallback is called once per detected wake word.
	DetectionCallback func(detection Detection)
	// ErrorCallback is called when the detector fails mid-stream.
	ErrorCallback func(error)

	// Names restricts detection to the given wake word names. Empty means
	// whatever the service is configured with.
	Names []string

	EncodingInfo audio.EncodingInfo
}

type DetectionOption func(*DetectionOptions)

func WithDetectionCallback(callback func(detection Detection)) DetectionOption {
	return func(o *DetectionOptions) {
		o.DetectionCallback = callback
	}
}

func WithErrorCallback(callback func(error)) DetectionOption {
	return func(o *DetectionOptions) {
		o.ErrorCallback = callback
	}
}

func WithNames(names ...string) DetectionOption {
	return func(o *DetectionOptions) {
		o.Names = names
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) DetectionOption {
	return func(o *DetectionOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}
