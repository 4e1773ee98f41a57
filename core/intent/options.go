package intent

type RecognitionOptions struct {
	// AllowedIntents restricts recognition to the given intent names. Empty
	// means whatever the recognizer knows about.
	AllowedIntents []string
}

type RecognitionOption func(*RecognitionOptions)

func WithAllowedIntents(names ...string) RecognitionOption {
	return func(o *RecognitionOptions) {
		o.AllowedIntents = names
	}
}
