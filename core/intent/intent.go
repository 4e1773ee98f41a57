package intent

// Entity is a single slot extracted from an utterance.
type Entity struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Intent is a successfully recognized intent.
type Intent struct {
	Name     string   `json:"name"`
	Entities []Entity `json:"entities,omitempty"`
	// Text is the utterance the intent was recognized from.
	Text string `json:"text,omitempty"`
}

// NotRecognized reports that no intent matched the utterance.
type NotRecognized struct {
	Text string `json:"text,omitempty"`
}

// Recognition is the outcome of one recognizer call: exactly one of Intent
// or NotRecognized is set.
type Recognition struct {
	Intent        *Intent        `json:"intent,omitempty"`
	NotRecognized *NotRecognized `json:"not_recognized,omitempty"`
}

func (r Recognition) IsZero() bool {
	return r.Intent == nil && r.NotRecognized == nil
}
