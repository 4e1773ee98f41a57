package handle

// Handled carries the response text produced for an intent.
type Handled struct {
	Text string `json:"text,omitempty"`
}

// NotHandled reports that the handler had nothing to say for the intent.
type NotHandled struct {
	Text string `json:"text,omitempty"`
}

// Result is the outcome of one handler call: exactly one of Handled or
// NotHandled is set.
type Result struct {
	Handled    *Handled    `json:"handled,omitempty"`
	NotHandled *NotHandled `json:"not_handled,omitempty"`
}

func (r Result) IsZero() bool {
	return r.Handled == nil && r.NotHandled == nil
}

// ResponseText returns whichever text the handler produced, handled or not.
func (r Result) ResponseText() string {
	if r.Handled != nil {
		return r.Handled.Text
	}
	if r.NotHandled != nil {
		return r.NotHandled.Text
	}
	return ""
}
