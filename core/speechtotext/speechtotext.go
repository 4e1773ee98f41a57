package speechtotext

// Transcript is the final text recognized from one utterance.
type Transcript struct {
	Text string `json:"text"`
}

func (t Transcript) IsZero() bool {
	return t.Text == ""
}
