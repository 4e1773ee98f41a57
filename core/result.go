package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/kvasirvoice/kvasir-core/core/handle"
	"github.com/kvasirvoice/kvasir-core/core/intent"
	"github.com/kvasirvoice/kvasir-core/core/speechtotext"
	"github.com/kvasirvoice/kvasir-core/core/wake"
)

// Result carries whatever stage outputs one pipeline invocation produced.
// A result with no transcript never carries intent, handle or tts outputs,
// those stages are skipped upstream. Results are immutable once returned.
type Result struct {
	ID string `json:"id"`

	WakeDetection *wake.Detection          `json:"wake_detection,omitempty"`
	ASRTranscript *speechtotext.Transcript `json:"asr_transcript,omitempty"`

	Intent        *intent.Intent        `json:"intent,omitempty"`
	NotRecognized *intent.NotRecognized `json:"not_recognized,omitempty"`

	Handled    *handle.Handled    `json:"handled,omitempty"`
	NotHandled *handle.NotHandled `json:"not_handled,omitempty"`

	TTSAudio *SynthesizedAudio `json:"tts_audio,omitempty"`
}

// SynthesizedAudio describes the speech produced for a turn without
// carrying the samples themselves.
type SynthesizedAudio struct {
	SampleRate int     `json:"sample_rate"`
	Samples    int     `json:"samples"`
	Seconds    float64 `json:"seconds"`
}

func newResult() *Result {
	return &Result{ID: uuid.NewString()}
}

// TranscriptText returns the recognized text, empty when the turn produced
// none.
func (r *Result) TranscriptText() string {
	if r == nil || r.ASRTranscript == nil {
		return ""
	}
	return r.ASRTranscript.Text
}

// HasTranscript reports whether the turn produced usable speech text.
func (r *Result) HasTranscript() bool {
	return r != nil && r.ASRTranscript != nil && !r.ASRTranscript.IsZero()
}

func (r *Result) setRecognition(recognition intent.Recognition) {
	r.Intent = recognition.Intent
	r.NotRecognized = recognition.NotRecognized
}

func (r *Result) recognition() intent.Recognition {
	return intent.Recognition{Intent: r.Intent, NotRecognized: r.NotRecognized}
}

func (r *Result) setHandleResult(result handle.Result) {
	r.Handled = result.Handled
	r.NotHandled = result.NotHandled
}

func (r *Result) responseText() string {
	return handle.Result{Handled: r.Handled, NotHandled: r.NotHandled}.ResponseText()
}

// RecordWriter serializes results as line-delimited JSON, one object per
// completed invocation, in the order they are emitted.
type RecordWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{encoder: json.NewEncoder(w)}
}

func (w *RecordWriter) Emit(result *Result) error {
	if result == nil {
		return fmt.Errorf("cannot emit nil result")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to write result record: %w", err)
	}
	return nil
}
