package pipeline

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kvasirvoice/kvasir-core/core/handle"
	"github.com/kvasirvoice/kvasir-core/core/speechtotext"
	"github.com/kvasirvoice/kvasir-core/core/wake"
)

func TestRecordWriterEmitsOneLinePerResult(t *testing.T) {
	buf := bytes.Buffer{}
	writer := NewRecordWriter(&buf)

	first := newResult()
	first.WakeDetection = &wake.Detection{Name: "computer"}
	first.ASRTranscript = &speechtotext.Transcript{Text: "what time is it"}
	first.Handled = &handle.Handled{Text: "half past nine"}

	second := newResult()

	for _, result := range []*Result{first, second} {
		if err := writer.Emit(result); err != nil {
			t.Fatalf("expected the record to be written, got %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two record lines, got %d", len(lines))
	}

	parsed := map[string]any{}
	if err := json.Unmarshal([]byte(lines[0]), &parsed); err != nil {
		t.Fatalf("expected valid JSON, got %v", err)
	}
	if parsed["id"] != first.ID {
		t.Fatalf("expected the result id in the record, got %v", parsed["id"])
	}
	if _, ok := parsed["wake_detection"]; !ok {
		t.Fatalf("expected the detection in the record")
	}

	// Empty stages stay out of the record entirely.
	empty := map[string]any{}
	if err := json.Unmarshal([]byte(lines[1]), &empty); err != nil {
		t.Fatalf("expected valid JSON, got %v", err)
	}
	if len(empty) != 1 {
		t.Fatalf("expected only the id in an empty record, got %v", empty)
	}
}

func TestRecordWriterRejectsNilResult(t *testing.T) {
	writer := NewRecordWriter(&bytes.Buffer{})
	if err := writer.Emit(nil); err == nil {
		t.Fatalf("expected an error for a nil result")
	}
}

func TestHasTranscript(t *testing.T) {
	result := newResult()
	if result.HasTranscript() {
		t.Fatalf("expected no transcript on a fresh result")
	}

	result.ASRTranscript = &speechtotext.Transcript{}
	if result.HasTranscript() {
		t.Fatalf("expected an empty transcript to not count")
	}

	result.ASRTranscript = &speechtotext.Transcript{Text: "hello"}
	if !result.HasTranscript() {
		t.Fatalf("expected a transcript")
	}
}
