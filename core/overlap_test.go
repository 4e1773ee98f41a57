package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kvasirvoice/kvasir-core/core/handle"
	"github.com/kvasirvoice/kvasir-core/core/speechtotext"
	"github.com/kvasirvoice/kvasir-core/core/wake"
)

func TestRunOnceEmitsSingleRecord(t *testing.T) {
	sink := newRecordSink()
	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		return heardResult("turn the lights on"), nil
	}}

	loop := NewLoop(invoker, NewRecordWriter(sink))
	if err := loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected RunOnce to succeed, got %v", err)
	}

	records := sink.records(t)
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if got := records[0].TranscriptText(); got != "turn the lights on" {
		t.Fatalf("expected record transcript %q, got %q", "turn the lights on", got)
	}
}

func TestRunOnceReturnsInvocationError(t *testing.T) {
	expected := errors.New("no microphone")
	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		return nil, expected
	}}

	loop := NewLoop(invoker, NewRecordWriter(newRecordSink()))
	if err := loop.RunOnce(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected invocation error, got %v", err)
	}
}

func TestRunRejectsInconsistentOptions(t *testing.T) {
	invocations := atomic.Int32{}
	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		invocations.Add(1)
		return heardResult("never"), nil
	}}

	loop := NewLoop(invoker, NewRecordWriter(newRecordSink()))
	err := loop.Run(context.Background(),
		WithStopAfter(DomainWake),
		WithTranscript(&speechtotext.Transcript{Text: "supplied"}),
	)
	if err == nil {
		t.Fatalf("expected a configuration error")
	}
	if got := invocations.Load(); got != 0 {
		t.Fatalf("expected no invocations after a configuration error, got %d", got)
	}
}

func TestRunOverlapsResponseWithNextListen(t *testing.T) {
	sink := newRecordSink()
	requests := atomic.Int32{}
	secondRequestStarted := make(chan struct{})

	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		if options.StopAfter == DomainASR {
			if requests.Add(1) == 1 {
				return heardResult("first turn"), nil
			}
			close(secondRequestStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		}

		// The loop must already be listening again before the response of
		// the previous turn finishes.
		select {
		case <-secondRequestStarted:
		case <-time.After(2 * time.Second):
			return nil, errors.New("timed out waiting for the next listen to start")
		}
		return respondedResult(options, "done"), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	loop := NewLoop(invoker, NewRecordWriter(sink))
	go func() { runDone <- loop.Run(ctx) }()

	sink.awaitRecords(t, 2)
	cancel()
	awaitCancelled(t, runDone)

	records := sink.records(t)
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if records[0].TranscriptText() != "first turn" || records[0].Handled != nil {
		t.Fatalf("expected a listen-only record first, got %+v", records[0])
	}
	if records[1].Handled == nil {
		t.Fatalf("expected the response record second, got %+v", records[1])
	}
}

func TestBargeInDropsInterruptedResponse(t *testing.T) {
	sink := newRecordSink()
	requests := atomic.Int32{}
	responses := atomic.Int32{}
	firstResponseStarted := make(chan struct{})
	firstResponseCancelled := atomic.Bool{}

	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		if options.StopAfter == DomainASR {
			switch requests.Add(1) {
			case 1:
				return heardResult("first turn"), nil
			case 2:
				<-firstResponseStarted
				return heardResult("second turn"), nil
			default:
				<-ctx.Done()
				return nil, ctx.Err()
			}
		}

		if responses.Add(1) == 1 {
			close(firstResponseStarted)
			// Finish successfully despite the interruption, the loop still
			// must not record this turn.
			<-ctx.Done()
			firstResponseCancelled.Store(true)
			return respondedResult(options, "too late"), nil
		}
		return respondedResult(options, "done"), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	loop := NewLoop(invoker, NewRecordWriter(sink))
	go func() { runDone <- loop.Run(ctx) }()

	sink.awaitRecords(t, 3)
	cancel()
	awaitCancelled(t, runDone)

	if !firstResponseCancelled.Load() {
		t.Fatalf("expected the first response to be cancelled by the barge-in")
	}

	records := sink.records(t)
	if len(records) != 3 {
		t.Fatalf("expected two listen records and one response record, got %d", len(records))
	}
	for _, record := range records {
		if record.Handled != nil && record.Handled.Text == "too late" {
			t.Fatalf("expected no record for the interrupted response")
		}
	}
	last := records[len(records)-1]
	if last.TranscriptText() != "second turn" || last.Handled == nil {
		t.Fatalf("expected the response record for the second turn, got %+v", last)
	}
}

func TestEmptyTranscriptSkipsResponse(t *testing.T) {
	sink := newRecordSink()
	requests := atomic.Int32{}
	responses := atomic.Int32{}

	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		if options.StopAfter == DomainASR {
			if requests.Add(1) == 1 {
				return newResult(), nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		responses.Add(1)
		return respondedResult(options, "unexpected"), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	loop := NewLoop(invoker, NewRecordWriter(sink))
	go func() { runDone <- loop.Run(ctx) }()

	sink.awaitRecord(t)
	cancel()
	awaitCancelled(t, runDone)

	if got := responses.Load(); got != 0 {
		t.Fatalf("expected no response without a transcript, got %d", got)
	}

	records := sink.records(t)
	if len(records) != 1 {
		t.Fatalf("expected the silent turn to still be recorded, got %d records", len(records))
	}
	if records[0].TranscriptText() != "" {
		t.Fatalf("expected an empty transcript, got %q", records[0].TranscriptText())
	}
}

func TestRequestFailureStopsTheLoop(t *testing.T) {
	expected := errors.New("wake service went away")
	responseCancelled := make(chan struct{})
	requests := atomic.Int32{}

	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		if options.StopAfter == DomainASR {
			if requests.Add(1) == 1 {
				return heardResult("first turn"), nil
			}
			return nil, expected
		}
		<-ctx.Done()
		close(responseCancelled)
		return nil, ctx.Err()
	}}

	loop := NewLoop(invoker, NewRecordWriter(newRecordSink()))
	if err := loop.Run(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected the request error, got %v", err)
	}

	select {
	case <-responseCancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the pending response to be cancelled")
	}
}

func TestResponseFailureStopsTheLoopByDefault(t *testing.T) {
	expected := errors.New("handler rejected the intent")
	requestCancelled := make(chan struct{})
	requests := atomic.Int32{}

	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		if options.StopAfter == DomainASR {
			if requests.Add(1) == 1 {
				return heardResult("first turn"), nil
			}
			<-ctx.Done()
			close(requestCancelled)
			return nil, ctx.Err()
		}
		return nil, expected
	}}

	loop := NewLoop(invoker, NewRecordWriter(newRecordSink()))
	if err := loop.Run(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected the response error, got %v", err)
	}

	select {
	case <-requestCancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the in-flight listen to be cancelled")
	}
}

func TestResponseFailureCanBeSwallowed(t *testing.T) {
	sink := newRecordSink()
	requests := atomic.Int32{}
	responses := atomic.Int32{}
	releaseSecondRequest := make(chan struct{})

	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		if options.StopAfter == DomainASR {
			switch requests.Add(1) {
			case 1:
				return heardResult("first turn"), nil
			case 2:
				<-releaseSecondRequest
				return heardResult("second turn"), nil
			default:
				<-ctx.Done()
				return nil, ctx.Err()
			}
		}

		if responses.Add(1) == 1 {
			close(releaseSecondRequest)
			return nil, errors.New("handler rejected the intent")
		}
		return respondedResult(options, "done"), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	loop := NewLoop(invoker, NewRecordWriter(sink),
		WithResponseFailurePolicy(ResponseFailureContinue),
	)
	go func() { runDone <- loop.Run(ctx) }()

	sink.awaitRecords(t, 3)
	cancel()
	awaitCancelled(t, runDone)

	records := sink.records(t)
	if len(records) != 3 {
		t.Fatalf("expected the loop to keep recording after the swallowed failure, got %d records", len(records))
	}
	last := records[len(records)-1]
	if last.TranscriptText() != "second turn" || last.Handled == nil {
		t.Fatalf("expected the second turn's response to be recorded, got %+v", last)
	}
}

func TestEarlyStopRunsSequentially(t *testing.T) {
	sink := newRecordSink()
	invocations := atomic.Int32{}

	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		if options.StopAfter != DomainASR {
			return nil, fmt.Errorf("expected stop-after asr, got %q", options.StopAfter)
		}
		if invocations.Add(1) > 2 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return heardResult("heard"), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	loop := NewLoop(invoker, NewRecordWriter(sink))
	go func() { runDone <- loop.Run(ctx, WithStopAfter(DomainASR)) }()

	sink.awaitRecord(t)
	sink.awaitRecord(t)
	cancel()
	awaitCancelled(t, runDone)

	if records := sink.records(t); len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
}

func TestResponseCarriesOverWhatWasHeard(t *testing.T) {
	sink := newRecordSink()
	requests := atomic.Int32{}
	carried := make(chan RunOptions, 1)

	invoker := &scriptedInvoker{invoke: func(ctx context.Context, options RunOptions) (*Result, error) {
		if options.StopAfter == DomainASR {
			if requests.Add(1) == 1 {
				result := heardResult("first turn")
				result.WakeDetection = &fixedDetection
				return result, nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}

		select {
		case carried <- options:
		default:
		}
		return respondedResult(options, "done"), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	loop := NewLoop(invoker, NewRecordWriter(sink))
	go func() { runDone <- loop.Run(ctx) }()

	sink.awaitRecords(t, 2)
	cancel()
	awaitCancelled(t, runDone)

	select {
	case options := <-carried:
		if options.ASRTranscript == nil || options.ASRTranscript.Text != "first turn" {
			t.Fatalf("expected the response to be seeded with the transcript, got %+v", options.ASRTranscript)
		}
		if options.WakeDetection == nil || options.WakeDetection.Name != fixedDetection.Name {
			t.Fatalf("expected the response to be seeded with the detection, got %+v", options.WakeDetection)
		}
		if options.StopAfter != "" {
			t.Fatalf("expected the response to run to the end, got stop-after %q", options.StopAfter)
		}
	default:
		t.Fatalf("expected a response invocation")
	}
}

type scriptedInvoker struct {
	invoke func(ctx context.Context, options RunOptions) (*Result, error)
}

func (s *scriptedInvoker) Invoke(ctx context.Context, opts ...RunOption) (*Result, error) {
	return s.invoke(ctx, newRunOptions(opts...))
}

var fixedDetection = wake.NewDetection("computer")

func heardResult(text string) *Result {
	result := newResult()
	if text != "" {
		result.ASRTranscript = &speechtotext.Transcript{Text: text}
	}
	return result
}

func respondedResult(options RunOptions, response string) *Result {
	result := newResult()
	result.WakeDetection = options.WakeDetection
	result.ASRTranscript = options.ASRTranscript
	result.Handled = &handle.Handled{Text: response}
	return result
}

func awaitCancelled(t *testing.T, runDone <-chan error) {
	t.Helper()
	select {
	case err := <-runDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected the loop to stop with context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the loop to stop")
	}
}

// recordSink collects emitted records and signals each write so tests can
// wait for emission without polling.
type recordSink struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	written chan struct{}
}

func newRecordSink() *recordSink {
	return &recordSink{written: make(chan struct{}, 16)}
}

func (s *recordSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	n, err := s.buf.Write(p)
	s.mu.Unlock()

	select {
	case s.written <- struct{}{}:
	default:
	}
	return n, err
}

func (s *recordSink) awaitRecord(t *testing.T) {
	t.Helper()
	select {
	case <-s.written:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a record")
	}
}

func (s *recordSink) awaitRecords(t *testing.T, n int) {
	t.Helper()
	for range n {
		s.awaitRecord(t)
	}
}

func (s *recordSink) records(t *testing.T) []Result {
	t.Helper()

	s.mu.Lock()
	raw := s.buf.String()
	s.mu.Unlock()

	records := []Result{}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		record := Result{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("failed to parse record %q: %v", line, err)
		}
		records = append(records, record)
	}
	return records
}
