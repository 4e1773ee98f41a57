package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
)

// ResponseFailurePolicy decides what the loop does when the response half
// of a turn fails for a reason other than being interrupted.
type ResponseFailurePolicy int

const (
	// ResponseFailureFatal stops the loop and surfaces the error.
	ResponseFailureFatal ResponseFailurePolicy = iota
	// ResponseFailureContinue logs the error and keeps listening.
	ResponseFailureContinue
)

// Loop runs pipeline invocations back to back, overlapping the response
// half of one turn (intent, handle, tts) with the listening half of the
// next (wake, asr). At most one response is in flight at a time; a new
// completed request interrupts it.
type Loop struct {
	invoker Invoker
	records *RecordWriter

	responseFailurePolicy ResponseFailurePolicy
}

type LoopOption func(*Loop)

func WithResponseFailurePolicy(policy ResponseFailurePolicy) LoopOption {
	return func(l *Loop) { l.responseFailurePolicy = policy }
}

func NewLoop(invoker Invoker, records *RecordWriter, opts ...LoopOption) *Loop {
	l := &Loop{invoker: invoker, records: records}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RunOnce executes a single invocation and emits its record.
func (l *Loop) RunOnce(ctx context.Context, opts ...RunOption) error {
	options := newRunOptions(opts...)
	if err := options.Validate(); err != nil {
		return err
	}

	result, err := l.invoker.Invoke(ctx, withRunOptions(options))
	if err != nil {
		return err
	}
	return l.records.Emit(result)
}

// Run executes invocations until the context is cancelled or an invocation
// fails fatally. When the pipeline runs past asr, turns overlap: the slow
// half of a finished turn keeps going in the background while the loop is
// already listening for the next wake word.
func (l *Loop) Run(ctx context.Context, opts ...RunOption) error {
	options := newRunOptions(opts...)
	if err := options.Validate(); err != nil {
		return err
	}

	if DomainASR.reachedStop(options.StopAfter) {
		return l.runSequential(ctx, options)
	}
	return l.runOverlapped(ctx, options)
}

// runSequential is the degraded mode for runs that never get past asr,
// there is no slow half to overlap with.
func (l *Loop) runSequential(ctx context.Context, options RunOptions) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := l.invoker.Invoke(ctx, withRunOptions(options))
		if err != nil {
			return err
		}
		if err := l.records.Emit(result); err != nil {
			return err
		}
	}
}

func (l *Loop) runOverlapped(ctx context.Context, options RunOptions) error {
	requestOptions := requestOptions(options)

	request := l.startInvocation(ctx, requestOptions)
	var response *pendingInvocation

	fail := func(err error) error {
		request.abort()
		if response != nil {
			response.abort()
		}
		return err
	}

	for {
		if response == nil {
			select {
			case <-ctx.Done():
				return fail(ctx.Err())
			case outcome := <-request.outcome:
				next, err := l.onRequestDone(ctx, outcome, &response, options)
				if err != nil {
					if response != nil {
						response.abort()
					}
					return err
				}
				request = next
			}
			continue
		}

		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case outcome := <-request.outcome:
			next, err := l.onRequestDone(ctx, outcome, &response, options)
			if err != nil {
				if response != nil {
					response.abort()
				}
				return err
			}
			request = next
		case outcome := <-response.outcome:
			response = nil
			if err := l.onResponseDone(ctx, outcome); err != nil {
				return fail(err)
			}
		}
	}
}

// onRequestDone processes a finished listening half: it interrupts any
// still-running response, emits the listening record, spawns the response
// for the new turn when there is something to respond to, and starts
// listening again. Request failures are always fatal, without a working
// listening half the loop is dead.
func (l *Loop) onRequestDone(ctx context.Context, outcome invocationOutcome, response **pendingInvocation, options RunOptions) (*pendingInvocation, error) {
	if outcome.err != nil {
		return nil, outcome.err
	}

	if *response != nil {
		// Barge-in. The interrupted turn is dropped without a record, even
		// when it managed to finish in the race with the cancellation.
		(*response).abort()
		*response = nil
	}

	if err := l.records.Emit(outcome.result); err != nil {
		return nil, err
	}
	if outcome.result.HasTranscript() {
		*response = l.startInvocation(ctx, responseOptions(options, outcome.result))
	}

	return l.startInvocation(ctx, requestOptions(options)), nil
}

func (l *Loop) onResponseDone(ctx context.Context, outcome invocationOutcome) error {
	if outcome.err != nil {
		if l.responseFailurePolicy == ResponseFailureContinue {
			logger.ErrorContext(ctx, "Turn response failed", "error", outcome.err)
			return nil
		}
		return fmt.Errorf("turn response failed: %w", outcome.err)
	}
	return l.records.Emit(outcome.result)
}

// requestOptions derives the options for the listening half of a turn:
// it stops after asr and never carries the response side overrides.
func requestOptions(options RunOptions) []RunOption {
	request := options
	request.StopAfter = DomainASR
	request.IntentResult = nil
	request.HandleResult = nil
	request.TTSAudio = nil
	return []RunOption{withRunOptions(request)}
}

// responseOptions derives the options for the response half of a turn,
// seeded with what the listening half heard.
func responseOptions(options RunOptions, heard *Result) []RunOption {
	response := options
	response.WakeDetection = heard.WakeDetection
	response.ASRAudio = nil
	response.ASRTranscript = heard.ASRTranscript
	return []RunOption{withRunOptions(response)}
}

type invocationOutcome struct {
	result *Result
	err    error
}

// pendingInvocation is one in-flight invocation the loop can await or
// cancel. Its outcome channel is buffered so the worker never blocks on a
// loop that has stopped listening.
type pendingInvocation struct {
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
	outcome         chan invocationOutcome
}

func (l *Loop) startInvocation(ctx context.Context, opts []RunOption) *pendingInvocation {
	invocationCtx, cancel := context.WithCancel(ctx)
	invocation := &pendingInvocation{
		cancel:  cancel,
		outcome: make(chan invocationOutcome, 1),
	}

	go func() {
		defer cancel()
		result, err := l.invoker.Invoke(invocationCtx, opts...)
		invocation.outcome <- invocationOutcome{result: result, err: err}
	}()

	return invocation
}

// abort cancels the invocation and waits for it to wind down. The outcome
// is discarded, an aborted invocation never produces a record.
func (inv *pendingInvocation) abort() invocationOutcome {
	inv.cancelRequested.Store(true)
	inv.cancel()
	return <-inv.outcome
}
