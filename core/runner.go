package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/kvasirvoice/kvasir-core/core/audio"
	"github.com/kvasirvoice/kvasir-core/core/speechtotext"
	"github.com/kvasirvoice/kvasir-core/core/texttospeech"
	"github.com/kvasirvoice/kvasir-core/core/wake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Invoker executes one pipeline invocation as an opaque, cancellable unit
// of work. The loop never looks inside an invocation, it only starts,
// awaits and cancels them.
type Invoker interface {
	Invoke(ctx context.Context, opts ...RunOption) (*Result, error)
}

// Runner runs the pipeline stages in order over pluggable stage clients,
// honoring pre-supplied stage results and the stop-after point.
type Runner struct {
	wakeDetector WakeDetector
	speechToText SpeechToText
	recognizer   IntentRecognizer
	handler      IntentHandler
	synthesizer  SpeechSynthesizer
	audioInput   AudioInput
	audioOutput  AudioOutput
}

func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Invoke(ctx context.Context, opts ...RunOption) (*Result, error) {
	options := newRunOptions(opts...)
	if err := options.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "run pipeline")
	defer span.End()
	if options.StopAfter != "" {
		span.SetAttributes(attribute.String("pipeline.stop_after", string(options.StopAfter)))
	}

	result := newResult()

	skipWake := options.WakeDetection != nil || options.ASRAudio != nil ||
		options.ASRTranscript != nil || options.IntentResult != nil
	skipASR := options.ASRTranscript != nil || options.IntentResult != nil

	var capture *captureSession
	if (!skipWake || (!skipASR && options.ASRAudio == nil)) && r.audioInput != nil {
		capture = newCaptureSession(r.audioInput, options.ASRChunksToBuffer)
		if err := capture.start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start audio capture: %w", err)
		}
		defer capture.stop()
	}

	result.WakeDetection = options.WakeDetection
	if !skipWake {
		detection, err := r.runWake(ctx, capture, options)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result.WakeDetection = detection
	}
	if DomainWake.reachedStop(options.StopAfter) {
		return result, nil
	}

	result.ASRTranscript = options.ASRTranscript
	if !skipASR {
		transcript, err := r.runASR(ctx, capture, options)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result.ASRTranscript = transcript
	}
	if capture != nil {
		capture.stop()
	}
	if DomainASR.reachedStop(options.StopAfter) {
		return result, nil
	}

	// No usable speech means nothing downstream to do; the result still
	// reports the detection that woke us up.
	if !result.HasTranscript() {
		return result, nil
	}
	span.SetAttributes(attribute.String("pipeline.transcript", result.TranscriptText()))

	recognition := options.IntentResult
	if recognition == nil {
		if r.recognizer == nil {
			return nil, fmt.Errorf("no intent recognizer configured")
		}

		var err error
		recognition, err = r.recognizer.Recognize(ctx, result.TranscriptText())
		if err != nil {
			err = fmt.Errorf("intent recognition failed: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	result.setRecognition(*recognition)
	if DomainIntent.reachedStop(options.StopAfter) {
		return result, nil
	}

	handleResult := options.HandleResult
	if handleResult == nil {
		if r.handler == nil {
			return nil, fmt.Errorf("no intent handler configured")
		}

		var err error
		handleResult, err = r.handler.Handle(ctx, result.recognition())
		if err != nil {
			err = fmt.Errorf("intent handling failed: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	result.setHandleResult(*handleResult)
	if DomainHandle.reachedStop(options.StopAfter) {
		return result, nil
	}

	synthesized, err := r.runTTS(ctx, result, options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result.TTSAudio = synthesized

	return result, nil
}

func (r *Runner) runWake(ctx context.Context, capture *captureSession, options RunOptions) (*wake.Detection, error) {
	ctx, span := tracer.Start(ctx, "wake detection")
	defer span.End()

	if r.wakeDetector == nil {
		return nil, fmt.Errorf("no wake detector configured")
	}
	if capture == nil {
		return nil, fmt.Errorf("no audio input configured")
	}

	detections := make(chan wake.Detection, 1)
	detectErrs := make(chan error, 1)
	if err := r.wakeDetector.Detect(ctx,
		wake.WithDetectionCallback(func(detection wake.Detection) {
			select {
			case detections <- detection:
			default:
			}
		}),
		wake.WithErrorCallback(func(err error) {
			select {
			case detectErrs <- err:
			default:
			}
		}),
		wake.WithNames(options.WakeNames...),
		wake.WithEncodingInfo(r.audioInput.EncodingInfo()),
	); err != nil {
		return nil, fmt.Errorf("failed to start wake detection: %w", err)
	}
	defer r.wakeDetector.Close()

	capture.setSink(r.wakeDetector.SendAudio)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-detectErrs:
		return nil, fmt.Errorf("wake detection failed: %w", err)
	case detection := <-detections:
		span.SetAttributes(attribute.String("wake.name", detection.Name))
		capture.setSink(nil)
		return &detection, nil
	}
}

func (r *Runner) runASR(ctx context.Context, capture *captureSession, options RunOptions) (*speechtotext.Transcript, error) {
	ctx, span := tracer.Start(ctx, "speech to text")
	defer span.End()

	if r.speechToText == nil {
		return nil, fmt.Errorf("no speech-to-text client configured")
	}

	encodingInfo := audio.GetDefaultEncodingInfo()
	if options.ASRAudio != nil {
		encodingInfo = options.ASRAudio.Info
	} else if r.audioInput != nil {
		encodingInfo = r.audioInput.EncodingInfo()
	}

	transcripts := make(chan string, 1)
	speechEnded := make(chan struct{}, 1)
	if err := r.speechToText.Transcribe(ctx,
		speechtotext.WithTranscriptionCallback(func(transcript string) {
			select {
			case transcripts <- transcript:
			default:
			}
		}),
		speechtotext.WithSpeechEndedCallback(func() {
			select {
			case speechEnded <- struct{}{}:
			default:
			}
		}),
		speechtotext.WithEncodingInfo(encodingInfo),
	); err != nil {
		return nil, fmt.Errorf("failed to start transcribing: %w", err)
	}
	defer r.speechToText.StopStream()

	if options.ASRAudio != nil {
		for chunk := range audio.Chunks(options.ASRAudio.PCM, options.ASRAudio.Info, options.SamplesPerChunk) {
			if err := r.speechToText.SendAudio(chunk); err != nil {
				return nil, fmt.Errorf("failed to send audio to speech-to-text: %w", err)
			}
		}
		if err := r.speechToText.StopStream(); err != nil {
			return nil, fmt.Errorf("failed to finish speech-to-text stream: %w", err)
		}
	} else {
		if capture == nil {
			return nil, fmt.Errorf("no audio input configured")
		}
		capture.setSink(r.speechToText.SendAudio)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case transcript := <-transcripts:
		span.SetAttributes(attribute.String("asr.transcript", transcript))
		return &speechtotext.Transcript{Text: transcript}, nil
	case <-speechEnded:
		// The utterance ended without usable speech; a transcript may have
		// raced ahead of the end signal, prefer it if so.
		select {
		case transcript := <-transcripts:
			span.SetAttributes(attribute.String("asr.transcript", transcript))
			return &speechtotext.Transcript{Text: transcript}, nil
		default:
			return nil, nil
		}
	}
}

func (r *Runner) runTTS(ctx context.Context, result *Result, options RunOptions) (*SynthesizedAudio, error) {
	ctx, span := tracer.Start(ctx, "text to speech")
	defer span.End()

	if options.TTSAudio != nil {
		if r.audioOutput == nil {
			return nil, fmt.Errorf("no audio output configured")
		}
		if err := r.audioOutput.Play(ctx, options.TTSAudio.PCM); err != nil {
			return nil, fmt.Errorf("failed to play tts audio: %w", err)
		}
		return describeClip(options.TTSAudio), nil
	}

	responseText := result.responseText()
	if responseText == "" {
		// Nothing to say; not an error, the turn just ends quietly.
		return nil, nil
	}
	span.SetAttributes(attribute.String("tts.text", responseText))

	if r.synthesizer == nil {
		return nil, fmt.Errorf("no speech synthesizer configured")
	}
	if r.audioOutput == nil {
		return nil, fmt.Errorf("no audio output configured")
	}

	encodingInfo := r.audioOutput.EncodingInfo()

	var (
		pcm   []byte
		pcmMu sync.Mutex
	)
	if err := r.synthesizer.Synthesize(ctx, responseText,
		texttospeech.WithSpeechAudioCallback(func(audio []byte) {
			pcmMu.Lock()
			pcm = append(pcm, audio...)
			pcmMu.Unlock()
		}),
		texttospeech.WithEncodingInfo(encodingInfo),
	); err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}

	pcmMu.Lock()
	clip := &audio.Clip{Info: encodingInfo, PCM: pcm}
	pcmMu.Unlock()

	if err := r.audioOutput.Play(ctx, clip.PCM); err != nil {
		return nil, fmt.Errorf("failed to play synthesized speech: %w", err)
	}

	return describeClip(clip), nil
}

func describeClip(clip *audio.Clip) *SynthesizedAudio {
	byteSize := clip.Info.Format.ByteSize()
	samples := 0
	if byteSize > 0 {
		samples = len(clip.PCM) / byteSize
	}
	return &SynthesizedAudio{
		SampleRate: clip.Info.SampleRate,
		Samples:    samples,
		Seconds:    clip.Seconds(),
	}
}

// captureSession owns the audio input for one invocation: it forwards live
// chunks to the stage currently listening and keeps a bounded backlog of
// recent chunks so speech captured during wake detection is not lost to
// the asr stage.
type captureSession struct {
	input       AudioInput
	backlogSize int

	mu      sync.Mutex
	sink    func(audio []byte) error
	backlog [][]byte
	stopped bool
}

func newCaptureSession(input AudioInput, backlogSize int) *captureSession {
	return &captureSession{input: input, backlogSize: backlogSize}
}

func (s *captureSession) start(ctx context.Context) error {
	return s.input.StartCapture(ctx, s.onAudio)
}

func (s *captureSession) onAudio(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backlogSize > 0 {
		// The device reuses its buffer, the backlog needs its own copy.
		buffered := make([]byte, len(chunk))
		copy(buffered, chunk)
		s.backlog = append(s.backlog, buffered)
		if len(s.backlog) > s.backlogSize {
			s.backlog = s.backlog[len(s.backlog)-s.backlogSize:]
		}
	}

	if s.sink != nil {
		_ = s.sink(chunk)
	}
}

// setSink switches the live audio consumer, first replaying any backlog
// into the new one. A nil sink mutes forwarding but keeps buffering.
func (s *captureSession) setSink(sink func(audio []byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sink != nil {
		for _, chunk := range s.backlog {
			_ = sink(chunk)
		}
		s.backlog = nil
	}
	s.sink = sink
}

func (s *captureSession) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.sink = nil
	s.mu.Unlock()

	_ = s.input.StopCapture()
}
