// Package llm recognizes intents by asking an OpenAI-compatible chat
// endpoint for a structured JSON response constrained to a schema.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jinzhu/copier"
	"github.com/kvasirvoice/kvasir-core/core/intent"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const defaultSystemPrompt = "You extract the user's intent from a single utterance. " +
	"Pick one of the known intent names, or mark the utterance as not recognized."

type Recognizer struct {
	url    string
	apiKey string
	model  string

	knownIntents []string
	systemPrompt string
}

type RecognizerOption func(*Recognizer)

func WithSystemPrompt(prompt string) RecognizerOption {
	return func(r *Recognizer) { r.systemPrompt = prompt }
}

func WithKnownIntents(names ...string) RecognizerOption {
	return func(r *Recognizer) { r.knownIntents = names }
}

func NewRecognizer(url, apiKey, model string, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		url:          url,
		apiKey:       apiKey,
		model:        model,
		systemPrompt: defaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// recognitionSchema is the shape the model is constrained to. It mirrors
// intent.Recognition but stays flat so every model can fill it reliably.
type recognitionSchema struct {
	Recognized bool   `json:"recognized" jsonschema:"description=Whether any known intent matched"`
	Name       string `json:"name,omitempty" jsonschema:"description=Name of the matched intent"`
	Entities   []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"entities,omitempty"`
}

func (r *Recognizer) Recognize(ctx context.Context, text string, opts ...intent.RecognitionOption) (*intent.Recognition, error) {
	ctx, span := tracer.Start(ctx, "recognize intent")
	defer span.End()

	options := intent.RecognitionOptions{AllowedIntents: r.knownIntents}
	for _, opt := range opts {
		opt(&options)
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(recognitionSchema{})

	prompt := text
	if len(options.AllowedIntents) > 0 {
		prompt = fmt.Sprintf("Known intents: %s\nUtterance: %s",
			strings.Join(options.AllowedIntents, ", "), text)
	}

	reqBody := requestBody{
		Model: r.model,
		Messages: []message{
			{Role: "system", Content: r.systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   "recognition",
				Schema: *schema,
				Strict: true,
			},
		},
	}

	span.SetAttributes(attribute.String("request.model", r.model))
	schemaString, _ := schema.MarshalJSON()
	span.SetAttributes(attribute.String("request.schema", string(schemaString)))

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.url, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	resp, err := client.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, err := io.ReadAll(resp.Body); err == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}

		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		return nil, err
	}

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("error reading response body: %w", err)
		span.RecordError(err)
		return nil, err
	}

	var responseBody struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBodyBytes, &responseBody); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		return nil, err
	}
	if len(responseBody.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	content := responseBody.Choices[0].Message.Content
	split := strings.Split(content, "```")
	if len(split) > 1 {
		content = split[1]
	}

	var recognized recognitionSchema
	if err := json.Unmarshal([]byte(content), &recognized); err != nil {
		err = fmt.Errorf("error unmarshalling recognition: %w", err)
		span.RecordError(err)
		return nil, err
	}

	if !recognized.Recognized || recognized.Name == "" {
		logger.InfoContext(ctx, "utterance not recognized", "text", text)
		return &intent.Recognition{NotRecognized: &intent.NotRecognized{Text: text}}, nil
	}

	result := intent.Intent{Name: recognized.Name, Text: text}
	copier.Copy(&result.Entities, recognized.Entities)
	span.SetAttributes(attribute.String("recognition.intent", result.Name))

	return &intent.Recognition{Intent: &result}, nil
}

type requestBody struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string            `json:"name"`
	Schema jsonschema.Schema `json:"schema"`
	Strict bool              `json:"strict"`
}
