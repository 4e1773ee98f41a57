// Package rest forwards recognized intents to an HTTP intent handler and
// returns whatever text it wants spoken back.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kvasirvoice/kvasir-core/core/handle"
	"github.com/kvasirvoice/kvasir-core/core/intent"
	"go.opentelemetry.io/otel/attribute"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Handler struct {
	url    string
	client *http.Client
}

func NewHandler(url string) *Handler {
	return &Handler{
		url:    url,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Handle posts the recognition to the handler service. A 200 with a text
// body (or JSON {"text": ...}) is a handled response, a 204 or empty body
// means the intent was not handled.
func (h *Handler) Handle(ctx context.Context, recognition intent.Recognition) (*handle.Result, error) {
	ctx, span := tracer.Start(ctx, "handle intent")
	defer span.End()

	if recognition.Intent != nil {
		span.SetAttributes(attribute.String("intent.name", recognition.Intent.Name))
	}

	requestBodyBytes, err := json.Marshal(recognition)
	if err != nil {
		err = fmt.Errorf("error marshalling recognition: %w", err)
		span.RecordError(err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", h.url, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusNoContent {
		return &handle.Result{NotHandled: &handle.NotHandled{}}, nil
	}
	if resp.StatusCode != http.StatusOK {
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

	text := string(respBodyBytes)
	if resp.Header.Get("Content-Type") == "application/json" {
		var parsed struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(respBodyBytes, &parsed); err != nil {
			err = fmt.Errorf("error unmarshalling response: %w", err)
			span.RecordError(err)
			return nil, err
		}
		text = parsed.Text
	}

	if text == "" {
		logger.InfoContext(ctx, "intent not handled")
		return &handle.Result{NotHandled: &handle.NotHandled{}}, nil
	}

	return &handle.Result{Handled: &handle.Handled{Text: text}}, nil
}
