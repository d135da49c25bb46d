package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ClassificationError wraps a failed structured-output call. The
// none-on-failure behavior of loose clients is modeled as an explicit error
// the router downgrades to a clarification.
type ClassificationError struct {
	Raw   string
	Cause error
}

// Error implements the error interface.
func (e *ClassificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("classification failed: %v", e.Cause)
	}
	return "classification failed: empty response"
}

// Unwrap exposes the underlying cause.
func (e *ClassificationError) Unwrap() error { return e.Cause }

// Classifier performs structured-output classification: it instructs the
// model to reply with JSON matching a fixed schema and decodes the reply into
// a typed value.
type Classifier struct {
	client Client
	model  string
}

// NewClassifier wires a classifier onto a chat client.
func NewClassifier(client Client, modelID string) *Classifier {
	return &Classifier{client: client, model: modelID}
}

// Classify sends systemPrompt plus the conversation messages and decodes the
// model's JSON reply into out. Any transport, empty-response, or decode
// failure comes back as a *ClassificationError (with the transport error as
// cause, so retryability is preserved through the chain).
func (c *Classifier) Classify(ctx context.Context, systemPrompt string, messages []Message, out any) error {
	req := ChatRequest{
		Model:       c.model,
		Messages:    append([]Message{{Role: "system", Content: systemPrompt}}, messages...),
		Temperature: 0.1,
	}

	resp, err := c.client.ChatCompletion(ctx, req)
	if err != nil {
		return &ClassificationError{Cause: err}
	}
	if len(resp.Choices) == 0 {
		return &ClassificationError{}
	}

	raw := resp.Choices[0].Message.Content
	payload := extractJSON(raw)
	if payload == "" {
		return &ClassificationError{Raw: raw}
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return &ClassificationError{Raw: raw, Cause: err}
	}
	return nil
}

// Generate produces free-form response text from the conversation.
func (c *Classifier) Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	req := ChatRequest{
		Model:       c.model,
		Messages:    append([]Message{{Role: "system", Content: systemPrompt}}, messages...),
		Temperature: 0.7,
	}
	resp, err := c.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// extractJSON pulls a JSON object out of a model reply, tolerating markdown
// code fences and surrounding prose.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
		raw = strings.TrimSpace(raw)
	}

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
