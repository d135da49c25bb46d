package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "bare object",
			raw:  `{"intent":"query_data"}`,
			want: `{"intent":"query_data"}`,
		},
		{
			name: "json fence",
			raw:  "```json\n{\"intent\":\"query_data\"}\n```",
			want: `{"intent":"query_data"}`,
		},
		{
			name: "plain fence",
			raw:  "```\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "surrounding prose",
			raw:  "Here is the classification:\n{\"intent\":\"general_query\"}\nHope that helps.",
			want: `{"intent":"general_query"}`,
		},
		{
			name: "nested braces",
			raw:  `{"params":{"count":4}}`,
			want: `{"params":{"count":4}}`,
		},
		{
			name: "empty",
			raw:  "",
			want: "",
		},
		{
			name: "no object",
			raw:  "I cannot answer that.",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.raw); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

type stubClient struct {
	resp *ChatResponse
	err  error
	last ChatRequest
}

func (s *stubClient) ChatCompletion(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.last = req
	return s.resp, s.err
}

func textResponse(content string) *ChatResponse {
	return &ChatResponse{
		Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
	}
}

func TestClassifyDecodesFencedJSON(t *testing.T) {
	stub := &stubClient{resp: textResponse("```json\n{\"intent\":\"generate_creative\",\"confidence\":0.9}\n```")}
	c := NewClassifier(stub, "test-model")

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	err := c.Classify(context.Background(), "classify", []Message{{Role: "user", Content: "hi"}}, &out)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.Intent != "generate_creative" || out.Confidence != 0.9 {
		t.Errorf("decoded %+v", out)
	}
	if stub.last.Messages[0].Role != "system" || stub.last.Messages[0].Content != "classify" {
		t.Errorf("system prompt not prepended: %+v", stub.last.Messages)
	}
}

func TestClassifyErrorsPreserveCause(t *testing.T) {
	apiErr := &APIError{StatusCode: 429, Message: "slow down", Retryable: true}
	stub := &stubClient{err: apiErr}
	c := NewClassifier(stub, "test-model")

	var out map[string]any
	err := c.Classify(context.Background(), "classify", nil, &out)

	var classErr *ClassificationError
	if !errors.As(err, &classErr) {
		t.Fatalf("want *ClassificationError, got %T", err)
	}
	var unwrapped *APIError
	if !errors.As(err, &unwrapped) || !unwrapped.IsRetryable() {
		t.Error("transport error lost from chain")
	}
}

func TestClassifyRejectsNonJSONReply(t *testing.T) {
	stub := &stubClient{resp: textResponse("I am not sure what you mean.")}
	c := NewClassifier(stub, "test-model")

	var out map[string]any
	err := c.Classify(context.Background(), "classify", nil, &out)

	var classErr *ClassificationError
	if !errors.As(err, &classErr) {
		t.Fatalf("want *ClassificationError, got %v", err)
	}
	if classErr.Raw == "" {
		t.Error("raw reply not captured")
	}
}

func TestGenerate(t *testing.T) {
	stub := &stubClient{resp: textResponse("  All four images are ready.  ")}
	c := NewClassifier(stub, "test-model")

	got, err := c.Generate(context.Background(), "respond", []Message{{Role: "user", Content: "done?"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "All four images are ready." {
		t.Errorf("Generate = %q", got)
	}
}

func TestHTTPClientChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream should be forced off")
		}
		json.NewEncoder(w).Encode(ChatResponse{
			ID:      "chatcmpl-1",
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sk-test", 5*time.Second)
	resp, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m", Stream: true})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "ok" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHTTPClientErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		retryAfter    string
		body          string
		wantRetryable bool
		wantMessage   string
		wantRetryWait time.Duration
	}{
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			retryAfter:    "7",
			body:          `{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`,
			wantRetryable: true,
			wantMessage:   "rate limit exceeded",
			wantRetryWait: 7 * time.Second,
		},
		{
			name:          "server error",
			status:        http.StatusBadGateway,
			body:          "upstream down",
			wantRetryable: true,
			wantMessage:   "upstream down",
		},
		{
			name:          "bad request",
			status:        http.StatusBadRequest,
			body:          `{"error":{"message":"invalid model","type":"invalid_request_error","code":"model_not_found"}}`,
			wantRetryable: false,
			wantMessage:   "invalid model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "", time.Second)
			_, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("want *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.IsRetryable() != tt.wantRetryable {
				t.Errorf("IsRetryable = %v, want %v", apiErr.IsRetryable(), tt.wantRetryable)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
			if apiErr.RetryAfter != tt.wantRetryWait {
				t.Errorf("RetryAfter = %v, want %v", apiErr.RetryAfter, tt.wantRetryWait)
			}
		})
	}
}
