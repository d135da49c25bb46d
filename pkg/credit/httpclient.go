package credit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPService talks to the credit service over its JSON API.
type HTTPService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPService builds a client for the credit service endpoint. timeout
// bounds each request; zero means 10 seconds.
func NewHTTPService(baseURL, apiKey string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type checkRequest struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
	OpType string  `json:"op_type"`
}

type mutateRequest struct {
	UserID  string         `json:"user_id"`
	Amount  float64        `json:"amount"`
	OpType  string         `json:"op_type"`
	OpID    string         `json:"op_id"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type creditError struct {
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	Required  float64 `json:"required,omitempty"`
	Available float64 `json:"available,omitempty"`
}

// Check implements Service.
func (s *HTTPService) Check(ctx context.Context, userID string, amount float64, opType string) error {
	return s.post(ctx, "check", "/v1/credits/check", checkRequest{UserID: userID, Amount: amount, OpType: opType})
}

// Deduct implements Service.
func (s *HTTPService) Deduct(ctx context.Context, userID string, amount float64, opType, opID string, details map[string]any) error {
	return s.post(ctx, "deduct", "/v1/credits/deduct", mutateRequest{
		UserID: userID, Amount: amount, OpType: opType, OpID: opID, Details: details,
	})
}

// Refund implements Service.
func (s *HTTPService) Refund(ctx context.Context, userID string, amount float64, opType, opID, reason string) error {
	return s.post(ctx, "refund", "/v1/credits/refund", mutateRequest{
		UserID: userID, Amount: amount, OpType: opType, OpID: opID, Reason: reason,
	})
}

func (s *HTTPService) post(ctx context.Context, op, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ServiceError{Op: op, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ServiceError{Op: op, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Transport failures (connection refused, DNS, timeout) may clear.
		return &ServiceError{Op: op, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	data, _ := io.ReadAll(resp.Body)
	var detail creditError
	_ = json.Unmarshal(data, &detail)

	if resp.StatusCode == http.StatusPaymentRequired || detail.Code == "insufficient_credits" {
		return &InsufficientError{Required: detail.Required, Available: detail.Available}
	}

	msg := detail.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	return &ServiceError{
		Op:        op,
		Status:    resp.StatusCode,
		Message:   msg,
		Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError,
	}
}
