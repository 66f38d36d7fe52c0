// Package testutil provides testing utilities for the outreach dispatcher.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockEmail is a decoded send request as seen by the mock provider.
type MockEmail struct {
	From           string   `json:"from"`
	To             []string `json:"to"`
	Subject        string   `json:"subject"`
	HTML           string   `json:"html"`
	Text           string   `json:"text"`
	IdempotencyKey string   `json:"-"`
}

// MockProviderResponse defines the behavior for a scripted provider response.
type MockProviderResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockProvider is a configurable transactional email API for testing.
// It answers POST /emails and replays the original message ID for a repeated Idempotency-Key.
type MockProvider struct {
	server *httptest.Server
	mu     sync.RWMutex

	// scripted responses keyed by recipient, consumed in order
	scripts map[string][]MockProviderResponse
	seen    map[string]string

	// Tracking
	RequestCount int
	Delivered    []MockEmail
	LastHeader   http.Header
}

// NewMockProvider creates a new mock provider server.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		scripts: make(map[string][]MockProviderResponse),
		seen:    make(map[string]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// Reset clears tracking state and scripts.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Delivered = nil
	m.LastHeader = nil
	m.scripts = make(map[string][]MockProviderResponse)
	m.seen = make(map[string]string)
}

// Script queues responses for a recipient. Each request to that recipient consumes one;
// once the queue is empty the default success behavior applies.
func (m *MockProvider) Script(recipient string, responses ...MockProviderResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipient = strings.ToLower(recipient)
	m.scripts[recipient] = append(m.scripts[recipient], responses...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockProvider) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastHeader returns the headers of the most recent request.
func (m *MockProvider) GetLastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastHeader.Clone()
}

// DeliveredTo returns how many distinct messages were accepted for a recipient.
func (m *MockProvider) DeliveredTo(recipient string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.Delivered {
		for _, to := range e.To {
			if strings.EqualFold(to, recipient) {
				n++
			}
		}
	}
	return n
}

// GetDelivered returns a copy of the accepted messages.
func (m *MockProvider) GetDelivered() []MockEmail {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockEmail, len(m.Delivered))
	copy(out, m.Delivered)
	return out
}

func (m *MockProvider) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.LastHeader = r.Header.Clone()
	m.mu.Unlock()

	if r.Method != http.MethodPost || r.URL.Path != "/emails" {
		writeJSON(w, http.StatusNotFound, `{"name":"not_found","message":"unknown route"}`)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, `{"name":"missing_api_key","message":"missing API key"}`)
		return
	}

	var email MockEmail
	if err := json.NewDecoder(r.Body).Decode(&email); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, `{"name":"validation_error","message":"invalid json"}`)
		return
	}
	email.IdempotencyKey = r.Header.Get("Idempotency-Key")

	if len(email.To) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, `{"name":"validation_error","message":"missing to"}`)
		return
	}
	recipient := strings.ToLower(email.To[0])

	m.mu.Lock()
	var scripted *MockProviderResponse
	if queue := m.scripts[recipient]; len(queue) > 0 {
		scripted = &queue[0]
		m.scripts[recipient] = queue[1:]
	}
	m.mu.Unlock()

	if scripted != nil {
		if scripted.Delay > 0 {
			time.Sleep(scripted.Delay)
		}
		for key, value := range scripted.Headers {
			w.Header().Set(key, value)
		}
		if scripted.StatusCode >= 400 {
			writeJSON(w, scripted.StatusCode, scripted.Body)
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if email.IdempotencyKey != "" {
		if id, ok := m.seen[email.IdempotencyKey]; ok {
			writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":%q}`, id))
			return
		}
	}

	id := fmt.Sprintf("msg_%d", len(m.Delivered)+1)
	m.Delivered = append(m.Delivered, email)
	if email.IdempotencyKey != "" {
		m.seen[email.IdempotencyKey] = id
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":%q}`, id))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with Retry-After.
func NewRateLimitResponse(retryAfter int) MockProviderResponse {
	return MockProviderResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"name":"rate_limit_exceeded","message":"Too many requests"}`,
		Headers: map[string]string{
			"Retry-After": fmt.Sprintf("%d", retryAfter),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockProviderResponse {
	return MockProviderResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"name":"internal_server_error","message":"Internal server error"}`,
	}
}

// NewRejectedResponse creates a 422 response for a malformed recipient.
func NewRejectedResponse(message string) MockProviderResponse {
	return MockProviderResponse{
		StatusCode: http.StatusUnprocessableEntity,
		Body:       fmt.Sprintf(`{"name":"validation_error","message":%q}`, message),
	}
}
