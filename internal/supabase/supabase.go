// Package supabase holds the request plumbing shared by the PostgREST and
// Storage clients: auth headers and API error decoding.
package supabase

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const DefaultTimeout = 15 * time.Second

// maxErrorBody bounds how much of an error response is kept for logging.
const maxErrorBody = 4 << 10

// APIError is a non-2xx answer from either REST surface.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "supabase: status %d", e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " code %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Details != "" {
		fmt.Fprintf(&b, " (details: %s)", e.Details)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, " (hint: %s)", e.Hint)
	}
	return b.String()
}

// Authorize sets the headers every Supabase endpoint expects.
func Authorize(req *http.Request, key string) {
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
}

// NewHTTPClient returns a client with a bounded request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// errorBody covers both PostgREST ({code,message,details,hint}) and Storage
// ({statusCode,error,message}) error payloads.
type errorBody struct {
	Code       json.RawMessage `json:"code"`
	StatusCode json.RawMessage `json:"statusCode"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details"`
	Hint       string          `json:"hint"`
}

// ReadError drains resp.Body into an APIError.
func ReadError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}
	apiErr.Code = rawString(body.Code)
	if apiErr.Code == "" {
		apiErr.Code = rawString(body.StatusCode)
	}
	apiErr.Message = body.Message
	if body.Error != "" {
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		} else {
			apiErr.Message = body.Error + ": " + apiErr.Message
		}
	}
	apiErr.Details = rawString(body.Details)
	apiErr.Hint = body.Hint
	return apiErr
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.Atoi(n.String()); err == nil {
			return strconv.Itoa(i)
		}
		return n.String()
	}
	return string(raw)
}
