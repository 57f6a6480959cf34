// Package hdg reads single metric values from an HDG boiler controller's
// ApiManager endpoint.
package hdg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout = 5 * time.Second
	refreshPath    = "/ApiManager.php?action=dataRefresh"
	maxBodyBytes   = 1 << 20
)

type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindStatus    Kind = "status"
	KindDecode    Kind = "decode"
	KindShape     Kind = "shape"
)

// FetchError describes why a single (address, metric) request produced no
// value. Callers branch on Kind.
type FetchError struct {
	Kind     Kind
	Address  string
	MetricID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s from %s: %s: %v", e.MetricID, e.Address, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" when err is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

type Client struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{HTTPClient: &http.Client{Timeout: timeout}, Timeout: timeout}
}

type refreshEntry struct {
	Text json.RawMessage `json:"text"`
}

// Fetch requests metricID from the controller at address and returns the
// first entry's text value.
func (c *Client) Fetch(ctx context.Context, address, metricID string) (string, error) {
	fail := func(kind Kind, err error) (string, error) {
		return "", &FetchError{Kind: kind, Address: address, MetricID: metricID, Err: err}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	endpoint, err := refreshURL(address)
	if err != nil {
		return fail(KindTransport, err)
	}
	form := url.Values{"nodes": {metricID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fail(KindTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if isTimeout(err) {
			return fail(KindTimeout, err)
		}
		return fail(KindTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fail(KindStatus, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return fail(KindTimeout, err)
		}
		return fail(KindTransport, err)
	}
	var entries []refreshEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || len(strings.TrimSpace(string(body))) == 0 {
			return fail(KindDecode, err)
		}
		return fail(KindShape, err)
	}
	if len(entries) == 0 {
		return fail(KindShape, errors.New("empty response"))
	}
	value, err := textValue(entries[0].Text)
	if err != nil {
		return fail(KindShape, err)
	}
	return value, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func refreshURL(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("address required")
	}
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid address %q", address)
	}
	return strings.TrimRight(base, "/") + refreshPath, nil
}

func textValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("missing text field")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lit any
	if err := json.Unmarshal(raw, &lit); err != nil {
		return "", err
	}
	switch lit.(type) {
	case float64, bool:
		return string(raw), nil
	default:
		return "", fmt.Errorf("text field is not a scalar: %s", raw)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
