package readings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"hdgwatch/internal/supabase"
)

var ErrEmptyResponse = errors.New("insert returned no rows")

// PostgRESTSink inserts rows through the Supabase REST API.
type PostgRESTSink struct {
	BaseURL    string
	APIKey     string
	Table      string
	HTTPClient *http.Client
}

func (s *PostgRESTSink) Save(ctx context.Context, r Reading) error {
	if strings.TrimSpace(s.BaseURL) == "" || strings.TrimSpace(s.Table) == "" {
		return errors.New("postgrest sink: base url and table required")
	}
	body, err := json.Marshal(r.Row())
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/rest/v1/" + url.PathEscape(s.Table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	supabase.Authorize(req, s.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	client := s.HTTPClient
	if client == nil {
		client = supabase.NewHTTPClient(0)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", s.Table, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return supabase.ReadError(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read insert response: %w", err)
	}
	var inserted []json.RawMessage
	if err := json.Unmarshal(raw, &inserted); err != nil || len(inserted) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyResponse, strings.TrimSpace(string(raw)))
	}
	return nil
}
