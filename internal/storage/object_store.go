package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"hdgwatch/internal/supabase"
)

var ErrObjectStoreDisabled = errors.New("object store disabled")
var ErrInvalidObjectKey = errors.New("invalid object key")

// ErrObjectExists is returned when the destination already holds an object.
// Uploads never overwrite, so the caller must not retry the same key.
var ErrObjectExists = errors.New("object already exists")

const (
	ContentTypeJPEG = "image/jpeg"
	cacheControl    = "max-age=3600"
)

// ObjectStore uploads objects to a Supabase Storage bucket.
type ObjectStore struct {
	Endpoint    string
	Bucket      string
	APIKey      string
	ContentType string
	HTTPClient  *http.Client
}

func (o ObjectStore) Enabled() bool {
	return strings.TrimSpace(o.Bucket) != "" && strings.TrimSpace(o.Endpoint) != ""
}

// Put uploads data under key and returns the bucket-qualified object path.
func (o ObjectStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	objectURL, objectPath, err := o.objectURL(key)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, objectURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	supabase.Authorize(req, o.APIKey)
	contentType := o.ContentType
	if contentType == "" {
		contentType = ContentTypeJPEG
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", cacheControl)
	req.Header.Set("x-upsert", "false")

	client := o.HTTPClient
	if client == nil {
		client = supabase.NewHTTPClient(0)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return objectPath, nil
	}
	apiErr := supabase.ReadError(resp)
	if isDuplicate(apiErr) {
		return "", fmt.Errorf("%w: %s: %v", ErrObjectExists, objectPath, apiErr)
	}
	return "", apiErr
}

func isDuplicate(err *supabase.APIError) bool {
	if err.Status == http.StatusConflict || err.Code == "409" {
		return true
	}
	return strings.Contains(err.Message, "Duplicate")
}

func (o ObjectStore) objectURL(key string) (string, string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", "", ErrInvalidObjectKey
	}
	if !o.Enabled() {
		return "", "", ErrObjectStoreDisabled
	}
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", ErrInvalidObjectKey
	}
	segments := strings.Split(trimmed, "/")
	for i, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			return "", "", ErrInvalidObjectKey
		}
		segments[i] = url.PathEscape(seg)
	}
	base := strings.TrimRight(o.Endpoint, "/")
	objectURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", base, url.PathEscape(o.Bucket), strings.Join(segments, "/"))
	return objectURL, o.Bucket + "/" + trimmed, nil
}
