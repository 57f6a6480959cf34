package hdg

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestFetchValue(t *testing.T) {
	var gotBody, gotType, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotType = r.Header.Get("Content-Type")
		gotPath = r.URL.RequestURI()
		_, _ = w.Write([]byte(`[{"text":"56.7","hidden":false}]`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	addr := strings.TrimPrefix(srv.URL, "http://")
	value, err := c.Fetch(context.Background(), addr, "1234")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if value != "56.7" {
		t.Fatalf("value: %q", value)
	}
	if gotPath != "/ApiManager.php?action=dataRefresh" {
		t.Fatalf("path: %q", gotPath)
	}
	if form, _ := url.ParseQuery(gotBody); form.Get("nodes") != "1234" {
		t.Fatalf("body: %q", gotBody)
	}
	if !strings.HasPrefix(gotType, "application/x-www-form-urlencoded") {
		t.Fatalf("content type: %q", gotType)
	}
}

func TestFetchNumericText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"text":71.5}]`))
	}))
	defer srv.Close()

	value, err := NewClient(time.Second).Fetch(context.Background(), srv.URL, "1")
	if err != nil || value != "71.5" {
		t.Fatalf("value: %q err: %v", value, err)
	}
}

func TestFetchFailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    Kind
	}{
		{"missing text", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"value":"1"}]`))
		}, KindShape},
		{"empty array", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}, KindShape},
		{"object body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"text":"1"}`))
		}, KindShape},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}, KindDecode},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, KindStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewClient(time.Second).Fetch(context.Background(), srv.URL, "1")
			if got := KindOf(err); got != tt.want {
				t.Fatalf("kind: %q want %q (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestFetchTimeoutDistinctFromShape(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)
	shape := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{}]`))
	}))
	defer shape.Close()

	c := NewClient(50 * time.Millisecond)
	_, timeoutErr := c.Fetch(context.Background(), slow.URL, "1")
	_, shapeErr := c.Fetch(context.Background(), shape.URL, "1")
	if KindOf(timeoutErr) != KindTimeout {
		t.Fatalf("timeout err: %v", timeoutErr)
	}
	if KindOf(shapeErr) != KindShape {
		t.Fatalf("shape err: %v", shapeErr)
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := NewClient(time.Second).Fetch(context.Background(), addr, "1")
	if KindOf(err) != KindTransport {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(err.Error(), "fetch 1 from") {
		t.Fatalf("message: %v", err)
	}
}

func TestRefreshURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
		ok   bool
	}{
		{"10.0.0.5", "http://10.0.0.5/ApiManager.php?action=dataRefresh", true},
		{"https://boiler.local/", "https://boiler.local/ApiManager.php?action=dataRefresh", true},
		{"", "", false},
		{"http://", "", false},
	}
	for _, tt := range tests {
		got, err := refreshURL(tt.addr)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("refreshURL(%q) = %q, %v", tt.addr, got, err)
		}
	}
}
