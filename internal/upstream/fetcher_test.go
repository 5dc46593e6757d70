package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	scribe "github.com/SOLUCIONESSYCOM/scribe"
)

func TestFetchJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RequestURI() != "/users?page=2" {
			t.Errorf("unexpected request URI %q", r.URL.RequestURI())
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"id": 12}`))
	}))
	defer ts.Close()

	f := New(ts.URL, 0, &scribe.Scribe{})
	res, err := f.Fetch(context.Background(), http.MethodGet, "/users?page=2", false)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if !res.IsJSON {
		t.Fatal("expected a JSON result")
	}
	want := map[string]any{"id": float64(12)}
	if !reflect.DeepEqual(res.JSON, want) {
		t.Errorf("Fetch() decoded %v, want %v", res.JSON, want)
	}
}

func TestFetchJSONPKeepsBodyVerbatim(t *testing.T) {
	body := `cb({"id":12});`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Write([]byte(body))
	}))
	defer ts.Close()

	f := New(ts.URL, 0, &scribe.Scribe{})
	res, err := f.Fetch(context.Background(), http.MethodGet, "/users?callback=cb", true)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if res.IsJSON {
		t.Error("JSONP responses must not be decoded as JSON")
	}
	if string(res.Text) != body {
		t.Errorf("Fetch() text = %q, want %q", res.Text, body)
	}
}

func TestFetchText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<h1>hi</h1>"))
	}))
	defer ts.Close()

	f := New(ts.URL, 0, &scribe.Scribe{})
	res, err := f.Fetch(context.Background(), http.MethodGet, "/page", false)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if res.IsJSON || string(res.Text) != "<h1>hi</h1>" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
	}{
		{
			name:        "non-success status",
			status:      http.StatusNotFound,
			contentType: "application/json",
			body:        `{}`,
		},
		{
			name:        "unrecognized content type",
			status:      http.StatusOK,
			contentType: "application/octet-stream",
			body:        "binary",
		},
		{
			name:        "corrupt JSON body",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"id":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			f := New(ts.URL, 0, &scribe.Scribe{})
			if _, err := f.Fetch(context.Background(), http.MethodGet, "/x", false); err == nil {
				t.Error("expected Fetch() to fail")
			}
		})
	}
}

func TestFetchRejectsNonGET(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	f := New(ts.URL, 0, &scribe.Scribe{})
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		if _, err := f.Fetch(context.Background(), method, "/users", false); err == nil {
			t.Errorf("expected Fetch() to reject %s", method)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("non-GET fetches reached the upstream %d times", n)
	}
}
