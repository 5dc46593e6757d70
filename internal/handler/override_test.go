package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestOverrideFixedResponse(t *testing.T) {
	s := newTestServer(t, true, nil)

	err := s.dispatcher.Register(s.engine, "get", []Override{{
		Route:    "/teapot",
		Response: `{"short":"stout"}`,
		Status:   http.StatusTeapot,
		Headers:  map[string]string{"X-Kettle": "on"},
	}})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	w := s.request("GET", "/teapot", "")
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
	if w.Body.String() != `{"short":"stout"}` {
		t.Errorf("body = %q", w.Body.String())
	}
	if got := w.Header().Get("X-Kettle"); got != "on" {
		t.Errorf("X-Kettle = %q, want on", got)
	}
	if n := s.hits.Load(); n != 0 {
		t.Errorf("upstream was called %d times, want 0", n)
	}
}

func TestOverrideQueryPredicate(t *testing.T) {
	s := newTestServer(t, true, nil)

	err := s.dispatcher.Register(s.engine, "get", []Override{{
		Route:           "/flagged",
		Response:        `{"flag":"set"}`,
		WithQueryParams: map[string]string{"a": "1"},
	}})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	// Matching predicate serves the override.
	w := s.request("GET", "/flagged?a=1", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"flag":"set"}` {
		t.Errorf("predicate match gave %d %q", w.Code, w.Body.String())
	}
	if n := s.hits.Load(); n != 0 {
		t.Errorf("upstream was called %d times before fallthrough, want 0", n)
	}

	// Mismatch falls through to the default pipeline, which fetches live.
	w = s.request("GET", "/flagged?a=2", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"live":true}` {
		t.Errorf("fallthrough gave %d %q, want the live response", w.Code, w.Body.String())
	}
	if n := s.hits.Load(); n != 1 {
		t.Errorf("upstream was called %d times after fallthrough, want 1", n)
	}
}

func TestOverrideChainsInDeclarationOrder(t *testing.T) {
	s := newTestServer(t, true, nil)

	err := s.dispatcher.Register(s.engine, "get", []Override{
		{
			Route:           "/variant",
			Response:        `{"variant":"a"}`,
			WithQueryParams: map[string]string{"v": "a"},
		},
		{
			Route:           "/variant",
			Response:        `{"variant":"b"}`,
			WithQueryParams: map[string]string{"v": "b"},
		},
	})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	tests := []struct {
		target   string
		expected string
	}{
		{"/variant?v=a", `{"variant":"a"}`},
		{"/variant?v=b", `{"variant":"b"}`},
	}
	for _, tt := range tests {
		w := s.request("GET", tt.target, "")
		if w.Body.String() != tt.expected {
			t.Errorf("%s gave %q, want %q", tt.target, w.Body.String(), tt.expected)
		}
	}
}

func TestOverrideBackingFixture(t *testing.T) {
	t.Run("fixture present", func(t *testing.T) {
		s := newTestServer(t, true, nil)
		s.writeFixture(t, "profile.json", `{"name":"ada"}`)

		err := s.dispatcher.Register(s.engine, "get", []Override{{Route: "/profile"}})
		if err != nil {
			t.Fatalf("Register() failed: %v", err)
		}

		w := s.request("GET", "/profile", "")
		if w.Code != http.StatusOK || w.Body.String() != `{"name":"ada"}` {
			t.Errorf("got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("fixture missing is fatal", func(t *testing.T) {
		s := newTestServer(t, true, nil)
		err := s.dispatcher.Register(s.engine, "get", []Override{{Route: "/ghost"}})
		if err == nil {
			t.Error("expected registration to fail without a backing fixture")
		}
	})
}

func TestOverrideInvalidMethod(t *testing.T) {
	s := newTestServer(t, true, nil)

	for _, method := range []string{"patch", "GET", "fetch", ""} {
		err := s.dispatcher.Register(s.engine, method, []Override{{
			Route:    "/x",
			Response: `{}`,
		}})
		if err == nil {
			t.Errorf("expected method %q to be rejected", method)
		}
	}
}

func TestOverrideAllInstallsEveryMethod(t *testing.T) {
	s := newTestServer(t, true, nil)

	err := s.dispatcher.Register(s.engine, "all", []Override{{
		Route:    "/everything",
		Response: `{"any":"method"}`,
	}})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
		w := s.request(method, "/everything", "")
		if w.Code != http.StatusOK || w.Body.String() != `{"any":"method"}` {
			t.Errorf("%s gave %d %q", method, w.Code, w.Body.String())
		}
	}
}

func TestOverrideMergeParams(t *testing.T) {
	s := newTestServer(t, true, nil)

	err := s.dispatcher.Register(s.engine, "post", []Override{{
		Route:    "/account",
		Response: `{"balance":100}`,
		Merge: func(response, body map[string]any) map[string]any {
			for key, value := range body {
				response[key] = value
			}
			return response
		},
	}})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	w := s.request("POST", "/account", `{"owner":"ada"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("merged response is not JSON: %v", err)
	}
	want := map[string]any{"balance": float64(100), "owner": "ada"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("merged response = %v, want %v", got, want)
	}

	// The declared response must not accumulate earlier merges.
	w = s.request("POST", "/account", "")
	got = nil
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("second response is not JSON: %v", err)
	}
	if _, leaked := got["owner"]; leaked {
		t.Errorf("merge mutated the declared response: %v", got)
	}
}

func TestOverridePersistsDeclaredResponse(t *testing.T) {
	s := newTestServer(t, true, nil)

	err := s.dispatcher.Register(s.engine, "get", []Override{{
		Route:    "/saved",
		Response: `{"kept":true}`,
	}})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.store.Root(), "saved.json"))
	if err != nil {
		t.Fatalf("declared response was not persisted: %v", err)
	}
	if string(data) != `{"kept":true}` {
		t.Errorf("persisted %q", data)
	}
}

func TestOverrideSchemaValidation(t *testing.T) {
	s := newTestServer(t, true, nil)

	err := s.dispatcher.Register(s.engine, "post", []Override{{
		Route:    "/signup",
		Response: `{"created":true}`,
		Schema: `{
			"type": "object",
			"properties": {
				"name": { "type": "string" },
				"age": { "type": "integer", "minimum": 18 }
			},
			"required": ["name", "age"]
		}`,
	}})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{"valid request", `{"name":"ada","age":30}`, http.StatusOK},
		{"missing required field", `{"name":"ada"}`, http.StatusBadRequest},
		{"value below minimum", `{"name":"ada","age":17}`, http.StatusBadRequest},
		{"invalid JSON", `{"name":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.request("POST", "/signup", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
		})
	}
}

func TestOverrideInvalidSchemaIsFatal(t *testing.T) {
	s := newTestServer(t, true, nil)

	err := s.dispatcher.Register(s.engine, "post", []Override{{
		Route:    "/broken",
		Response: `{}`,
		Schema:   `{"type":`,
	}})
	if err == nil {
		t.Error("expected registration to fail on an uncompilable schema")
	}
}
