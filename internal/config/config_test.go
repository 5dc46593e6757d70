package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, data string) string {
	t.Helper()
	file := filepath.Join(dir, name)
	if err := os.WriteFile(file, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config file %s: %v", name, err)
	}
	return file
}

func TestLoad(t *testing.T) {
	configData := `prod_root_url: https://api.example.com
fixtures_path: /var/lib/highwind/fixtures
ports:
  - 4567
  - 4568
cors_whitelist:
  - http://localhost:3000
query_string_ignore:
  - 'api_key=\w+'
  - '&?_=\d+'
encoding: utf8
quiet: true
save_fixtures: false
latency: 250
overrides:
  get:
    - route: /api/session
      response: '{"user":"stub"}'
      status: 201
      headers:
        X-Stub: "1"
      with_query_params:
        variant: "a"
  post:
    - route: /api/echo
      response: '{"echo": true}'
      schema: |
        {
          "type": "object",
          "properties": {
            "message": { "type": "string" }
          },
          "required": ["message"]
        }
`
	file := writeConfig(t, t.TempDir(), "stub.yaml", configData)

	settings, err := Load(file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if settings.ProdRootURL != "https://api.example.com" {
		t.Errorf("ProdRootURL = %q", settings.ProdRootURL)
	}
	if settings.FixturesPath != "/var/lib/highwind/fixtures" {
		t.Errorf("FixturesPath = %q", settings.FixturesPath)
	}
	if len(settings.Ports) != 2 || settings.Ports[0] != 4567 || settings.Ports[1] != 4568 {
		t.Errorf("Ports = %v", settings.Ports)
	}
	if len(settings.CORSWhitelist) != 1 || settings.CORSWhitelist[0] != "http://localhost:3000" {
		t.Errorf("CORSWhitelist = %v", settings.CORSWhitelist)
	}
	if len(settings.QueryStringIgnore) != 2 {
		t.Errorf("QueryStringIgnore = %v", settings.QueryStringIgnore)
	}
	if !settings.Quiet {
		t.Error("Quiet should be true")
	}
	if settings.SaveFixtures == nil || *settings.SaveFixtures {
		t.Error("SaveFixtures should be an explicit false")
	}
	if settings.Latency != 250 {
		t.Errorf("Latency = %d", settings.Latency)
	}

	gets := settings.Overrides["get"]
	if len(gets) != 1 {
		t.Fatalf("Expected 1 get override, got %d", len(gets))
	}
	if gets[0].Route != "/api/session" {
		t.Errorf("Route = %q", gets[0].Route)
	}
	if gets[0].Status != 201 {
		t.Errorf("Status = %d", gets[0].Status)
	}
	if gets[0].Headers["X-Stub"] != "1" {
		t.Errorf("Headers = %v", gets[0].Headers)
	}
	if gets[0].WithQueryParams["variant"] != "a" {
		t.Errorf("WithQueryParams = %v", gets[0].WithQueryParams)
	}

	posts := settings.Overrides["post"]
	if len(posts) != 1 {
		t.Fatalf("Expected 1 post override, got %d", len(posts))
	}
	if posts[0].Schema == "" {
		t.Error("Schema should not be empty")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing prod root", "fixtures_path: /var/fixtures\n"},
		{"relative fixtures path", "prod_root_url: https://api.example.com\nfixtures_path: fixtures\n"},
		{"broken yaml", "prod_root_url: [unclosed\n"},
		{"bad port", "prod_root_url: https://api.example.com\nfixtures_path: /var/fixtures\nports: [-1]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := writeConfig(t, t.TempDir(), "bad.yaml", tt.data)
			if _, err := Load(file); err == nil {
				t.Error("expected Load to fail")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected Load to fail on a missing file")
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "one.yaml", "prod_root_url: https://one.example.com\nfixtures_path: /var/fixtures/one\nports: [4567]\n")
	writeConfig(t, dir, "two.yml", "prod_root_url: https://two.example.com\nfixtures_path: /var/fixtures/two\nports: [4568]\n")

	configs, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("Expected 2 configs, got %d", len(configs))
	}

	roots := make(map[string]bool)
	for _, c := range configs {
		roots[c.ProdRootURL] = true
	}
	if !roots["https://one.example.com"] || !roots["https://two.example.com"] {
		t.Errorf("Unexpected config set: %v", roots)
	}
}

func TestLoadFromDirEmpty(t *testing.T) {
	if _, err := LoadFromDir(t.TempDir()); err == nil {
		t.Error("expected LoadFromDir to fail on an empty directory")
	}
}

func TestDir(t *testing.T) {
	t.Setenv("CONFIG_DIR", "/etc/highwind")
	if got := Dir(); got != "/etc/highwind" {
		t.Errorf("Dir() = %q", got)
	}

	t.Setenv("CONFIG_DIR", "")
	if got := Dir(); got != "./config" {
		t.Errorf("Dir() = %q, want ./config", got)
	}
}
