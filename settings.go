package highwind

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// DefaultPort is the port served when the configuration names none.
const DefaultPort = 4567

// MergeFunc folds a parsed request body into an override's declared response.
// The declared response is re-parsed per request, so the function always sees
// a fresh copy and may mutate it freely.
type MergeFunc func(response, body map[string]any) map[string]any

// Override pins a route to a declared response instead of the fixture/fetch
// pipeline. Overrides are grouped under a method name (get, post, put, delete
// or all) in Settings and are immutable once the server has started.
type Override struct {
	// Route is the request path the override answers, e.g. "/api/session".
	Route string `yaml:"route"`

	// Response is the body to serve: a string, raw bytes, or any value that
	// marshals to JSON. When empty, a previously captured JSON fixture for the
	// route must already exist on disk; registration fails otherwise.
	Response any `yaml:"response"`

	// Status defaults to 200.
	Status int `yaml:"status"`

	// Headers overlay the default Content-Type: application/json.
	Headers map[string]string `yaml:"headers"`

	// WithQueryParams makes the override conditional: every listed parameter
	// must be present with exactly the given value, otherwise the request
	// falls through to later overrides and then the pipeline.
	WithQueryParams map[string]string `yaml:"with_query_params"`

	// Schema optionally validates the request body (JSON Schema source);
	// violations answer 400 without touching the declared response.
	Schema string `yaml:"schema"`

	// MergeParams combines the parsed request body into the response before
	// serving. Only reachable through the Go API.
	MergeParams MergeFunc `yaml:"-"`
}

// Settings configures one Start call.
type Settings struct {
	// ProdRootURL is the base URL responses are fetched from on a cache miss.
	ProdRootURL string `yaml:"prod_root_url"`

	// FixturesPath is the absolute directory captured responses live in.
	FixturesPath string `yaml:"fixtures_path"`

	// CORSWhitelist lists origins allowed to call the stub cross-origin.
	// Empty means no CORS handling at all.
	CORSWhitelist []string `yaml:"cors_whitelist"`

	// Overrides maps a method name (get, post, put, delete, all) to the
	// overrides declared for it. Within one method, declaration order decides
	// which conditional override is consulted first.
	Overrides map[string][]Override `yaml:"overrides"`

	// QueryStringIgnore holds regular expressions deleted from the query
	// string before it becomes part of a fixture identifier. Each pattern is
	// applied once, in order.
	QueryStringIgnore []string `yaml:"query_string_ignore"`

	// Ports lists every port the stub serves on. Defaults to [4567].
	Ports []int `yaml:"ports"`

	// Encoding names the character encoding of fixture files: "utf8"
	// (default), "ascii", or "latin1"/"iso-8859-1".
	Encoding string `yaml:"encoding"`

	// Quiet raises the log threshold to errors only.
	Quiet bool `yaml:"quiet"`

	// SaveFixtures controls whether fetched responses are persisted.
	// Unset means true.
	SaveFixtures *bool `yaml:"save_fixtures"`

	// Latency delays every response by a fixed number of milliseconds.
	Latency int `yaml:"latency"`

	// JournalPath enables the served-request journal: a SQLite file path, or
	// a postgres:// DSN. Empty disables journaling.
	JournalPath string `yaml:"journal_path"`

	// MetricsPort serves Prometheus metrics on a separate port. 0 disables.
	MetricsPort int `yaml:"metrics_port"`

	// LogPath additionally writes rotated log files there. Empty means
	// console only.
	LogPath string `yaml:"log_path"`
}

// Validate checks the settings for the errors that must stop a Start before
// anything listens.
func (s *Settings) Validate() error {
	if s.ProdRootURL == "" {
		return fmt.Errorf("prod_root_url is required")
	}
	parsed, err := url.Parse(s.ProdRootURL)
	if err != nil {
		return fmt.Errorf("prod_root_url is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("prod_root_url must be an http or https URL, got %q", s.ProdRootURL)
	}

	if s.FixturesPath == "" {
		return fmt.Errorf("fixtures_path is required")
	}
	if !filepath.IsAbs(s.FixturesPath) {
		return fmt.Errorf("fixtures_path must be absolute, got %q", s.FixturesPath)
	}

	for i, port := range s.Ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("port %d has invalid value: %d", i, port)
		}
	}
	if s.MetricsPort < 0 || s.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port has invalid value: %d", s.MetricsPort)
	}
	for _, port := range s.Ports {
		if s.MetricsPort != 0 && port == s.MetricsPort {
			return fmt.Errorf("metrics_port %d collides with a serving port", s.MetricsPort)
		}
	}

	if s.Latency < 0 {
		return fmt.Errorf("latency must not be negative, got %d", s.Latency)
	}

	if _, err := s.fixtureEncoding(); err != nil {
		return err
	}
	if _, err := s.ignorePatterns(); err != nil {
		return err
	}

	for method, overrides := range s.Overrides {
		for i, o := range overrides {
			if o.Route == "" {
				return fmt.Errorf("override %d for method %q has empty route", i, method)
			}
			if o.Status < 0 {
				return fmt.Errorf("override %d for method %q has invalid status code: %d", i, method, o.Status)
			}
		}
	}

	return nil
}

// fixtureEncoding resolves the configured encoding name. UTF-8 and plain
// ASCII need no decoding and resolve to nil.
func (s *Settings) fixtureEncoding() (encoding.Encoding, error) {
	switch strings.ToLower(s.Encoding) {
	case "", "utf8", "utf-8", "ascii":
		return nil, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q: must be utf8, ascii or latin1", s.Encoding)
	}
}

// ignorePatterns compiles the query-string filters, in configuration order.
func (s *Settings) ignorePatterns() ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(s.QueryStringIgnore))
	for i, source := range s.QueryStringIgnore {
		re, err := regexp.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("query_string_ignore pattern %d is invalid: %w", i, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// ports returns the configured ports or the default.
func (s *Settings) ports() []int {
	if len(s.Ports) == 0 {
		return []int{DefaultPort}
	}
	return s.Ports
}

// save reports whether fetched responses and declared override responses get
// persisted as fixtures.
func (s *Settings) save() bool {
	return s.SaveFixtures == nil || *s.SaveFixtures
}
