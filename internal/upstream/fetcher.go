// Package upstream fetches live responses from the production API that the
// stub stands in for. A fetch happens only on a fixture cache miss; its result
// is handed back to the caller for persistence and serving.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	scribe "github.com/SOLUCIONESSYCOM/scribe"
)

// jsonContentType matches content types that carry a JSON document, including
// the application/javascript responses some APIs use for JSONP payloads.
var jsonContentType = regexp.MustCompile(`(?i)json|javascript`)

// Result is a classified upstream response body.
type Result struct {
	// JSON holds the decoded document when IsJSON is true.
	JSON any
	// Text holds the verbatim body for JSONP and text responses.
	Text []byte
	// IsJSON reports whether the body was decoded as JSON.
	IsJSON bool
}

// Fetcher issues single-shot GET requests against a production root URL.
type Fetcher struct {
	base   string
	client *http.Client
	logger *scribe.Scribe
}

// New creates a fetcher for the given production root, e.g.
// "https://api.example.com". A zero timeout means no client timeout.
func New(prodRoot string, timeout time.Duration, logger *scribe.Scribe) *Fetcher {
	client := &http.Client{}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &Fetcher{
		base:   strings.TrimSuffix(prodRoot, "/"),
		client: client,
		logger: logger,
	}
}

// Fetch retrieves pathAndQuery from the production root. Only GET requests
// are forwarded; anything else fails before touching the network. The request
// is attempted exactly once, with no retries, so a flaky upstream surfaces as
// an error instead of a silently stale fixture.
func (f *Fetcher) Fetch(ctx context.Context, method, pathAndQuery string, jsonp bool) (*Result, error) {
	if !strings.EqualFold(method, http.MethodGet) {
		return nil, fmt.Errorf("refusing to fetch %s %s: only GET requests are forwarded upstream", method, pathAndQuery)
	}

	url := f.base + pathAndQuery

	f.logger.DebugCtx(ctx).
		Str("url", url).
		Msg("Fetching live response from production")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating upstream request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.ErrorCtx(ctx).
			Str("url", url).
			AnErr("error", err).
			Msg("Error fetching live response")
		return nil, fmt.Errorf("error fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		f.logger.ErrorCtx(ctx).
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Msg("Production responded with a non-success status")
		return nil, fmt.Errorf("production responded %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading upstream body for %s: %w", url, err)
	}

	result, err := classify(resp.Header.Get("Content-Type"), body, jsonp)
	if err != nil {
		f.logger.ErrorCtx(ctx).
			Str("url", url).
			Str("content_type", resp.Header.Get("Content-Type")).
			AnErr("error", err).
			Msg("Could not classify upstream response")
		return nil, fmt.Errorf("error classifying response from %s: %w", url, err)
	}

	f.logger.InfoCtx(ctx).
		Str("url", url).
		Int("status_code", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Fetched live response from production")

	return result, nil
}

// classify decides how a body is represented. JSON-like content types decode
// into a document, except under JSONP where the callback wrapper makes the
// body plain text. Text types pass through verbatim. Anything else is an
// error so an unexpected upstream format never lands in the fixture cache.
func classify(contentType string, body []byte, jsonp bool) (*Result, error) {
	switch {
	case jsonContentType.MatchString(contentType) && !jsonp:
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("error decoding JSON body: %w", err)
		}
		return &Result{JSON: doc, IsJSON: true}, nil
	case jsonp || strings.HasPrefix(contentType, "text/"):
		return &Result{Text: body}, nil
	default:
		return nil, fmt.Errorf("unrecognized content type %q", contentType)
	}
}
