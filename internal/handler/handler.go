// Package handler contains the request-resolution pipeline and the override
// dispatcher. Every request either matches a registered override or falls
// through to the pipeline, which serves a cached fixture when one exists and
// otherwise fetches the live response, persists it, and serves it.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/SOLUCIONESSYCOM/scribe"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/refinery29/highwind/internal/fixture"
	"github.com/refinery29/highwind/internal/journal"
	"github.com/refinery29/highwind/internal/metrics"
	"github.com/refinery29/highwind/internal/upstream"
)

const (
	contentTypeJavaScript = "application/javascript"
	contentTypeHTML       = "text/html; charset=utf-8"
)

// Handler resolves requests that no override claimed.
type Handler struct {
	store   *fixture.Store
	fetcher *upstream.Fetcher
	logger  *scribe.Scribe
	journal *journal.Journal
	save    bool
}

// New creates the pipeline handler. j may be nil when journaling is disabled;
// save controls persistence of live fetches.
func New(store *fixture.Store, fetcher *upstream.Fetcher, logger *scribe.Scribe, j *journal.Journal, save bool) *Handler {
	return &Handler{
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		journal: j,
		save:    save,
	}
}

// Resolve is the catch-all entry point: fixture lookup first, live fetch on a
// miss. Installed as the router's no-route handler so declared overrides
// always get first refusal.
func (h *Handler) Resolve(c *gin.Context) {
	start := time.Now()
	requestPath := c.Request.URL.Path
	requestMethod := c.Request.Method

	metrics.ActiveRequests.WithLabelValues(requestMethod, requestPath).Inc()
	defer metrics.ActiveRequests.WithLabelValues(requestMethod, requestPath).Dec()

	ctx := scribe.WithCtx(c.Request.Context())
	logCtx := scribe.GetLogContext(ctx)
	logCtx.Set("request_trace_id", uuid.New().String())
	c.Request = c.Request.WithContext(ctx)

	rawQuery := c.Request.URL.RawQuery
	name := h.store.Name(requestPath, rawQuery)
	jsonp := fixture.HasCallback(name)

	h.logger.DebugCtx(ctx).
		Str("method", requestMethod).
		Str("path", requestPath).
		Str("identifier", name).
		Str("ip", c.ClientIP()).
		Msg("Resolving request")

	var source string
	if format := h.store.Probe(requestPath, rawQuery); format != fixture.FormatNone {
		h.serveCached(c, format, jsonp)
		source = metrics.SourceCached
	} else {
		source = h.fetchAndServe(c, jsonp)
	}

	h.finish(c, start, requestPath, name, source)
}

// serveCached reads the fixture in the format the probe found and renders it.
// Local data errors degrade to an empty body instead of failing the request.
func (h *Handler) serveCached(c *gin.Context, format fixture.Format, jsonp bool) {
	ctx := c.Request.Context()
	path := c.Request.URL.Path
	rawQuery := c.Request.URL.RawQuery

	switch {
	case jsonp:
		content, err := h.store.ReadRaw(path, rawQuery, format)
		if err != nil {
			h.logger.ErrorCtx(ctx).
				Str("path", path).
				AnErr("error", err).
				Msg("Error reading callback fixture")
		}
		c.Data(http.StatusOK, contentTypeJavaScript, content)

	case format == fixture.FormatJSON:
		c.JSON(http.StatusOK, h.store.ReadJSON(path, rawQuery))

	case format == fixture.FormatTemplate:
		c.JSON(http.StatusOK, h.evaluateTemplate(c))

	default:
		content, err := h.store.ReadRaw(path, rawQuery, format)
		if err != nil {
			h.logger.ErrorCtx(ctx).
				Str("path", path).
				AnErr("error", err).
				Msg("Error reading text fixture")
		}
		c.Data(http.StatusOK, contentTypeHTML, content)
	}

	h.logger.InfoCtx(ctx).
		Str("path", path).
		Str("format", format.String()).
		Msg("Served cached fixture")
}

// evaluateTemplate runs the template fixture and decodes its output. Template
// fixtures always answer as JSON; a broken template or non-JSON output is
// treated like a corrupt cached document and degrades to an empty object.
func (h *Handler) evaluateTemplate(c *gin.Context) any {
	ctx := c.Request.Context()
	path := c.Request.URL.Path

	query := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	out, err := h.store.Evaluate(path, c.Request.URL.RawQuery, fixture.TemplateData{
		Path:  path,
		Query: query,
	})
	if err != nil {
		h.logger.ErrorCtx(ctx).
			Str("path", path).
			AnErr("error", err).
			Msg("Error evaluating template fixture")
		metrics.ErrorsTotal.WithLabelValues(path, c.Request.Method, "template_error").Inc()
		return map[string]any{}
	}

	doc, err := fixture.DecodeJSON(out)
	if err != nil {
		h.logger.ErrorCtx(ctx).
			Str("path", path).
			AnErr("error", err).
			Msg("Template fixture did not produce JSON")
		metrics.ErrorsTotal.WithLabelValues(path, c.Request.Method, "template_error").Inc()
		return map[string]any{}
	}
	return doc
}

// fetchAndServe asks production for the response, persists it when enabled,
// and renders it the same way a cached fixture would be rendered. Any failure
// answers the client with an empty server error.
func (h *Handler) fetchAndServe(c *gin.Context, jsonp bool) string {
	ctx := c.Request.Context()
	path := c.Request.URL.Path
	rawQuery := c.Request.URL.RawQuery

	res, err := h.fetcher.Fetch(ctx, c.Request.Method, pathAndQuery(path, rawQuery), jsonp)
	if err != nil {
		metrics.UpstreamFetchesTotal.WithLabelValues("error").Inc()
		metrics.ErrorsTotal.WithLabelValues(path, c.Request.Method, "upstream_fetch_failed").Inc()
		h.logger.ErrorCtx(ctx).
			Str("method", c.Request.Method).
			Str("path", path).
			AnErr("error", err).
			Msg("Error resolving request against production")
		c.Status(http.StatusInternalServerError)
		return metrics.SourceError
	}
	metrics.UpstreamFetchesTotal.WithLabelValues("success").Inc()

	if h.save {
		h.persist(c, res)
	}

	switch {
	case jsonp:
		c.Data(http.StatusOK, contentTypeJavaScript, res.Text)
	case res.IsJSON:
		c.JSON(http.StatusOK, res.JSON)
	default:
		c.Data(http.StatusOK, contentTypeHTML, res.Text)
	}
	return metrics.SourceFetched
}

// persist writes the fetched response as a fixture. Failures are logged and
// the in-flight response is served anyway.
func (h *Handler) persist(c *gin.Context, res *upstream.Result) {
	ctx := c.Request.Context()
	path := c.Request.URL.Path
	rawQuery := c.Request.URL.RawQuery

	var err error
	format := fixture.FormatHTML
	if res.IsJSON {
		format = fixture.FormatJSON
		err = h.store.WriteJSON(path, rawQuery, res.JSON)
	} else {
		err = h.store.WriteText(path, rawQuery, res.Text)
		if fixture.HasCallback(h.store.Name(path, rawQuery)) {
			format = fixture.FormatJSON
		}
	}
	if err != nil {
		h.logger.ErrorCtx(ctx).
			Str("path", path).
			AnErr("error", err).
			Msg("Error persisting fetched fixture")
		return
	}
	metrics.FixtureWritesTotal.WithLabelValues(format.Ext()).Inc()
}

// finish records metrics and the journal row for a terminated request.
func (h *Handler) finish(c *gin.Context, start time.Time, requestPath, name, source string) {
	status := c.Writer.Status()
	code := strconv.Itoa(status)
	method := c.Request.Method

	metrics.RequestsTotal.WithLabelValues(requestPath, method, code, source).Inc()
	metrics.RequestDuration.WithLabelValues(requestPath, method, code).Observe(time.Since(start).Seconds())

	if h.journal == nil {
		return
	}
	h.journal.Add(&journal.Record{
		UUID:       uuid.New().String(),
		Method:     method,
		Path:       requestPath,
		Identifier: name,
		Source:     source,
		StatusCode: status,
		LatencyMS:  time.Since(start).Milliseconds(),
		ServedAt:   time.Now(),
	})
}

func pathAndQuery(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}
