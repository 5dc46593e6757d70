package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/SOLUCIONESSYCOM/scribe"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/refinery29/highwind/internal/fixture"
	"github.com/refinery29/highwind/internal/metrics"
)

// MergeFunc folds a parsed request body into the override's declared response.
// It is applied to a fresh copy of the response on every request, so the
// declared response itself never mutates.
type MergeFunc func(response, body map[string]any) map[string]any

// Override describes one declared route override before registration.
type Override struct {
	Route           string
	Response        any
	Status          int
	Headers         map[string]string
	Merge           MergeFunc
	WithQueryParams map[string]string
	Schema          string
}

// entry is a compiled override installed on the router.
type entry struct {
	route   string
	status  int
	headers map[string]string
	body    []byte
	isJSON  bool
	merge   MergeFunc
	params  map[string]string
	schema  *jsonschema.Schema
}

// accepts reports whether every required query parameter carries its exact
// declared value. An entry without a predicate accepts unconditionally.
func (e *entry) accepts(c *gin.Context) bool {
	for param, want := range e.params {
		if c.Query(param) != want {
			return false
		}
	}
	return true
}

// Dispatcher owns the declared overrides and installs one router handler per
// method and route. Entries for the same method and route chain in declaration
// order; when none accepts a request, the default pipeline serves it instead.
type Dispatcher struct {
	pipeline *Handler
	store    *fixture.Store
	logger   *scribe.Scribe
	save     bool
	chains   map[string]map[string][]*entry
}

// NewDispatcher creates a dispatcher that falls through to pipeline.
func NewDispatcher(pipeline *Handler, store *fixture.Store, logger *scribe.Scribe, save bool) *Dispatcher {
	return &Dispatcher{
		pipeline: pipeline,
		store:    store,
		logger:   logger,
		save:     save,
		chains:   make(map[string]map[string][]*entry),
	}
}

// methodSets maps declared override method names onto the router methods they
// install. "all" covers every supported method.
var methodSets = map[string][]string{
	"get":    {http.MethodGet},
	"post":   {http.MethodPost},
	"put":    {http.MethodPut},
	"delete": {http.MethodDelete},
	"all":    {http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
}

// Register compiles and installs every override declared under one method
// name. An unknown method name, an entry without response and without a
// readable backing fixture, and a failed response persist are all fatal so
// the server never starts with a broken override.
func (d *Dispatcher) Register(router gin.IRouter, declaredMethod string, overrides []Override) error {
	methods, ok := methodSets[declaredMethod]
	if !ok {
		return fmt.Errorf("invalid override method %q: must be one of get, post, put, delete, all", declaredMethod)
	}

	for _, o := range overrides {
		e, err := d.compile(o)
		if err != nil {
			return err
		}
		for _, method := range methods {
			d.install(router, method, e)
		}
	}
	return nil
}

func (d *Dispatcher) install(router gin.IRouter, method string, e *entry) {
	byRoute, ok := d.chains[method]
	if !ok {
		byRoute = make(map[string][]*entry)
		d.chains[method] = byRoute
	}

	first := len(byRoute[e.route]) == 0
	byRoute[e.route] = append(byRoute[e.route], e)
	if first {
		router.Handle(method, e.route, d.dispatch(method, e.route))
	}

	d.logger.Info().
		Str("method", method).
		Str("route", e.route).
		Int("status_code", e.status).
		Msg("Registered override")
}

// compile validates one override and resolves its response bytes.
func (d *Dispatcher) compile(o Override) (*entry, error) {
	status := o.Status
	if status == 0 {
		status = http.StatusOK
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for key, value := range o.Headers {
		headers[key] = value
	}

	e := &entry{
		route:   o.Route,
		status:  status,
		headers: headers,
		isJSON:  jsonContentType(headers["Content-Type"]),
		merge:   o.Merge,
		params:  o.WithQueryParams,
	}

	if o.Schema != "" {
		schema, err := compileSchema(o.Schema)
		if err != nil {
			return nil, fmt.Errorf("error compiling schema for override %s: %w", o.Route, err)
		}
		e.schema = schema
	}

	if o.Response == nil {
		// No declared response: the backing JSON fixture must exist now,
		// because clients were promised this route never reaches production.
		file := d.store.Path(o.Route, "", fixture.FormatJSON)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("override for %s declares no response and has no backing fixture: %w", o.Route, err)
		}
		e.body = data
		return e, nil
	}

	body, err := normalizeResponse(o.Response)
	if err != nil {
		return nil, fmt.Errorf("override response for %s: %w", o.Route, err)
	}
	e.body = body

	if d.save {
		if err := d.store.Write(o.Route, "", e.body, e.isJSON); err != nil {
			return nil, fmt.Errorf("error persisting override response for %s: %w", o.Route, err)
		}
	}
	return e, nil
}

// jsonContentType reports whether an effective content type declares JSON,
// which is what decides merge eligibility.
func jsonContentType(ct string) bool {
	return strings.Contains(ct, "json")
}

func normalizeResponse(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("value is not serializable: %w", err)
		}
		return data, nil
	}
}

// dispatch walks the chain for one method and route. The first entry whose
// query predicate accepts the request serves it; with no acceptor the request
// falls through to the default pipeline.
func (d *Dispatcher) dispatch(method, route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, e := range d.chains[method][route] {
			if !e.accepts(c) {
				continue
			}
			d.serve(c, e)
			return
		}
		d.pipeline.Resolve(c)
	}
}

func (d *Dispatcher) serve(c *gin.Context, e *entry) {
	start := time.Now()
	method := c.Request.Method

	metrics.ActiveRequests.WithLabelValues(method, e.route).Inc()
	defer metrics.ActiveRequests.WithLabelValues(method, e.route).Dec()

	ctx := scribe.WithCtx(c.Request.Context())
	logCtx := scribe.GetLogContext(ctx)
	logCtx.Set("request_trace_id", uuid.New().String())
	c.Request = c.Request.WithContext(ctx)

	name := d.store.Name(c.Request.URL.Path, c.Request.URL.RawQuery)

	if e.schema != nil {
		if err := d.validateRequestBody(c, e.schema); err != nil {
			d.logger.ErrorCtx(ctx).
				Str("route", e.route).
				AnErr("validation_error", err).
				Msg("Schema validation failed")
			metrics.ErrorsTotal.WithLabelValues(e.route, method, "schema_validation_failed").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Schema validation failed: %v", err)})
			d.pipeline.finish(c, start, e.route, name, metrics.SourceOverride)
			return
		}
	}

	for key, value := range e.headers {
		c.Header(key, value)
	}

	if e.merge != nil && e.isJSON {
		d.serveMerged(c, e)
	} else {
		c.Data(e.status, e.headers["Content-Type"], e.body)
	}

	d.logger.InfoCtx(ctx).
		Str("route", e.route).
		Int("status_code", e.status).
		Msg("Served override response")

	d.pipeline.finish(c, start, e.route, name, metrics.SourceOverride)
}

// serveMerged applies the merge function to a freshly parsed copy of the
// declared response and the request body.
func (d *Dispatcher) serveMerged(c *gin.Context, e *entry) {
	var doc map[string]any
	if err := json.Unmarshal(e.body, &doc); err != nil {
		d.logger.ErrorCtx(c.Request.Context()).
			Str("route", e.route).
			AnErr("error", err).
			Msg("Override response is not a JSON object, serving it unmerged")
		c.Data(e.status, e.headers["Content-Type"], e.body)
		return
	}
	c.JSON(e.status, e.merge(doc, d.requestBodyMap(c)))
}

// requestBodyMap parses the request body as a JSON object, restoring the body
// for later readers. A missing or non-JSON body yields an empty map.
func (d *Dispatcher) requestBodyMap(c *gin.Context) map[string]any {
	bodyMap := make(map[string]any)
	if c.Request.Body == nil {
		return bodyMap
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return bodyMap
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	if len(body) > 0 {
		if err := json.Unmarshal(body, &bodyMap); err != nil {
			return make(map[string]any)
		}
	}
	return bodyMap
}

// validateRequestBody validates the request body against a JSON schema.
func (d *Dispatcher) validateRequestBody(c *gin.Context, schema *jsonschema.Schema) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return fmt.Errorf("error reading request body: %w", err)
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("error parsing JSON: %w", err)
	}

	return schema.Validate(data)
}

// compileSchema compiles a JSON schema declared inline on an override.
func compileSchema(schemaStr string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()

	var schemaData any
	if err := json.Unmarshal([]byte(schemaStr), &schemaData); err != nil {
		return nil, fmt.Errorf("error parsing schema JSON: %w", err)
	}

	if err := compiler.AddResource("schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("error adding schema resource: %w", err)
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("error compiling schema: %w", err)
	}

	return schema, nil
}
