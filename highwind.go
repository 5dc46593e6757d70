// Package highwind runs a local HTTP stand-in for a production API. Requests
// are answered from response fixtures captured on disk; a request with no
// fixture is fetched once from the configured production root, persisted, and
// served from disk ever after. Declared per-route overrides take precedence
// over the whole pipeline.
package highwind

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/SOLUCIONESSYCOM/scribe"
	"github.com/gin-gonic/gin"

	"github.com/refinery29/highwind/internal/fixture"
	"github.com/refinery29/highwind/internal/handler"
	"github.com/refinery29/highwind/internal/journal"
	"github.com/refinery29/highwind/internal/logger"
	"github.com/refinery29/highwind/internal/metrics"
	"github.com/refinery29/highwind/internal/server"
	"github.com/refinery29/highwind/internal/upstream"
)

// Version is stamped at build time.
var Version = "dev"

// methodOrder fixes the registration order of override groups. For one
// concrete method and route, method-specific overrides must be consulted
// before "all" overrides, so the groups cannot be registered in map order.
var methodOrder = []string{"get", "post", "put", "delete", "all"}

// Record reports one serving port's lifecycle state. Records survive Close;
// only the Active flag changes.
type Record struct {
	Port   int
	Active bool
}

// Server is a running highwind instance: every listener started by one Start
// call, plus the journal feeding off them.
type Server struct {
	manager *server.Manager
	journal *journal.Journal
}

// Start validates the settings, builds the serving pipeline and binds every
// configured port. Either all ports come up and a handle to the running
// instance is returned, or nothing is left listening and the first error
// comes back.
func Start(settings *Settings) (*Server, error) {
	if settings == nil {
		return nil, fmt.Errorf("no settings provided")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(Version, settings.Quiet, settings.LogPath)
	if err != nil {
		return nil, fmt.Errorf("error initializing logger: %w", err)
	}

	enc, err := settings.fixtureEncoding()
	if err != nil {
		return nil, err
	}
	ignore, err := settings.ignorePatterns()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(settings.FixturesPath, 0o755); err != nil {
		return nil, fmt.Errorf("error creating fixtures directory: %w", err)
	}

	var j *journal.Journal
	if settings.JournalPath != "" {
		j, err = journal.Open(settings.JournalPath, journal.Config{}, log)
		if err != nil {
			return nil, fmt.Errorf("error opening journal: %w", err)
		}
	}

	metrics.InitMetrics()

	store := fixture.NewStore(settings.FixturesPath, ignore, enc, log)
	fetcher := upstream.New(settings.ProdRootURL, 0, log)
	pipeline := handler.New(store, fetcher, log, j, settings.save())

	engine, err := buildEngine(settings, pipeline, store, log)
	if err != nil {
		closeJournal(j, log)
		return nil, err
	}

	var root http.Handler = engine
	if len(settings.CORSWhitelist) > 0 {
		root = server.CORS(settings.CORSWhitelist)(root)
	}

	manager := server.NewManager(log)
	if err := manager.Start(root, settings.ports()); err != nil {
		closeJournal(j, log)
		return nil, err
	}

	if settings.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.PromHTTPHandler())
		if err := manager.Start(mux, []int{settings.MetricsPort}); err != nil {
			manager.Close()
			closeJournal(j, log)
			return nil, err
		}
	}

	log.Info().
		Str("prod_root_url", settings.ProdRootURL).
		Str("fixtures_path", settings.FixturesPath).
		Bool("save_fixtures", settings.save()).
		Msg("All servers started")

	return &Server{manager: manager, journal: j}, nil
}

// buildEngine assembles the gin engine: recovery, optional fixed latency,
// override routes, and the fixture/fetch pipeline as the catch-all.
func buildEngine(settings *Settings, pipeline *handler.Handler, store *fixture.Store, log *scribe.Scribe) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if settings.Latency > 0 {
		engine.Use(server.Latency(time.Duration(settings.Latency) * time.Millisecond))
	}

	dispatcher := handler.NewDispatcher(pipeline, store, log, settings.save())
	registered := make(map[string]bool, len(settings.Overrides))
	for _, method := range methodOrder {
		overrides, ok := settings.Overrides[method]
		if !ok {
			continue
		}
		registered[method] = true
		if err := dispatcher.Register(engine, method, convertOverrides(overrides)); err != nil {
			return nil, err
		}
	}
	for method, overrides := range settings.Overrides {
		if registered[method] {
			continue
		}
		if err := dispatcher.Register(engine, method, convertOverrides(overrides)); err != nil {
			return nil, err
		}
	}

	engine.NoRoute(pipeline.Resolve)
	return engine, nil
}

// convertOverrides maps the public override declarations onto the handler's
// registration input.
func convertOverrides(overrides []Override) []handler.Override {
	converted := make([]handler.Override, len(overrides))
	for i, o := range overrides {
		converted[i] = handler.Override{
			Route:           o.Route,
			Response:        o.Response,
			Status:          o.Status,
			Headers:         o.Headers,
			Merge:           handler.MergeFunc(o.MergeParams),
			WithQueryParams: o.WithQueryParams,
			Schema:          o.Schema,
		}
	}
	return converted
}

// Close shuts down the given ports, or every active one when called without
// arguments. It errors when nothing was active. Once no listener remains, the
// journal is flushed and closed as well.
func (s *Server) Close(ports ...int) error {
	err := s.manager.Close(ports...)

	if s.journal != nil && !s.anyActive() {
		if jerr := s.journal.Close(); jerr != nil && err == nil {
			err = fmt.Errorf("error closing journal: %w", jerr)
		}
	}
	return err
}

// Records returns the state of every port this instance ever served on, in
// start order.
func (s *Server) Records() []Record {
	internal := s.manager.Records()
	records := make([]Record, len(internal))
	for i, r := range internal {
		records[i] = Record{Port: r.Port, Active: r.Active}
	}
	return records
}

func (s *Server) anyActive() bool {
	for _, r := range s.manager.Records() {
		if r.Active {
			return true
		}
	}
	return false
}

func closeJournal(j *journal.Journal, log *scribe.Scribe) {
	if j == nil {
		return
	}
	if err := j.Close(); err != nil {
		log.Error().AnErr("error", err).Msg("Error closing journal")
	}
}
