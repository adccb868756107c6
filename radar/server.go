package radar

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/radarsiope/radar/data"
	"github.com/radarsiope/radar/dispatch"
	"github.com/radarsiope/radar/email"
	"github.com/radarsiope/radar/gate"
	"github.com/radarsiope/radar/notary"
	"github.com/radarsiope/radar/token"
	log "github.com/sirupsen/logrus"
)

// version number - this is overridden at build time to inject the commit hash
var version = "dev"

// maximum number of jobs accepted by one dispatch call
const defaultMaxJobs = 5000

// Server bundles several data types together for dependency injection into http handlers
type Server struct {
	db         data.Store
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	notary     *notary.Notary
	tg         *token.Generator
	bg         *gate.Background
	Router     *mux.Router

	cfg Config
}

// Config contains key configuration parameters to be passed to New()
type Config struct {
	Key             string
	URL             string
	Developing      bool
	UsingLambda     bool
	RestoreRealIP   bool
	RateLimit       int
	AccessThreshold int64
	Location        *time.Location
	ClickBeaconURL  string
	TrackLinks      bool
	LinkTTL         time.Duration
	MaxJobs         int
}

// NewGate builds the access gate described by cfg. The click beacon runs on bg.
func NewGate(cfg Config, db data.Store, bg *gate.Background) *gate.Gate {
	var opts []gate.Option
	if cfg.AccessThreshold > 0 {
		opts = append(opts, gate.WithThreshold(cfg.AccessThreshold))
	}
	if cfg.Location != nil {
		opts = append(opts, gate.WithLocation(cfg.Location))
	}
	if cfg.ClickBeaconURL != "" {
		opts = append(opts, gate.WithBeacon(gate.NewHTTPBeacon(cfg.ClickBeaconURL), bg))
	}

	return gate.New(db, opts...)
}

// NewDispatcher builds the batch dispatcher described by cfg
func NewDispatcher(cfg Config, db data.Store, t email.Transport) *dispatch.Dispatcher {
	opts := []dispatch.Option{dispatch.WithRateLimit(cfg.RateLimit)}
	if cfg.TrackLinks {
		opts = append(opts, dispatch.WithTracker(email.NewTracker(cfg.URL, notary.New(cfg.Key), cfg.linkTTL())))
	}

	return dispatch.New(t, db, opts...)
}

func (c Config) linkTTL() time.Duration {
	if c.LinkTTL <= 0 {
		return 365 * 24 * time.Hour
	}
	return c.LinkTTL
}

// New returns a server with the given settings. The database is started and the transport's
// webhooks are registered when it has any.
func New(cfg Config, db data.Store, transport email.Transport) (*Server, error) {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = defaultMaxJobs
	}

	bg := gate.NewBackground(10 * time.Second)

	s := Server{
		db:         db,
		gate:       NewGate(cfg, db, bg),
		dispatcher: NewDispatcher(cfg, db, transport),
		notary:     notary.New(cfg.Key),
		tg:         token.NewGenerator(cfg.Key, 365*24*time.Hour),
		bg:         bg,
		cfg:        cfg,
	}

	err := s.db.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start database: %w", err)
	}

	s.Router = mux.NewRouter()

	// HTML
	newsletter := alice.New(
		SetVersionHeader,
		NoStore,
		s.SecurityHeaders(true),
	).ThenFunc(s.Newsletter)

	s.Router.Handle("/newsletter", newsletter).Methods(http.MethodGet)
	s.Router.Handle("/n", newsletter).Methods(http.MethodGet)

	// JSON API
	s.Router.Handle("/api/v1/dispatch", alice.New(JSONContentType, s.CheckPermissionJSON).ThenFunc(s.DispatchJSON)).Methods(http.MethodPost)

	// Tracking
	s.Router.Handle("/t/o.gif", alice.New(NoStore).ThenFunc(s.OpenPixel)).Methods(http.MethodGet)
	s.Router.Handle("/t/c", alice.New(NoStore).ThenFunc(s.ClickRedirect)).Methods(http.MethodGet)

	if wp, ok := transport.(email.WebhookProvider); ok {
		wp.RegisterRoutes(s.Router)
	}

	if cfg.RestoreRealIP {
		s.Router.Use(RestoreRealIP)
	}

	s.Router.HandleFunc("/ping", s.Ping)
	s.Router.Handle("/metrics", promhttp.Handler())

	return &s, nil
}

// NewAPIKey returns a key accepted by the dispatch endpoint
func (s *Server) NewAPIKey(clientID string) string {
	return s.tg.NewToken(clientID)
}

// Ping returns PONG when called
func (s *Server) Ping(w http.ResponseWriter, r *http.Request) {
	_, err := w.Write([]byte("PONG"))
	if err != nil {
		log.WithError(err).Error("Ping: failed to write out response")
	}
}
