package internal

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	DefaultSendBuffer     = 256
	DefaultMaxMessageSize = 8192
	DefaultMessageBurst   = 5
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
)

// DefaultMessageRate refills one send_message token every 600ms.
var DefaultMessageRate = rate.Every(600 * time.Millisecond)

// ServerOptions tunes the transport and the relay. Zero values take defaults;
// a negative MessageRate turns rate limiting off.
type ServerOptions struct {
	AllowedOrigins []string
	SendBuffer     int
	MaxMessageSize int64
	MessageRate    rate.Limit
	MessageBurst   int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
}

func (opts *ServerOptions) applyDefaults() {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	switch {
	case opts.MessageRate == 0:
		opts.MessageRate = DefaultMessageRate
	case opts.MessageRate < 0:
		opts.MessageRate = rate.Inf
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = DefaultMessageBurst
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = (opts.PongWait * 9) / 10
	}
}

// Server owns one relay: registry, directory, router and the websocket hub.
// Nothing here is global; every process builds its own.
type Server struct {
	opts     ServerOptions
	logger   *slog.Logger
	metrics  *Metrics
	hub      *Hub
	router   *Router
	origins  *originPolicy
	upgrader websocket.Upgrader
}

func NewServer(opts ServerOptions, logger *slog.Logger) *Server {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	metrics := NewMetrics()
	hub := NewHub(logger, metrics)
	router := NewRouter(RouterDeps{
		Limiter: NewRateLimiter(opts.MessageRate, opts.MessageBurst),
		Sink:    hub,
		Metrics: metrics,
		Logger:  logger,
	})
	s := &Server{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		hub:     hub,
		router:  router,
		origins: newOriginPolicy(opts.AllowedOrigins, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

func (s *Server) Router() *Router {
	return s.router
}

// Handler builds the HTTP surface: health, room listing, metrics and the
// websocket endpoint at wsPath, wrapped in CORS.
func (s *Server) Handler(wsPath string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.HandleRoot).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.HandleRooms).Methods(http.MethodGet)
	r.HandleFunc("/exists", s.HandleRoomExists).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc(wsPath, s.ServeWS)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins.corsOrigins()),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
	)
	return cors(r)
}

// Shutdown hangs up every live connection.
func (s *Server) Shutdown() {
	s.hub.CloseAll()
}

func (s *Server) ConnectionCount() int {
	return s.router.Registry().Len()
}
