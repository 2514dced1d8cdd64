package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pythonquest/auth"
	"pythonquest/game"
	"pythonquest/store"
	"pythonquest/ws"
)

type Server struct {
	router   *mux.Router
	handlers *Handlers
	logger   *zap.Logger
	throttle *Throttle
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Auth      *auth.Service
	Lobby     *game.Lobby
	Engine    *game.Engine
	WSManager *ws.Manager
	Store     store.Store
	Logger    *zap.Logger
	// PublicDir, when set, is served as static files at /.
	PublicDir string
	// AllowedOrigins are the cross-origin frontends trusted with credentials.
	AllowedOrigins []string
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	origins := NewOriginPolicy(d.AllowedOrigins)
	server := &Server{
		router:   mux.NewRouter(),
		handlers: NewHandlers(d.Auth, d.Lobby, d.Engine, d.WSManager, d.Store, logger, origins),
		logger:   logger,
		throttle: NewThrottle(10 * time.Minute),
	}

	server.setupRoutes(d.Auth, d.PublicDir, origins)
	return server
}

func (s *Server) setupRoutes(authService *auth.Service, publicDir string, origins OriginPolicy) {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(CORSMiddleware(origins))

	// SameSite=Lax on the token cookie keeps cross-site POSTs from carrying it.

	// Preflight requests must match a route for the middleware chain to run.
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	s.router.HandleFunc("/healthz", s.handlers.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rooms/{room:[0-9]+}/qr", s.handlers.RoomQR).Methods(http.MethodGet)

	s.router.Handle("/api/auth/register", s.throttle.Middleware(registerLimit)(http.HandlerFunc(s.handlers.Register))).Methods(http.MethodPost)
	s.router.Handle("/api/auth/login", s.throttle.Middleware(loginLimit)(http.HandlerFunc(s.handlers.Login))).Methods(http.MethodPost)

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(AuthMiddleware(authService))

	protected.HandleFunc("/auth/logout", s.handlers.Logout).Methods(http.MethodPost)
	protected.HandleFunc("/auth/user", s.handlers.CurrentUser).Methods(http.MethodGet)

	protected.HandleFunc("/games", s.handlers.ListGames).Methods(http.MethodGet)
	protected.HandleFunc("/games/create", s.handlers.CreateGame).Methods(http.MethodPost)
	protected.HandleFunc("/games/join", s.handlers.JoinGame).Methods(http.MethodPost)
	protected.HandleFunc("/games/{gameId:[0-9]+}/start", s.handlers.StartGame).Methods(http.MethodPost)
	protected.HandleFunc("/games/{gameId:[0-9]+}/leave", s.handlers.LeaveGame).Methods(http.MethodPost)
	protected.HandleFunc("/games/{gameId:[0-9]+}", s.handlers.DeleteGame).Methods(http.MethodDelete)

	gameplay := protected.PathPrefix("/gameplay/{gameId:[0-9]+}").Subrouter()
	gameplay.Use(s.throttle.Middleware(gameplayLimit))
	gameplay.HandleFunc("/roll-dice", s.handlers.RollDice).Methods(http.MethodPost)
	gameplay.HandleFunc("/scan-qr", s.handlers.ScanQR).Methods(http.MethodPost)
	gameplay.HandleFunc("/answer", s.handlers.SubmitAnswer).Methods(http.MethodPost)
	gameplay.HandleFunc("/state", s.handlers.GameState).Methods(http.MethodGet)
	gameplay.HandleFunc("/stats", s.handlers.GameStats).Methods(http.MethodGet)

	s.router.Handle("/ws", AuthMiddleware(authService)(http.HandlerFunc(s.handlers.HandleWebSocket)))

	// Unmatched API routes get a JSON 404 instead of the static fallback.
	s.router.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "Route not found")
	})

	if publicDir != "" {
		s.router.PathPrefix("/").Handler(noCacheHandler(http.FileServer(http.Dir(publicDir))))
	}
}

func noCacheHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		h.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the rate limiter sweep.
func (s *Server) Close() {
	s.throttle.Close()
}

func (s *Server) GetHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
